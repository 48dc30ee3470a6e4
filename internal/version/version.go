package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/promptline"

// buildVersion is set via -ldflags "-X pkt.systems/promptline/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Module    string
	Version   string
	Revision  string
	Modified  bool
	GoVersion string
}

// String renders the info on one line.
func (i Info) String() string {
	s := fmt.Sprintf("%s %s", i.Module, i.Version)
	if i.Revision != "" {
		s += " (" + i.Revision
		if i.Modified {
			s += ", modified"
		}
		s += ")"
	}
	return s + " " + i.GoVersion
}

// Read collects version information from build settings.
func Read() Info {
	info := Info{Module: defaultModule, Version: Current(), GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if path := strings.TrimSpace(bi.Main.Path); path != "" {
		info.Module = path
	}
	settings := vcsSettings(bi)
	info.Revision = shortRevision(settings.revision)
	info.Modified = settings.modified
	return info
}

// Current returns the best available version string.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return strings.TrimSuffix(v, "+dirty")
	}
	bi, ok := debug.ReadBuildInfo()
	if ok {
		if v := strings.TrimSpace(bi.Main.Version); v != "" && v != "(devel)" {
			return strings.TrimSuffix(v, "+dirty")
		}
		if v := pseudoVersion(vcsSettings(bi)); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

type vcs struct {
	revision string
	time     string
	modified bool
}

func vcsSettings(bi *debug.BuildInfo) vcs {
	var out vcs
	if bi == nil {
		return out
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			out.revision = setting.Value
		case "vcs.time":
			out.time = setting.Value
		case "vcs.modified":
			out.modified = setting.Value == "true"
		}
	}
	return out
}

// pseudoVersion builds a Go-style pseudo version from VCS settings.
func pseudoVersion(v vcs) string {
	if v.revision == "" || v.time == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, v.time)
	if err != nil {
		return ""
	}
	return "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + shortRevision(v.revision)
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
