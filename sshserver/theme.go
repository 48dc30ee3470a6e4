package sshserver

import (
	"strconv"

	"pkt.systems/promptline/schema"
)

type rgb struct {
	r int
	g int
	b int
}

// tuiTheme colors the status bar under the transcript.
type tuiTheme struct {
	Name     string
	StatusBG rgb
	StatusFG rgb
	BusyFG   rgb
}

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
)

var tuiThemes = map[schema.ThemeName]tuiTheme{
	"outrun": {
		Name:     "outrun",
		StatusBG: rgb{r: 32, g: 8, b: 56},
		StatusFG: rgb{r: 240, g: 241, b: 255},
		BusyFG:   rgb{r: 255, g: 91, b: 189},
	},
	"gruvbox": {
		Name:     "gruvbox",
		StatusBG: rgb{r: 60, g: 56, b: 54},
		StatusFG: rgb{r: 235, g: 219, b: 178},
		BusyFG:   rgb{r: 250, g: 189, b: 47},
	},
	"tokyo-midnight": {
		Name:     "tokyo-midnight",
		StatusBG: rgb{r: 26, g: 27, b: 38},
		StatusFG: rgb{r: 192, g: 202, b: 245},
		BusyFG:   rgb{r: 187, g: 154, b: 247},
	},
}

// themeForName resolves a configured theme, falling back to the default for
// unknown names.
func themeForName(name string) tuiTheme {
	if normalized, ok := schema.NormalizeThemeName(name); ok {
		if theme, ok := tuiThemes[normalized]; ok {
			return theme
		}
	}
	return tuiThemes[schema.DefaultTheme]
}

func ansiFgRGB(c rgb) string {
	return "\x1b[38;2;" + strconv.Itoa(c.r) + ";" + strconv.Itoa(c.g) + ";" + strconv.Itoa(c.b) + "m"
}

func ansiBgRGB(c rgb) string {
	return "\x1b[48;2;" + strconv.Itoa(c.r) + ";" + strconv.Itoa(c.g) + ";" + strconv.Itoa(c.b) + "m"
}
