package schema

import "testing"

func TestNormalizeThemeName(t *testing.T) {
	cases := []struct {
		in   string
		want ThemeName
		ok   bool
	}{
		{"outrun", "outrun", true},
		{" Outrun_Electric ", "outrun", true},
		{"GRUVBOX", "gruvbox", true},
		{"tokyo", "tokyo-midnight", true},
		{"tokyo_midnight", "tokyo-midnight", true},
		{"", "", false},
		{"solarized", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeThemeName(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeThemeName(%q) = %q %v, want %q %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
	for _, name := range AvailableThemes() {
		if got, ok := NormalizeThemeName(string(name)); !ok || got != name {
			t.Fatalf("available theme %q does not normalize to itself", name)
		}
	}
}
