package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []string{
	"  _____              _      _ _ ",
	" |_   _|__ _ __   __| |_ __(_) |",
	"   | |/ _ \\ '_ \\ / _` | '__| | |",
	"   | |  __/ | | | (_| | |  | | |",
	"   |_|\\___|_| |_|\\__,_|_|  |_|_|",
}

var bannerColors = []string{"#34d399", "#10b981", "#14b8a6", "#06b6d4", "#0ea5e9"}

// PrintBanner writes the Tendril ASCII art banner followed by the version.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()

	fmt.Fprintln(w)
	for i, line := range bannerLines {
		fmt.Fprintln(w, termenv.String(line).Foreground(p.Color(bannerColors[i])))
	}
	if version != "" {
		fmt.Fprintln(w, termenv.String("   v"+version).Faint())
	}
	fmt.Fprintln(w)
}
