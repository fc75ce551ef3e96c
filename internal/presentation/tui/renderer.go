package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// NewRenderer returns a function that renders bot replies as markdown.
// Line breaks are preserved so menu options stay one per line.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(80),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return func(s string) (string, error) { return s, nil }
	}

	return func(markdown string) (string, error) {
		out, err := r.Render(markdown)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	}
}

// IsInteractive reports whether stdout is a terminal, so styled output is safe.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
