package tui

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "1.2.3")

	out := buf.String()
	if !strings.Contains(out, "v1.2.3") {
		t.Errorf("expected version in banner, got %q", out)
	}
	if got := strings.Count(out, "\n"); got != len(bannerLines)+3 {
		t.Errorf("expected %d lines, got %d", len(bannerLines)+3, got)
	}
}

func TestNewRenderer(t *testing.T) {
	render := NewRenderer()
	out, err := render("Hello **Ana**\n1) Hours\n2) Bye")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(out, "Ana") {
		t.Errorf("expected rendered text to contain the name, got %q", out)
	}
	if !strings.Contains(out, "Hours") || !strings.Contains(out, "Bye") {
		t.Errorf("menu lines should survive rendering, got %q", out)
	}
}
