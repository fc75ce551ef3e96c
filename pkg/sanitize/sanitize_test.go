package sanitize

import (
	"errors"
	"strings"
	"testing"
)

func TestText_SizeLimit(t *testing.T) {
	limit := 4096

	tests := []struct {
		name      string
		inputSize int
		wantErr   bool
	}{
		{"Under Limit", limit - 1, false},
		{"Exact Limit", limit, false},
		{"Over Limit", limit + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Text(strings.Repeat("a", tt.inputSize))
			if tt.wantErr {
				if !errors.Is(err, ErrInputTooLarge) {
					t.Errorf("Text() expected ErrInputTooLarge for size %d, got %v", tt.inputSize, err)
				}
			} else if err != nil {
				t.Errorf("Text() unexpected error: %v", err)
			}
		})
	}
}

func TestText_ControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Normal Text", "Olá, tudo bem?", "Olá, tudo bem?"},
		{"Safe Controls", "Line1\nLine2\tTabbed", "Line1\nLine2\tTabbed"},
		{"ANSI Code", "\x1b[31mRed\x1b[0m", "[31mRed[0m"},
		{"Null Byte", "Null\x00Byte", "NullByte"},
		{"Bell", "Ding\x07", "Ding"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Text(tt.input)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestText_InvalidUTF8(t *testing.T) {
	if _, err := Text("bad\xff"); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("Expected ErrInvalidUTF8, got %v", err)
	}
}

func TestText_EnvOverride(t *testing.T) {
	t.Setenv(EnvMaxInputSize, "10")

	if _, err := Text("12345678901"); err == nil {
		t.Error("Expected error for input > 10 when env var is set")
	}
	if _, err := Text("12345"); err != nil {
		t.Error("Unexpected error for valid input")
	}

	t.Setenv(EnvMaxInputSize, "zero")
	if got := MaxInputSize(); got != DefaultMaxInputSize {
		t.Errorf("Expected default for invalid override, got %d", got)
	}
}

func TestPayload(t *testing.T) {
	in := map[string]any{
		"text": "hi\x1b",
		"meta": map[string]any{"name": "Ana\x00"},
		"tags": []any{"a\x07", 1.0},
		"n":    42.0,
	}
	out, err := Payload(in)
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if out["text"] != "hi" {
		t.Errorf("text = %q", out["text"])
	}
	if out["meta"].(map[string]any)["name"] != "Ana" {
		t.Errorf("nested value not cleaned: %v", out["meta"])
	}
	if out["tags"].([]any)[0] != "a" || out["tags"].([]any)[1] != 1.0 {
		t.Errorf("slice not cleaned: %v", out["tags"])
	}
	if in["text"] != "hi\x1b" {
		t.Error("Payload modified its input")
	}

	if _, err := Payload(map[string]any{"bad": "x\xff"}); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("Expected ErrInvalidUTF8, got %v", err)
	}
	if out, err := Payload(nil); err != nil || out != nil {
		t.Errorf("nil payload should pass through, got %v %v", out, err)
	}
}
