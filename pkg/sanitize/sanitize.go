// Package sanitize cleans inbound user text before it reaches the engine.
package sanitize

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxInputSize is the byte limit per text value.
	DefaultMaxInputSize = 4096
	// EnvMaxInputSize overrides DefaultMaxInputSize.
	EnvMaxInputSize = "TENDRIL_MAX_INPUT_SIZE"
)

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// Text enforces the size limit, validates UTF-8 and strips control
// characters other than newline, tab and carriage return.
func Text(input string) (string, error) {
	return TextWithLimit(input, MaxInputSize())
}

// TextWithLimit is Text with an explicit byte limit.
func TextWithLimit(input string, limit int) (string, error) {
	// reject rather than truncate so menu keys never change meaning
	if len(input) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}

	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	if strings.IndexFunc(input, unsafeControl) < 0 {
		return input, nil
	}
	return strings.Map(func(r rune) rune {
		if unsafeControl(r) {
			return -1
		}
		return r
	}, input), nil
}

// Payload cleans every string value of an inbound payload, recursing into
// nested maps and slices. The input map is not modified.
func Payload(p map[string]any) (map[string]any, error) {
	if p == nil {
		return nil, nil
	}
	out, err := value(p, MaxInputSize())
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func value(v any, limit int) (any, error) {
	switch t := v.(type) {
	case string:
		return TextWithLimit(t, limit)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			clean, err := value(val, limit)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = clean
		}
		return m, nil
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			clean, err := value(val, limit)
			if err != nil {
				return nil, err
			}
			s[i] = clean
		}
		return s, nil
	}
	return v, nil
}

func unsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}

// MaxInputSize returns the limit from TENDRIL_MAX_INPUT_SIZE or the default.
func MaxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}
