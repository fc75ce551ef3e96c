// Package template renders "{{ path }}" placeholders against an evaluation context.
package template

import (
	"regexp"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// Resolver resolves dot-paths. domain.EvalContext implements it.
type Resolver interface {
	Lookup(path string) (any, bool)
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Render replaces every placeholder with the resolved value. Unresolved paths
// and nil values render as "". Text outside placeholders is left untouched.
func Render(tpl string, r Resolver) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	return placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		path := placeholderRe.FindStringSubmatch(m)[1]
		if r == nil || path == "" {
			return ""
		}
		v, ok := r.Lookup(path)
		if !ok {
			return ""
		}
		return domain.FormatValue(v)
	})
}

// Placeholders lists the paths referenced by tpl in order of appearance.
func Placeholders(tpl string) []string {
	matches := placeholderRe.FindAllStringSubmatch(tpl, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
