package query

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Predicate matches dataset names.
type Predicate func(name string) bool

// aliasValues enumerates the semantic aliases and their admitted values.
// An alias is a named predicate over dataset names: the value must appear as
// a hyphen- or dot-delimited token of the name, so `env:dev` selects
// `api-dev` and `db-dev` but not `devils-advocate`.
var aliasValues = map[string][]string{
	"env":    {"dev", "prod"},
	"src":    {"code", "docs"},
	"ver":    {"latest", "stable"},
	"branch": {"main"},
}

// Compile turns one dataset pattern into a predicate. Supported forms:
// empty or `*` (everything), semantic aliases (`env:dev`), globs with `*`
// and `?`, and exact names.
func Compile(pattern string) (Predicate, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }, nil
	}

	if key, value, ok := strings.Cut(pattern, ":"); ok {
		values, known := aliasValues[key]
		if !known {
			return nil, fmt.Errorf("unknown dataset alias %q", key)
		}
		valid := false
		for _, v := range values {
			if v == value {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("alias %s does not admit %q", key, value)
		}
		return func(name string) bool {
			return hasToken(name, value)
		}, nil
	}

	if strings.ContainsAny(pattern, "*?") {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid dataset glob %q: %w", pattern, err)
		}
		return g.Match, nil
	}

	return func(name string) bool { return name == pattern }, nil
}

// CompileAll unions patterns into one predicate and reports the patterns
// that failed to compile. No patterns means match-everything.
func CompileAll(patterns []string) (Predicate, []string) {
	if len(patterns) == 0 {
		return func(string) bool { return true }, nil
	}

	var (
		preds   []Predicate
		invalid []string
	)
	for _, p := range patterns {
		pred, err := Compile(p)
		if err != nil {
			invalid = append(invalid, p)
			continue
		}
		preds = append(preds, pred)
	}
	if len(preds) == 0 {
		return func(string) bool { return false }, invalid
	}

	return func(name string) bool {
		for _, pred := range preds {
			if pred(name) {
				return true
			}
		}
		return false
	}, invalid
}

// hasToken reports whether value appears as a delimited token of name.
func hasToken(name, value string) bool {
	for _, tok := range strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == '/'
	}) {
		if tok == value {
			return true
		}
	}
	return false
}
