// Package refspec expands bookmark-selection expressions into the positive
// and negative fetch refspecs Git understands, and formats the refspecs and
// force-with-lease arguments used for fetch and push.
package refspec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

var ErrInvalidPattern = errors.New("invalid string pattern")

type patternKind int

const (
	patternExact patternKind = iota
	patternGlob
	patternSubstring
)

// StringPattern matches bookmark names. A pattern is exact text, a glob, or
// a substring.
type StringPattern struct {
	kind patternKind
	text string
	g    glob.Glob
}

func ExactPattern(text string) StringPattern {
	return StringPattern{kind: patternExact, text: text}
}

func GlobPattern(text string) (StringPattern, error) {
	g, err := glob.Compile(text)
	if err != nil {
		return StringPattern{}, fmt.Errorf("%w: glob %q: %v", ErrInvalidPattern, text, err)
	}
	return StringPattern{kind: patternGlob, text: text, g: g}, nil
}

func SubstringPattern(text string) StringPattern {
	return StringPattern{kind: patternSubstring, text: text}
}

// ParsePattern reads the "kind:text" syntax used in settings. A bare string
// is an exact pattern.
func ParsePattern(s string) (StringPattern, error) {
	kind, text, found := strings.Cut(s, ":")
	if !found {
		return ExactPattern(s), nil
	}
	switch kind {
	case "exact":
		return ExactPattern(text), nil
	case "glob":
		return GlobPattern(text)
	case "substring":
		return SubstringPattern(text), nil
	default:
		return StringPattern{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidPattern, kind)
	}
}

func (p StringPattern) IsExact() bool {
	return p.kind == patternExact
}

// MatchesEverything reports whether the pattern is the unrestricted glob.
func (p StringPattern) MatchesEverything() bool {
	return p.kind == patternGlob && p.text == "*"
}

func (p StringPattern) Matches(name string) bool {
	switch p.kind {
	case patternExact:
		return name == p.text
	case patternGlob:
		return p.g.Match(name)
	case patternSubstring:
		return strings.Contains(name, p.text)
	}
	return false
}

// AsGlobText renders the pattern as glob syntax, escaping metacharacters in
// non-glob patterns.
func (p StringPattern) AsGlobText() string {
	switch p.kind {
	case patternExact:
		return escapeGlob(p.text)
	case patternGlob:
		return p.text
	case patternSubstring:
		return "*" + escapeGlob(p.text) + "*"
	}
	return ""
}

func (p StringPattern) String() string {
	switch p.kind {
	case patternGlob:
		return "glob:" + p.text
	case patternSubstring:
		return "substring:" + p.text
	}
	return p.text
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			sb.WriteByte('[')
			sb.WriteRune(r)
			sb.WriteByte(']')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
