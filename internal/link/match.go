package link

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Matcher selects interfaces by name with shell-like patterns such as
// "wpan*" or "eth[01]".
type Matcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewMatcher compiles the patterns.
func NewMatcher(patterns ...string) (*Matcher, error) {
	m := &Matcher{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile interface pattern %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// Match reports whether name matches any pattern.
func (m *Matcher) Match(name string) bool {
	for _, g := range m.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Select returns the names matching any pattern, keeping their order.
func (m *Matcher) Select(names []string) []string {
	var out []string
	for _, name := range names {
		if m.Match(name) {
			out = append(out, name)
		}
	}
	return out
}

func (m *Matcher) String() string {
	return fmt.Sprintf("%v", m.patterns)
}
