// Package filter selects tests by name with comma separated glob patterns.
//
// A test name has the form "<suite>.<test>". Patterns are applied in two
// stages: early filters see only the suite (so whole suites can be skipped
// before their tests are enumerated) and late filters see the full name.
package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

type pattern struct {
	text string
	g    glob.Glob
}

type Filter struct {
	early []pattern
	late  []pattern
	// suites holds the patterns without a '.', which select whole suites.
	suites []pattern
}

// Parse builds a Filter from a string such as "libc++.std/thread*,gtest".
// An empty string matches everything.
func Parse(s string) (*Filter, error) {
	f := &Filter{}
	if strings.TrimSpace(s) == "" {
		return f, nil
	}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := f.add(p); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Filter) add(p string) error {
	earlyText := p
	if idx := strings.IndexByte(p, '.'); idx >= 0 {
		g, err := glob.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid filter %q: %w", p, err)
		}
		f.late = append(f.late, pattern{text: p, g: g})
		earlyText = p[:idx]
	}
	g, err := glob.Compile(earlyText)
	if err != nil {
		return fmt.Errorf("invalid filter %q: %w", p, err)
	}
	f.early = append(f.early, pattern{text: earlyText, g: g})
	if earlyText == p {
		f.suites = append(f.suites, pattern{text: p, g: g})
	}
	return nil
}

// Match reports whether name passes the filter. Names without a '.' are
// checked against the early filters. Full names pass a late filter or belong
// to a suite selected by a pattern without a '.'. A stage with no patterns
// accepts everything.
func (f *Filter) Match(name string) bool {
	suite, _, dotted := strings.Cut(name, ".")
	if !dotted {
		return matchAny(f.early, name)
	}
	if len(f.late) == 0 {
		return true
	}
	return matchAny(f.late, name) || (len(f.suites) > 0 && matchAny(f.suites, suite))
}

func matchAny(set []pattern, name string) bool {
	if len(set) == 0 {
		return true
	}
	for _, p := range set {
		if p.g.Match(name) {
			return true
		}
	}
	return false
}

// MatchSuite applies only the early filters.
func (f *Filter) MatchSuite(suite string) bool {
	return matchAny(f.early, suite)
}

func (f *Filter) String() string {
	var parts []string
	for _, p := range f.early {
		parts = append(parts, p.text)
	}
	return strings.Join(parts, ",")
}
