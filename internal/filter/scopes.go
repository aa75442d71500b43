package filter

import (
	"sort"
	"strings"
)

// ScopeList is an allow-list of mall names or country codes. Lookups are
// case-insensitive and return the configured spelling.
type ScopeList struct {
	names map[string]string
	upper bool
}

// NewScopeList builds an allow-list. Country lists pass upper=true so codes
// are canonicalized to upper case. An empty list of countries accepts any
// two-letter code; an empty mall list accepts nothing.
func NewScopeList(names []string, upper bool) ScopeList {
	l := ScopeList{names: make(map[string]string, len(names)), upper: upper}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if upper {
			name = strings.ToUpper(name)
		}
		l.names[strings.ToLower(name)] = name
	}
	return l
}

// Canonical returns the configured spelling of name.
func (l ScopeList) Canonical(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if v, ok := l.names[strings.ToLower(name)]; ok {
		return v, true
	}
	if l.upper && len(l.names) == 0 && isCountryCode(name) {
		return strings.ToUpper(name), true
	}
	return "", false
}

// Names lists the allowed values in sorted order.
func (l ScopeList) Names() []string {
	out := make([]string, 0, len(l.names))
	for _, v := range l.names {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
