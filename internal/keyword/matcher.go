package keyword

import (
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"listing_filter/internal/domain"
)

// Match types reported on each Record.
const (
	MatchSubstring = "substring"
	MatchExactWord = "exact_word"
	MatchPartial   = "partial"
)

// partialMinRunes is the minimum keyword length for the partial rule.
const partialMinRunes = 3

// Record is one hit produced by the match engine. A single keyword may
// yield several records, one per rule that fired.
type Record struct {
	Keyword   domain.Keyword `json:"-"`
	Text      string         `json:"keyword"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Position  int            `json:"position"`
	MatchType string         `json:"match_type"`
}

// keywordEntry stores a keyword with its normalized form.
type keywordEntry struct {
	kw      domain.Keyword
	raw     string
	runes   int
	pattern int
}

// Set is a compiled, immutable keyword list ready for matching.
type Set struct {
	entries  []keywordEntry
	patterns []string

	// cloudflare's Matcher keeps per-call state; each Match borrows its own.
	matchers sync.Pool
}

// Compile normalizes and orders keywords for matching. Keywords that
// normalize to an empty string are dropped.
func Compile(keywords []domain.Keyword) *Set {
	sorted := make([]domain.Keyword, len(keywords))
	copy(sorted, keywords)
	SortKeywords(sorted)

	s := &Set{entries: make([]keywordEntry, 0, len(sorted))}
	patternIdx := make(map[string]int)

	for _, kw := range sorted {
		normalized := Normalize(kw.Text)
		if normalized == "" {
			continue
		}
		idx, ok := patternIdx[normalized]
		if !ok {
			idx = len(s.patterns)
			patternIdx[normalized] = idx
			s.patterns = append(s.patterns, normalized)
		}
		s.entries = append(s.entries, keywordEntry{
			kw:      kw,
			raw:     normalized,
			runes:   utf8.RuneCountInString(normalized),
			pattern: idx,
		})
	}

	if len(s.patterns) > 0 {
		patterns := s.patterns
		s.matchers.New = func() any { return ahocorasick.NewStringMatcher(patterns) }
		s.matchers.Put(ahocorasick.NewStringMatcher(patterns))
	}
	return s
}

// MatchAll compiles keywords and matches text in one call.
func MatchAll(text string, keywords []domain.Keyword) []Record {
	return Compile(keywords).Match(text)
}

// Len returns the number of usable keywords in the set.
func (s *Set) Len() int { return len(s.entries) }

// Keywords returns the set's keywords in match order.
func (s *Set) Keywords() []domain.Keyword {
	out := make([]domain.Keyword, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.kw)
	}
	return out
}

// Match applies the three matching rules to every keyword:
//  1. substring containment in the normalized text
//  2. equality with a token split on whitespace, '-', '_' or '.'
//  3. substring containment again for keywords of 3+ runes
//
// Rules fire independently, so one keyword can produce up to three records.
// Records are ordered by priority, highest first.
func (s *Set) Match(text string) []Record {
	normalized := Normalize(text)
	if normalized == "" || len(s.entries) == 0 {
		return nil
	}

	contained := make(map[int]bool)
	ac := s.matchers.Get().(*ahocorasick.Matcher)
	hits := ac.Match([]byte(normalized))
	s.matchers.Put(ac)
	for _, h := range hits {
		contained[h] = true
	}

	tokens := tokenize(normalized)

	records := make([]Record, 0)
	for _, e := range s.entries {
		if contained[e.pattern] {
			records = append(records, newRecord(e, runeIndex(normalized, e.raw), MatchSubstring))
		}
		if pos, ok := tokens[e.raw]; ok {
			records = append(records, newRecord(e, pos, MatchExactWord))
		}
		// Same test as rule 1 for keywords of 3+ runes; kept as its own rule so
		// the record stream matches what downstream reports expect.
		if e.runes >= partialMinRunes && strings.Contains(normalized, e.raw) {
			records = append(records, newRecord(e, runeIndex(normalized, e.raw), MatchPartial))
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return domain.Priority(records[i].Priority).Rank() > domain.Priority(records[j].Priority).Rank()
	})
	return records
}

func newRecord(e keywordEntry, pos int, matchType string) Record {
	return Record{
		Keyword:   e.kw,
		Text:      e.kw.Text,
		Type:      string(e.kw.Type),
		Priority:  string(e.kw.Priority),
		Position:  pos,
		MatchType: matchType,
	}
}

// SortKeywords orders keywords by priority descending, then by length
// descending so the most specific keyword of a priority comes first.
func SortKeywords(keywords []domain.Keyword) {
	sort.SliceStable(keywords, func(i, j int) bool {
		ri, rj := keywords[i].Priority.Rank(), keywords[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return utf8.RuneCountInString(keywords[i].Text) > utf8.RuneCountInString(keywords[j].Text)
	})
}

// Normalize folds width and case and collapses whitespace:
//   - full-width ASCII to half-width, half-width kana to full-width
//   - Unicode NFKC composition
//   - lower case
//   - any run of Unicode spaces to a single ASCII space
func Normalize(text string) string {
	text = width.Fold.String(text)
	text = norm.NFKC.String(text)
	text = strings.ToLower(text)
	return strings.Join(strings.Fields(text), " ")
}

func isTokenSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == '-' || r == '_' || r == '.'
}

// tokenize maps each token to the rune offset of its first occurrence.
func tokenize(text string) map[string]int {
	tokens := make(map[string]int)
	start := -1
	startRune := 0
	runePos := 0
	for i, r := range text {
		if isTokenSeparator(r) {
			if start >= 0 {
				addToken(tokens, text[start:i], startRune)
				start = -1
			}
		} else if start < 0 {
			start = i
			startRune = runePos
		}
		runePos++
	}
	if start >= 0 {
		addToken(tokens, text[start:], startRune)
	}
	return tokens
}

func addToken(tokens map[string]int, token string, pos int) {
	if _, exists := tokens[token]; !exists {
		tokens[token] = pos
	}
}

func runeIndex(text, sub string) int {
	idx := strings.Index(text, sub)
	if idx < 0 {
		return -1
	}
	return utf8.RuneCountInString(text[:idx])
}

// Detection groups the records of one keyword.
type Detection struct {
	Keyword    domain.Keyword `json:"-"`
	Text       string         `json:"keyword"`
	Type       string         `json:"type"`
	Scope      string         `json:"scope,omitempty"`
	Priority   string         `json:"priority"`
	Position   int            `json:"position"`
	MatchTypes []string       `json:"match_types"`
}

// Distinct collapses records to one Detection per keyword, preserving the
// order in which keywords first appear.
func Distinct(records []Record) []Detection {
	index := make(map[string]int)
	out := make([]Detection, 0)
	for _, r := range records {
		key := identity(r.Keyword)
		if i, ok := index[key]; ok {
			out[i].MatchTypes = appendUnique(out[i].MatchTypes, r.MatchType)
			continue
		}
		index[key] = len(out)
		out = append(out, Detection{
			Keyword:    r.Keyword,
			Text:       r.Keyword.Text,
			Type:       string(r.Keyword.Type),
			Scope:      r.Keyword.Scope,
			Priority:   string(r.Keyword.Priority),
			Position:   r.Position,
			MatchTypes: []string{r.MatchType},
		})
	}
	return out
}

func identity(kw domain.Keyword) string {
	return string(kw.Type) + "\x00" + strings.ToLower(kw.Scope) + "\x00" + Normalize(kw.Text)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// JoinTexts renders detections as the comma-joined string stored on products.
func JoinTexts(detections []Detection) string {
	texts := make([]string, 0, len(detections))
	for _, d := range detections {
		texts = append(texts, d.Text)
	}
	return strings.Join(texts, ",")
}
