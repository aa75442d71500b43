package bulk

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"listing_filter/internal/domain"
)

// MaxBatch is the largest id list one bulk call accepts.
const MaxBatch = 1000

// maxExactFloat is the largest integer a JSON number decoded as float64
// holds exactly.
const maxExactFloat = 1 << 53

// ParseIDs validates raw JSON product ids: positive integers given as
// numbers or numeric strings. Duplicates are dropped, first occurrence order
// is kept.
func ParseIDs(raw []any) ([]uint, error) {
	return ParseIDList("productIds", raw)
}

// ParseIDList is ParseIDs with field naming the list in error messages.
func ParseIDList(field string, raw []any) ([]uint, error) {
	if len(raw) == 0 {
		return nil, domain.Invalid("%s must not be empty", field)
	}
	if len(raw) > MaxBatch {
		return nil, domain.Invalid("%s exceeds the limit of %d (got %d)", field, MaxBatch, len(raw))
	}

	seen := make(map[uint]bool, len(raw))
	ids := make([]uint, 0, len(raw))
	for _, v := range raw {
		id, ok := toID(v)
		if !ok {
			return nil, domain.Invalid("invalid id %v in %s: must be a positive integer", v, field)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// ValidateIDs applies the ParseIDs rules to already typed ids.
func ValidateIDs(ids []uint) ([]uint, error) {
	raw := make([]any, len(ids))
	for i, id := range ids {
		raw[i] = float64(id)
	}
	return ParseIDs(raw)
}

func toID(v any) (uint, bool) {
	switch n := v.(type) {
	case float64:
		if n < 1 || n != math.Trunc(n) || n > maxExactFloat {
			return 0, false
		}
		return uint(n), true
	case json.Number:
		return parseID(n.String())
	case string:
		return parseID(n)
	case int:
		if n < 1 {
			return 0, false
		}
		return uint(n), true
	case int64:
		if n < 1 {
			return 0, false
		}
		return uint(n), true
	case uint:
		return n, n > 0
	}
	return 0, false
}

func parseID(s string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, strconv.IntSize)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
