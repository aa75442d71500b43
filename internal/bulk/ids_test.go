package bulk

import (
	"encoding/json"
	"errors"
	"testing"

	"listing_filter/internal/domain"
)

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs([]any{float64(3), "7", json.Number("3"), " 9 "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 7 || ids[2] != 9 {
		t.Fatalf("unexpected ids: %v", ids)
	}

	bad := [][]any{
		nil,
		{float64(0)},
		{float64(-4)},
		{float64(1.5)},
		{"abc"},
		{true},
		{nil},
	}
	for _, raw := range bad {
		_, err := ParseIDs(raw)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error for %v, got %v", raw, err)
		}
	}
}

func TestParseIDsLimit(t *testing.T) {
	raw := make([]any, MaxBatch)
	for i := range raw {
		raw[i] = float64(i + 1)
	}
	if _, err := ParseIDs(raw); err != nil {
		t.Fatalf("expected %d ids to be accepted: %v", MaxBatch, err)
	}

	raw = append(raw, float64(MaxBatch+1))
	var verr *domain.ValidationError
	if _, err := ParseIDs(raw); !errors.As(err, &verr) {
		t.Fatalf("expected validation error above limit, got %v", err)
	}
}

func TestParseIDsAcceptsWideIDs(t *testing.T) {
	ids, err := ParseIDs([]any{float64(5_000_000_000), "9007199254740993", json.Number("4294967296")})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ids) != 3 || ids[0] != 5_000_000_000 || ids[1] != 9007199254740993 || ids[2] != 4294967296 {
		t.Fatalf("unexpected ids: %v", ids)
	}

	// beyond 2^53 a float64 no longer holds the id exactly
	if _, err := ParseIDs([]any{float64(1 << 54)}); err == nil {
		t.Fatal("expected an inexact float id to be rejected")
	}
}
