package filter

import (
	"context"
	"sync"
	"time"

	"listing_filter/internal/domain"
	"listing_filter/internal/keyword"
)

type memLoader struct {
	mu           sync.Mutex
	keywords     []domain.Keyword
	restrictions []domain.CountryRestriction
	participants []domain.VeroParticipant
	err          error
}

func (l *memLoader) add(kw domain.Keyword) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kw.Active = true
	if kw.ID == 0 {
		kw.ID = uint(len(l.keywords) + 1)
	}
	l.keywords = append(l.keywords, kw)
}

func (l *memLoader) ListActiveKeywords(ctx context.Context) ([]domain.Keyword, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return append([]domain.Keyword(nil), l.keywords...), nil
}

func (l *memLoader) ListCountryRestrictions(ctx context.Context, activeOnly bool) ([]domain.CountryRestriction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.restrictions, l.err
}

func (l *memLoader) ListVeroParticipants(ctx context.Context, activeOnly bool) ([]domain.VeroParticipant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.participants, l.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(loader *memLoader) (*keyword.Cache, *clock) {
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return keyword.NewCache(loader, keyword.DefaultTTL, nil, keyword.WithClock(clk.Now)), clk
}

type idRecorder struct {
	mu  sync.Mutex
	ids []uint
}

func (r *idRecorder) Record(ids ...uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if id != 0 {
			r.ids = append(r.ids, id)
		}
	}
}

func (r *idRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// stageWithDetections fabricates an evaluated stage with n distinct detections.
func stageWithDetections(t domain.KeywordType, n int) StageResult {
	res := StageResult{Stage: t.StageName(), Type: t, Evaluated: true, Passed: n == 0, Detected: []keyword.Detection{}}
	for i := 0; i < n; i++ {
		res.Detected = append(res.Detected, keyword.Detection{Text: string(rune('a' + i))})
	}
	return res
}
