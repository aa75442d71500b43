package keyword

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"listing_filter/internal/domain"
)

// DefaultTTL is how long a snapshot is served before it is reloaded.
const DefaultTTL = 300 * time.Second

// DefaultLoadTimeout bounds one shared reload.
const DefaultLoadTimeout = 10 * time.Second

// Loader reads the inputs of a cache snapshot.
type Loader interface {
	ListActiveKeywords(ctx context.Context) ([]domain.Keyword, error)
	ListCountryRestrictions(ctx context.Context, activeOnly bool) ([]domain.CountryRestriction, error)
	ListVeroParticipants(ctx context.Context, activeOnly bool) ([]domain.VeroParticipant, error)
}

type snapshot struct {
	byType   map[domain.KeywordType][]domain.Keyword
	loadedAt time.Time

	// compiled sets, keyed by type and scope
	sets sync.Map
}

// Cache is a time-bounded in-memory snapshot of active keywords.
// Reads are lock-free; concurrent reloads share one load.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	loadTimeout time.Duration
	logger *slog.Logger

	current atomic.Pointer[snapshot]
	reloads atomic.Int64
	// bumped by Invalidate; a load that overlaps a bump is served but not kept
	generation atomic.Int64
	group      singleflight.Group
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithLoadTimeout bounds a reload independently of the caller that started it.
func WithLoadTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// NewCache creates an empty cache; the first read loads it.
func NewCache(loader Loader, ttl time.Duration, logger *slog.Logger, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{loader: loader, ttl: ttl, now: time.Now, logger: logger, loadTimeout: DefaultLoadTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the active keywords of a type, ordered by priority then length.
// For MALL_SPECIFIC and COUNTRY the list holds keywords whose scope equals
// scope plus unscoped keywords of that type; other types ignore scope.
// A failed reload returns an error instead of stale or empty data.
func (c *Cache) Get(ctx context.Context, t domain.KeywordType, scope string) ([]domain.Keyword, error) {
	set, err := c.Set(ctx, t, scope)
	if err != nil {
		return nil, err
	}
	return set.Keywords(), nil
}

// Set is Get returning the compiled form, shared between callers of the
// same snapshot.
func (c *Cache) Set(ctx context.Context, t domain.KeywordType, scope string) (*Set, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !t.RequiresScope() {
		scope = ""
	}
	key := string(t) + "|" + strings.ToLower(scope)
	if v, ok := snap.sets.Load(key); ok {
		return v.(*Set), nil
	}
	list := snap.byType[t]
	if t.RequiresScope() {
		list = scoped(list, scope)
	}
	set := Compile(list)
	v, _ := snap.sets.LoadOrStore(key, set)
	return v.(*Set), nil
}

// All returns every active keyword of every type, unscoped.
func (c *Cache) All(ctx context.Context) (*Set, error) {
	snap, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	const key = "*"
	if v, ok := snap.sets.Load(key); ok {
		return v.(*Set), nil
	}
	all := make([]domain.Keyword, 0)
	for _, t := range domain.KeywordTypes {
		all = append(all, snap.byType[t]...)
	}
	v, _ := snap.sets.LoadOrStore(key, Compile(all))
	return v.(*Set), nil
}

// Invalidate drops the snapshot so the next read reloads.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	c.current.Store(nil)
	c.logger.Debug("keyword cache invalidated")
}

// Info describes the current snapshot for the admin endpoint.
type Info struct {
	Loaded   bool                       `json:"loaded"`
	LoadedAt time.Time                  `json:"loaded_at,omitempty"`
	AgeSec   float64                    `json:"age_seconds"`
	TTLSec   float64                    `json:"ttl_seconds"`
	Stale    bool                       `json:"stale"`
	Reloads  int64                      `json:"reloads"`
	Counts   map[domain.KeywordType]int `json:"counts"`
}

// Info reports snapshot state without triggering a reload.
func (c *Cache) Info() Info {
	info := Info{TTLSec: c.ttl.Seconds(), Reloads: c.reloads.Load(), Counts: map[domain.KeywordType]int{}}
	snap := c.current.Load()
	if snap == nil {
		info.Stale = true
		return info
	}
	age := c.now().Sub(snap.loadedAt)
	info.Loaded = true
	info.LoadedAt = snap.loadedAt
	info.AgeSec = age.Seconds()
	info.Stale = age >= c.ttl
	for t, list := range snap.byType {
		info.Counts[t] = len(list)
	}
	return info
}

func (c *Cache) snapshot(ctx context.Context) (*snapshot, error) {
	if snap := c.current.Load(); snap != nil && c.now().Sub(snap.loadedAt) < c.ttl {
		return snap, nil
	}

	// the shared load outlives its first caller; each caller waits on its own ctx
	ch := c.group.DoChan("reload", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		gen := c.generation.Load()
		fresh, err := c.load(loadCtx)
		if err != nil {
			return nil, err
		}
		if c.generation.Load() == gen {
			c.current.Store(fresh)
		}
		c.reloads.Add(1)
		c.logger.Debug("keyword cache reloaded", "keywords", countAll(fresh))
		return fresh, nil
	})

	select {
	case <-ctx.Done():
		return nil, domain.Infra("load keyword cache", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			c.logger.Error("keyword cache reload failed", "error", res.Err)
			return nil, domain.Infra("load keyword cache", res.Err)
		}
		return res.Val.(*snapshot), nil
	}
}

func (c *Cache) load(ctx context.Context) (*snapshot, error) {
	keywords, err := c.loader.ListActiveKeywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	restrictions, err := c.loader.ListCountryRestrictions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list country restrictions: %w", err)
	}
	participants, err := c.loader.ListVeroParticipants(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list vero participants: %w", err)
	}

	snap := &snapshot{
		byType:   make(map[domain.KeywordType][]domain.Keyword),
		loadedAt: c.now(),
	}
	for _, kw := range keywords {
		if !kw.Active {
			continue
		}
		snap.byType[kw.Type] = append(snap.byType[kw.Type], kw)
	}
	for _, r := range restrictions {
		for _, text := range r.RestrictedKeywords {
			snap.byType[domain.TypeCountry] = append(snap.byType[domain.TypeCountry], domain.Keyword{
				Text:     text,
				Type:     domain.TypeCountry,
				Scope:    strings.ToUpper(r.CountryCode),
				Priority: domain.PriorityHigh,
				Active:   true,
				Note:     "restriction:" + r.RestrictionType,
			})
		}
	}
	for _, p := range participants {
		for _, text := range p.ProtectedKeywords {
			snap.byType[domain.TypeVero] = append(snap.byType[domain.TypeVero], domain.Keyword{
				Text:     text,
				Type:     domain.TypeVero,
				Priority: domain.PriorityHigh,
				Active:   true,
				Note:     "vero:" + p.BrandName,
			})
		}
	}
	for t := range snap.byType {
		SortKeywords(snap.byType[t])
	}
	return snap, nil
}

// scoped keeps unscoped keywords and those whose scope matches.
func scoped(list []domain.Keyword, scope string) []domain.Keyword {
	out := make([]domain.Keyword, 0, len(list))
	for _, kw := range list {
		if kw.Scope == "" || strings.EqualFold(kw.Scope, scope) {
			out = append(out, kw)
		}
	}
	return out
}

func countAll(snap *snapshot) int {
	n := 0
	for _, list := range snap.byType {
		n += len(list)
	}
	return n
}
