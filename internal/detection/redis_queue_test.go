package detection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"listing_filter/internal/domain"
)

type countSink struct {
	mu     sync.Mutex
	counts map[uint]int64
}

func (s *countSink) AddDetectionCounts(ctx context.Context, counts map[uint]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range counts {
		s.counts[id] += n
	}
	return nil
}

func newRedisQueue(t *testing.T) (*RedisQueue, *countSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := &countSink{counts: make(map[uint]int64)}
	return NewRedisQueue(client, "test:detections", sink, nil), sink, mr
}

func TestRedisQueueFlushAppliesPrefix(t *testing.T) {
	ctx := context.Background()
	q, sink, _ := newRedisQueue(t)

	now := time.Now()
	err := q.Enqueue(ctx, []domain.Increment{
		{KeywordID: 1, DetectedAt: now},
		{KeywordID: 1, DetectedAt: now},
		{KeywordID: 2, DetectedAt: now},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := q.Flush(ctx, 2)
	if err != nil || n != 2 {
		t.Fatalf("first flush: n=%d err=%v", n, err)
	}
	if sink.counts[1] != 2 || sink.counts[2] != 0 {
		t.Fatalf("unexpected counts after first flush: %+v", sink.counts)
	}

	left, _ := q.Len(ctx)
	if left != 1 {
		t.Fatalf("expected 1 entry left, got %d", left)
	}

	n, err = q.Flush(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("second flush: n=%d err=%v", n, err)
	}
	if sink.counts[2] != 1 {
		t.Fatalf("unexpected counts after second flush: %+v", sink.counts)
	}
}

func TestRedisQueueSkipsWhileLocked(t *testing.T) {
	ctx := context.Background()
	q, sink, mr := newRedisQueue(t)

	if err := q.Enqueue(ctx, []domain.Increment{{KeywordID: 3, DetectedAt: time.Now()}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := mr.Set("test:detections:lock", "someone-else"); err != nil {
		t.Fatalf("set lock: %v", err)
	}

	n, err := q.Flush(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("locked flush: n=%d err=%v", n, err)
	}
	if len(sink.counts) != 0 {
		t.Fatalf("locked flush must not apply counts: %+v", sink.counts)
	}
	if v, _ := mr.Get("test:detections:lock"); v != "someone-else" {
		t.Fatalf("foreign lock must not be released, got %q", v)
	}
}

func TestCounterOverRedisQueue(t *testing.T) {
	ctx := context.Background()
	q, sink, _ := newRedisQueue(t)
	c := NewCounter(q, Options{}, nil)

	c.Record(5, 5, 6)
	if err := c.Persist(ctx); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if sink.counts[5] != 2 || sink.counts[6] != 1 {
		t.Fatalf("unexpected counts: %+v", sink.counts)
	}
}

// lockStealer hands the flush lock to another instance while counts are
// applied, as if this flusher's lock had expired.
type lockStealer struct {
	countSink
	mr *miniredis.Miniredis
}

func (s *lockStealer) AddDetectionCounts(ctx context.Context, counts map[uint]int64) error {
	if err := s.mr.Set("test:detections:lock", "other-instance"); err != nil {
		return err
	}
	return s.countSink.AddDetectionCounts(ctx, counts)
}

func TestRedisQueueUnlockKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	q, _, mr := newRedisQueue(t)
	stealer := &lockStealer{countSink: countSink{counts: make(map[uint]int64)}, mr: mr}
	q.counts = stealer

	if err := q.Enqueue(ctx, []domain.Increment{{KeywordID: 4, DetectedAt: time.Now()}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	n, err := q.Flush(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("flush: n=%d err=%v", n, err)
	}
	if v, _ := mr.Get("test:detections:lock"); v != "other-instance" {
		t.Fatalf("lock taken by another instance must survive unlock, got %q", v)
	}

	q.counts = &countSink{counts: make(map[uint]int64)}
	mr.Del("test:detections:lock")
	if err := q.Enqueue(ctx, []domain.Increment{{KeywordID: 4, DetectedAt: time.Now()}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Flush(ctx, 10); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if mr.Exists("test:detections:lock") {
		t.Fatal("own lock must be released after flush")
	}
}
