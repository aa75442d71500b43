package cachebus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingCache struct {
	n atomic.Int64
}

func (c *countingCache) Invalidate() { c.n.Add(1) }

func TestBusInvalidatesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	cacheA, cacheB := &countingCache{}, &countingCache{}
	busA := New(newClient(), "test:bus", cacheA, nil)
	busB := New(newClient(), "test:bus", cacheB, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = busA.Run(ctx) }()
	go func() { _ = busB.Run(ctx) }()

	// wait until both subscriptions are registered
	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub("test:bus")["test:bus"] < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := busA.Publish(ctx, "keyword_created"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for cacheB.n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("remote cache was not invalidated")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// the publisher invalidates locally once and ignores its own echo
	time.Sleep(50 * time.Millisecond)
	if got := cacheA.n.Load(); got != 1 {
		t.Fatalf("expected publisher cache invalidated once, got %d", got)
	}
}

func TestLocalPublisher(t *testing.T) {
	cache := &countingCache{}
	if err := (Local{Cache: cache}).Publish(context.Background(), "test"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if cache.n.Load() != 1 {
		t.Fatalf("expected one invalidation")
	}
}
