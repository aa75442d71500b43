// Package detection accumulates keyword hit counts off the request path.
//
// Record hands increments to a bounded channel and never blocks. A background
// loop appends them to a durable queue on a short interval and, on a longer
// interval, flushes the queue into additive keyword count updates.
package detection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"listing_filter/internal/domain"
)

// Options tunes a Counter. Zero values take the defaults.
type Options struct {
	BufferSize     int
	AppendInterval time.Duration
	FlushInterval  time.Duration
	FlushBatchSize int
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 4096
	}
	if o.AppendInterval <= 0 {
		o.AppendInterval = 200 * time.Millisecond
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 10 * time.Second
	}
	if o.FlushBatchSize <= 0 {
		o.FlushBatchSize = 1000
	}
	return o
}

// Stats are counters since process start.
type Stats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Appended int64 `json:"appended"`
	Flushed  int64 `json:"flushed"`
	Pending  int   `json:"pending"`
}

// Counter is the DetectionCounter front end.
type Counter struct {
	queue  domain.DetectionQueue
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	ch chan domain.Increment

	// increments taken off ch whose append failed; retried on the next tick
	mu      sync.Mutex
	pending []domain.Increment

	recorded atomic.Int64
	dropped  atomic.Int64
	appended atomic.Int64
	flushed  atomic.Int64
}

func NewCounter(queue domain.DetectionQueue, opts Options, logger *slog.Logger) *Counter {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		queue:  queue,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		ch:     make(chan domain.Increment, opts.BufferSize),
	}
}

// Record queues one increment per keyword id. Id 0 marks synthetic keywords
// and is ignored. When the buffer is full the increment is dropped and
// counted; Record never blocks.
func (c *Counter) Record(ids ...uint) {
	at := c.now()
	for _, id := range ids {
		if id == 0 {
			continue
		}
		select {
		case c.ch <- domain.Increment{KeywordID: id, DetectedAt: at}:
			c.recorded.Add(1)
		default:
			if c.dropped.Add(1)%100 == 1 {
				c.logger.Warn("detection buffer full, dropping increments", "dropped_total", c.dropped.Load())
			}
		}
	}
}

// Run appends and flushes until ctx is done, then drains what is buffered.
func (c *Counter) Run(ctx context.Context) error {
	appendTicker := time.NewTicker(c.opts.AppendInterval)
	defer appendTicker.Stop()
	flushTicker := time.NewTicker(c.opts.FlushInterval)
	defer flushTicker.Stop()

	c.logger.Info("detection counter started",
		"append_interval", c.opts.AppendInterval,
		"flush_interval", c.opts.FlushInterval)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Persist(shutdownCtx); err != nil {
				c.logger.Error("detection drain on shutdown failed", "error", err, "pending", c.pendingLen())
			}
			return nil

		case <-appendTicker.C:
			if err := c.Persist(ctx); err != nil {
				c.logger.Error("detection append failed", "error", err, "pending", c.pendingLen())
			}

		case <-flushTicker.C:
			if _, err := c.Flush(ctx); err != nil {
				// entries stay queued and are retried on the next tick
				c.logger.Error("detection flush failed", "error", err)
			}
		}
	}
}

// Persist moves buffered increments into the durable queue.
func (c *Counter) Persist(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

drain:
	for {
		select {
		case inc := <-c.ch:
			c.pending = append(c.pending, inc)
		default:
			break drain
		}
	}
	if len(c.pending) == 0 {
		return nil
	}

	if err := c.queue.Enqueue(ctx, c.pending); err != nil {
		// bound the retry backlog so an outage cannot grow memory without limit
		if limit := c.opts.BufferSize * 4; len(c.pending) > limit {
			over := len(c.pending) - limit
			c.pending = append([]domain.Increment(nil), c.pending[over:]...)
			c.dropped.Add(int64(over))
		}
		return domain.Infra("enqueue detections", err)
	}
	c.appended.Add(int64(len(c.pending)))
	c.pending = c.pending[:0]
	return nil
}

// Flush applies queued increments in batches until the queue is drained.
// It returns the number of entries applied.
func (c *Counter) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := c.queue.Flush(ctx, c.opts.FlushBatchSize)
		total += n
		c.flushed.Add(int64(n))
		if err != nil {
			return total, domain.Infra("flush detections", err)
		}
		if n < c.opts.FlushBatchSize {
			break
		}
	}
	if total > 0 {
		c.logger.Debug("detection counts flushed", "entries", total)
	}
	return total, nil
}

func (c *Counter) Stats() Stats {
	return Stats{
		Recorded: c.recorded.Load(),
		Dropped:  c.dropped.Load(),
		Appended: c.appended.Load(),
		Flushed:  c.flushed.Load(),
		Pending:  len(c.ch) + c.pendingLen(),
	}
}

func (c *Counter) pendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
