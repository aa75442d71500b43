// Package cachebus fans keyword cache invalidations out to every instance
// over a Redis pub/sub channel.
package cachebus

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "listing_filter:keyword_cache"

// Invalidator is the local cache being kept in sync.
type Invalidator interface {
	Invalidate()
}

// Publisher announces that keywords changed.
type Publisher interface {
	Publish(ctx context.Context, reason string) error
}

type message struct {
	Origin string    `json:"origin"`
	Reason string    `json:"reason"`
	SentAt time.Time `json:"sent_at"`
}

// Bus publishes invalidations and applies the ones it receives.
// Publish also invalidates the local cache so callers need one call.
type Bus struct {
	client  *redis.Client
	channel string
	origin  string
	local   Invalidator
	logger  *slog.Logger
}

func New(client *redis.Client, channel string, local Invalidator, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &Bus{
		client:  client,
		channel: channel,
		origin:  host + "/" + uuid.NewString(),
		local:   local,
		logger:  logger,
	}
}

func (b *Bus) Publish(ctx context.Context, reason string) error {
	b.local.Invalidate()

	payload, err := json.Marshal(message{Origin: b.origin, Reason: reason, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("cache invalidation publish failed", "reason", reason, "error", err)
		return err
	}
	return nil
}

// Run subscribes and invalidates the local cache on every message from
// another instance, until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed before reporting readiness
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	b.logger.Info("cache bus subscribed", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.logger.Warn("invalid cache bus message", "payload", msg.Payload)
				b.local.Invalidate()
				continue
			}
			if m.Origin == b.origin {
				continue
			}
			b.logger.Info("received cache invalidation", "origin", m.Origin, "reason", m.Reason)
			b.local.Invalidate()
		}
	}
}

// Local is the Publisher used when Redis is not configured.
type Local struct {
	Cache Invalidator
}

func (l Local) Publish(ctx context.Context, reason string) error {
	l.Cache.Invalidate()
	return nil
}
