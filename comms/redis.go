package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus shares events between processes through Redis pub/sub. Each owner
// maps to one channel, so a tallyd instance only receives events for owners
// it has live subscriptions for.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBus creates a RedisBus on an existing client. Channel names are
// prefix + ownerID.
func NewRedisBus(client *redis.Client, prefix string, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if prefix == "" {
		prefix = "tally:owner:"
	}
	return &RedisBus{client: client, prefix: prefix, logger: logger}
}

func (b *RedisBus) channel(ownerID string) string { return b.prefix + ownerID }

// Publish sends ev to the owner's channel.
func (b *RedisBus) Publish(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(ev.OwnerID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe listens on the owner's channel until unsubscribe is called.
// Handler errors are logged; they cannot be returned to the remote publisher.
func (b *RedisBus) Subscribe(ownerID string, handler Handler) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())
	ps := b.client.Subscribe(ctx, b.channel(ownerID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("redis bus: bad payload", slog.String("channel", msg.Channel), slog.Any("err", err))
				continue
			}
			if err := handler(ctx, &ev); err != nil {
				b.logger.Warn("redis bus: handler failed", slog.String("owner", ownerID), slog.Any("err", err))
			}
		}
	}()

	return func() {
		cancel()
		_ = ps.Close()
		<-done
	}
}

// Close releases the Redis client.
func (b *RedisBus) Close() error { return b.client.Close() }
