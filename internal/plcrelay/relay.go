// Package plcrelay mirrors Memory diffs across processes over Redis
// pub/sub, grounded on internal/infra/redis_adapter.go's go-redis v9
// connection/Publish/Subscribe idiom and internal/events/pubsub_bus.go's
// "wrap and forward every diff" shape.
package plcrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mujin/goplc/internal/plcmemory"
	"github.com/mujin/goplc/internal/plcvalue"
)

// Relay mirrors Memory diffs across processes over a single Redis
// pub/sub channel. It registers itself as a Memory observer (publishing
// every locally committed diff) and, once Subscribe runs, applies
// remotely published diffs back into Memory via Write.
//
// Memory's own no-op suppression (spec.md §3, §8) terminates the
// resulting single-hop echo without any origin-tagging: a relayed diff
// applied locally re-triggers this Relay's own MemoryModified, which
// republishes it; the peer's subsequent Write of identical values is a
// no-op and produces no further notification, so the echo dies after one
// round trip.
type Relay struct {
	rdb     *redis.Client
	channel string
	memory  *plcmemory.Memory
	logger  *slog.Logger
}

// New connects to the Redis instance at addr and returns a Relay bound
// to memory, mirroring on channel. The connection is verified with a
// PING before returning; New also registers the Relay as a Memory
// observer.
func New(addr, channel string, memory *plcmemory.Memory, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("plcrelay: redis ping failed (%s): %w", addr, err)
	}

	r := &Relay{rdb: rdb, channel: channel, memory: memory, logger: logger}
	memory.AddObserver(r)
	return r, nil
}

// MemoryModified implements plcmemory.Observer: it publishes diff to the
// relay channel as JSON, using Value's own MarshalJSON precedence
// (spec.md §4.4).
func (r *Relay) MemoryModified(diff map[string]plcvalue.Value) {
	payload, err := json.Marshal(diff)
	if err != nil {
		r.logger.Warn("plcrelay: marshal diff failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("plcrelay: publish failed", "channel", r.channel, "error", err)
	}
}

// Subscribe blocks, applying every diff received on the relay channel to
// memory, until ctx is canceled or the subscription's channel closes.
// Run it in its own goroutine.
func (r *Relay) Subscribe(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("plcrelay: subscribe to %s: %w", r.channel, err)
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var diff map[string]plcvalue.Value
			if err := json.Unmarshal([]byte(msg.Payload), &diff); err != nil {
				r.logger.Warn("plcrelay: malformed diff payload, dropping", "error", err)
				continue
			}
			if len(diff) > 0 {
				r.memory.Write(diff)
			}
		}
	}
}

// Close deregisters the observer and closes the Redis client.
func (r *Relay) Close() error {
	r.memory.RemoveObserver(r)
	return r.rdb.Close()
}
