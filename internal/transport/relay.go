package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const relayChannel = "fanout-relay"

type relayEnvelope struct {
	ConnectionID string          `json:"connection_id"`
	Payload      json.RawMessage `json:"payload"`
}

// Relay extends a local Table across server instances over redis
// pub/sub. A push that misses the local table is published on a shared
// channel; every instance subscribes and delivers the payloads whose
// connections it owns. Cross-instance pushes are fire-and-forget: only
// the owning node can observe a dead socket, and it prunes the registry
// itself when the connection detaches.
type Relay struct {
	table *Table
	rdb   *redis.Client
	log   *slog.Logger
}

func NewRelay(table *Table, rdb *redis.Client, log *slog.Logger) *Relay {
	return &Relay{table: table, rdb: rdb, log: log}
}

func (r *Relay) Push(ctx context.Context, connectionID string, payload []byte) error {
	err := r.table.Push(ctx, connectionID, payload)
	if !errors.Is(err, ErrGone) {
		return err
	}

	env, mErr := json.Marshal(relayEnvelope{ConnectionID: connectionID, Payload: payload})
	if mErr != nil {
		return mErr
	}
	if pErr := r.rdb.Publish(ctx, relayChannel, env).Err(); pErr != nil {
		return pErr
	}
	return nil
}

// Run consumes relayed payloads until ctx is cancelled. Payloads for
// connections not attached to this node are dropped silently; some
// other instance owns them.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("relay: bad envelope", "err", err)
				continue
			}
			if err := r.table.Push(ctx, env.ConnectionID, env.Payload); err != nil && !errors.Is(err, ErrGone) {
				r.log.Warn("relay: local delivery failed",
					"connection_id", env.ConnectionID, "err", err)
			}
		}
	}
}
