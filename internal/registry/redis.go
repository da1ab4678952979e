package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	connKeyPrefix = "conn:"
	userKeyPrefix = "user_conns:"
	convKeyPrefix = "conv_conns:"

	// Every store round-trip is bounded. A hanging redis node must not
	// stall an event handler; we surface ErrUnavailable instead.
	defaultOpTimeout = 2 * time.Second
)

// RedisRegistry is the production Registry: connection records live in
// redis hashes, with set indexes per user and per conversation, so the
// registry is shared across server instances.
type RedisRegistry struct {
	rdb       *redis.Client
	opTimeout time.Duration
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, opTimeout: defaultOpTimeout}
}

func (r *RedisRegistry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

func infra(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *RedisRegistry) Register(ctx context.Context, connectionID, userID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, connKeyPrefix+connectionID,
		"user_id", userID,
		"conversation_id", "",
		"established_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, userKeyPrefix+userID, connectionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return infra(err)
	}
	return nil
}

func (r *RedisRegistry) UpdateVisibleConversation(ctx context.Context, connectionID, conversationID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	old, err := r.rdb.HGet(ctx, connKeyPrefix+connectionID, "conversation_id").Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return infra(err)
	}

	pipe := r.rdb.TxPipeline()
	if old != "" && old != conversationID {
		pipe.SRem(ctx, convKeyPrefix+old, connectionID)
	}
	pipe.HSet(ctx, connKeyPrefix+connectionID, "conversation_id", conversationID)
	if conversationID != "" {
		pipe.SAdd(ctx, convKeyPrefix+conversationID, connectionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return infra(err)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, connectionID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	fields, err := r.rdb.HGetAll(ctx, connKeyPrefix+connectionID).Result()
	if err != nil {
		return infra(err)
	}
	if len(fields) == 0 {
		return nil // already gone, Remove is idempotent
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, connKeyPrefix+connectionID)
	if uid := fields["user_id"]; uid != "" {
		pipe.SRem(ctx, userKeyPrefix+uid, connectionID)
	}
	if cid := fields["conversation_id"]; cid != "" {
		pipe.SRem(ctx, convKeyPrefix+cid, connectionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return infra(err)
	}
	return nil
}

func (r *RedisRegistry) FindByConnection(ctx context.Context, connectionID string) (*Connection, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	fields, err := r.rdb.HGetAll(ctx, connKeyPrefix+connectionID).Result()
	if err != nil {
		return nil, infra(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return connFromFields(connectionID, fields), nil
}

func (r *RedisRegistry) ListByUser(ctx context.Context, userID string) ([]Connection, error) {
	return r.listIndexed(ctx, userKeyPrefix+userID)
}

func (r *RedisRegistry) ListByConversation(ctx context.Context, conversationID string) ([]Connection, error) {
	return r.listIndexed(ctx, convKeyPrefix+conversationID)
}

func (r *RedisRegistry) listIndexed(ctx context.Context, indexKey string) ([]Connection, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ids, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, infra(err)
	}
	return r.fetchConns(ctx, indexKey, ids)
}

func (r *RedisRegistry) ListAll(ctx context.Context) ([]Connection, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var conns []Connection
	iter := r.rdb.Scan(ctx, 0, connKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(connKeyPrefix):]
		fields, err := r.rdb.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, infra(err)
		}
		if len(fields) == 0 {
			continue
		}
		conns = append(conns, *connFromFields(id, fields))
	}
	if err := iter.Err(); err != nil {
		return nil, infra(err)
	}
	return conns, nil
}

// fetchConns resolves index members to full records. Members whose
// record has vanished are dropped from the index on the way through,
// so a crashed instance's leftovers heal incrementally.
func (r *RedisRegistry) fetchConns(ctx context.Context, indexKey string, ids []string) ([]Connection, error) {
	conns := make([]Connection, 0, len(ids))
	for _, id := range ids {
		fields, err := r.rdb.HGetAll(ctx, connKeyPrefix+id).Result()
		if err != nil {
			return nil, infra(err)
		}
		if len(fields) == 0 {
			r.rdb.SRem(ctx, indexKey, id)
			continue
		}
		conns = append(conns, *connFromFields(id, fields))
	}
	return conns, nil
}

func connFromFields(id string, fields map[string]string) *Connection {
	c := &Connection{
		ID:                    id,
		UserID:                fields["user_id"],
		VisibleConversationID: fields["conversation_id"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["established_at"]); err == nil {
		c.EstablishedAt = ts
	}
	return c
}
