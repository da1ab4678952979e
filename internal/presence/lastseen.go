package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastSeenKeyPrefix = "last_seen:"

// RedisLastSeen persists last-seen timestamps in redis. Writes are
// asynchronous and errors only logged; a missed last-seen write must
// never delay or fail a disconnect.
type RedisLastSeen struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisLastSeen(rdb *redis.Client, log *slog.Logger) *RedisLastSeen {
	return &RedisLastSeen{rdb: rdb, log: log}
}

func (l *RedisLastSeen) MarkOffline(userID string, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := l.rdb.Set(ctx, lastSeenKeyPrefix+userID, at.Format(time.RFC3339), 0).Err(); err != nil {
			l.log.Warn("presence: last-seen write failed", "user_id", userID, "err", err)
		}
	}()
}
