package queue

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/domain/vault"
)

// RedsyncLocker serializes identical concurrent saves across instances.
type RedsyncLocker struct {
	rs *redsync.Redsync
}

var _ vault.Locker = (*RedsyncLocker)(nil)

func NewRedsyncLocker(client *redis.Client) *RedsyncLocker {
	pool := goredis.NewPool(client)
	return &RedsyncLocker{rs: redsync.New(pool)}
}

func (l *RedsyncLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex("recall:save_lock:"+key, redsync.WithExpiry(30*time.Second))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}

	return func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to release save lock")
		}
	}, nil
}
