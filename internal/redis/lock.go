package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	refreshLockPrefix = "refreshlock:"
	lockRetryInterval = 100 * time.Millisecond
)

// Released via compare-and-delete so an expired lease taken over by another
// holder is never deleted by the previous one.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RefreshLock serializes credential refresh per chat user across server
// instances. The lease TTL bounds how long a crashed holder can block others.
type RefreshLock struct {
	client *redis.Client
}

func NewRefreshLock(client *redis.Client) *RefreshLock {
	return &RefreshLock{client: client}
}

// Acquire blocks until the per-user lease is held or ctx is done. The
// returned release function is safe to call once.
func (l *RefreshLock) Acquire(ctx context.Context, chatUserID string, ttl time.Duration) (func(), error) {
	key := refreshLockPrefix + chatUserID

	holder := fmt.Sprintf("%d", time.Now().UnixNano())

	for {
		ok, err := l.client.SetNX(ctx, key, holder, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire refresh lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire refresh lock: %w", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := unlockScript.Run(releaseCtx, l.client, []string{key}, holder).Err(); err != nil && err != redis.Nil {
			log.Warn().Err(err).Str("chatUserId", chatUserID).Msg("failed to release refresh lock")
		}
	}

	return release, nil
}
