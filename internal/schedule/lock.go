package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TickLock is a Redis-based lock around one evaluator pass. It keeps a
// second scheduler instance (e.g. during a deploy overlap) from running a
// concurrent pass; per-notification races are additionally covered by the
// store's conditional schedule update.
type TickLock struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

// releaseScript deletes the lock only while we still own it
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// extendScript refreshes the TTL only while we still own the lock
const extendScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// AcquireTickLock attempts to take the evaluator lock. It returns nil (and
// no error) when another instance already holds it.
func AcquireTickLock(ctx context.Context, client redis.Cmdable, key string, ttl time.Duration) (*TickLock, error) {
	token := uuid.New().String()

	acquired, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tick lock: %w", err)
	}
	if !acquired {
		return nil, nil
	}

	return &TickLock{client: client, key: key, token: token, ttl: ttl}, nil
}

// Release drops the lock if this instance still owns it
func (l *TickLock) Release(ctx context.Context) error {
	_, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Result()
	return err
}

// Extend refreshes the lock TTL for a pass that is running long. It fails
// when the lock has expired and been taken by another instance.
func (l *TickLock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("tick lock no longer owned by this instance")
	}
	l.ttl = ttl
	return nil
}

// Token returns the lock's ownership token
func (l *TickLock) Token() string {
	return l.token
}
