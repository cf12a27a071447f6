package redislock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrAcquireTimeout is returned when a lock cannot be taken within the
// configured wait budget. Callers surface it as a contention failure, not a
// domain rejection.
var ErrAcquireTimeout = errors.New("timed out waiting for promo code lock")

const keyPrefix = "promo_lock:"

// Locker serializes redemptions per promo code with a SetNX lock. The TTL
// guards against a crashed holder; the owner token prevents one redeemer
// from releasing another's lock.
type Locker struct {
	Client         *redis.Client
	TTL            time.Duration
	AcquireTimeout time.Duration
	RetryInterval  time.Duration
}

func NewLocker(client *redis.Client, ttl, acquireTimeout, retryInterval time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 2 * time.Second
	}
	if retryInterval <= 0 {
		retryInterval = 25 * time.Millisecond
	}
	return &Locker{
		Client:         client,
		TTL:            ttl,
		AcquireTimeout: acquireTimeout,
		RetryInterval:  retryInterval,
	}
}

// Acquire takes the lock for a normalized code, retrying until the wait
// budget runs out. It returns the owner token needed to release.
func (l *Locker) Acquire(ctx context.Context, code string) (string, error) {
	token := uuid.NewString()
	key := keyPrefix + code
	deadline := time.Now().Add(l.AcquireTimeout)

	for {
		ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.RetryInterval):
		}
	}
}

// Release drops the lock if this token still owns it. A lock that already
// expired or was taken over is left alone.
func (l *Locker) Release(ctx context.Context, code, token string) error {
	key := keyPrefix + code
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := l.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
