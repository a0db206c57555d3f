package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 55 * time.Second

// Lock elects the single sweeper instance allowed to run a cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	// Holder names the instance currently leading, "" when nobody is.
	Holder(ctx context.Context) (string, error)
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	DeleteIfEquals(ctx context.Context, key, expected string) (bool, error)
}

// LeaderLock is a Redis SETNX lease. The stored value is
// "<instance>|<lease id>", so a skipped sweeper can log who leads and a
// release never deletes a lease another instance took after expiry.
type LeaderLock struct {
	store    lockStore
	key      string
	ttl      time.Duration
	instance string
	lease    string
}

func NewLeaderLock(store lockStore, key string, ttl time.Duration) (*LeaderLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "sweeper"
	}
	return &LeaderLock{
		store:    store,
		key:      key,
		ttl:      ttl,
		instance: fmt.Sprintf("%s/%d", host, os.Getpid()),
	}, nil
}

// TTL is how long a lease lives; a cycle must finish inside it.
func (l *LeaderLock) TTL() time.Duration { return l.ttl }

func (l *LeaderLock) Acquire(ctx context.Context) (bool, error) {
	lease := l.instance + "|" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, lease, l.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", l.key, err)
	}
	if ok {
		l.lease = lease
	}
	return ok, nil
}

func (l *LeaderLock) Holder(ctx context.Context) (string, error) {
	value, err := l.store.Get(ctx, l.key)
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", l.key, err)
	}
	instance, _, _ := strings.Cut(value, "|")
	return instance, nil
}

// Release drops the lease only while it is still ours.
func (l *LeaderLock) Release(ctx context.Context) error {
	if l.lease == "" {
		return nil
	}
	lease := l.lease
	l.lease = ""
	if _, err := l.store.DeleteIfEquals(ctx, l.key, lease); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
