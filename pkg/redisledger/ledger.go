// Package redisledger keeps the chat notification ledger in Redis. Entries
// expire on their own after the retention period, so no prune sweep is needed.
package redisledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "community-connect:ledger:"

// Options configures the Redis connection
type Options struct {
	Address   string
	Password  string
	DB        int
	Retention time.Duration
}

// Ledger implements notify.Ledger on Redis
type Ledger struct {
	client    *redis.Client
	retention time.Duration
}

// New creates a ledger with its own Redis client
func New(opts Options) *Ledger {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return NewWithClient(rdb, opts.Retention)
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, retention time.Duration) *Ledger {
	return &Ledger{client: client, retention: retention}
}

func key(opportunityID, email string) string {
	return keyPrefix + opportunityID + ":" + strings.ToLower(strings.TrimSpace(email))
}

// Ping tests the Redis connection
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (l *Ledger) Close() error {
	return l.client.Close()
}

// LastSent returns nil when no notification has been recorded or the entry expired
func (l *Ledger) LastSent(ctx context.Context, opportunityID, email string) (*time.Time, error) {
	value, err := l.client.Get(ctx, key(opportunityID, email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("corrupt ledger entry %q: %w", value, err)
	}
	return &at, nil
}

// MarkSent records a notification. A zero retention keeps the entry forever.
func (l *Ledger) MarkSent(ctx context.Context, opportunityID, email string, at time.Time) error {
	err := l.client.Set(ctx, key(opportunityID, email), at.UTC().Format(time.RFC3339Nano), l.retention).Err()
	if err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	return nil
}
