// Package kv defines the key-value primitives the chat store is built on and
// provides Redis and SQLite implementations of them.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNil is returned by Get when the key does not exist.
var ErrNil = errors.New("kv: nil")

// KV is the minimal primitive surface used by the store adapter.
// Implementations must be safe for concurrent use.
//
// Absent hashes and sets are not errors: HGetAll returns an empty map and
// SMembers an empty slice. Only Get signals a miss, with ErrNil.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// LPush prepends values in argument order, so the last value ends up at
	// index 0, matching Redis LPUSH.
	LPush(ctx context.Context, key string, values ...string) error
	// LRange returns elements start..stop inclusive; negative indexes count
	// from the tail.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Ping(ctx context.Context) error
	FlushDB(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQLitePath string
}

// Open connects to the configured backend and verifies it with a ping.
func Open(ctx context.Context, opts Options) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendRedis:
		return NewRedis(ctx, opts)
	case BackendSQLite:
		return NewSQLite(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", opts.Backend)
	}
}
