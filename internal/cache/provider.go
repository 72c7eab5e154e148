// Package cache stores rendered explanations keyed by model fingerprint and
// feature vector, in Valkey when configured and in process otherwise.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Provider is the byte store behind the explanation cache. Entries are
// immutable once written except when a reader finds one it cannot decode;
// SetNX is the normal write and Set repairs a corrupt entry.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Close() error
}

// NoopProvider disables caching: every read misses and writes are dropped.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

// SetNX reports false so callers never assume the value was kept.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, nil
}

func (NoopProvider) Close() error { return nil }
