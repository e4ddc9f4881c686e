// Package cache provides the TTL store used for fairness seeds, replay markers,
// deposit intents and rolling activity windows. Every key carries an explicit expiry.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

// Store is a key-value store with per-key TTL and scored rolling windows
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent; reports whether it was stored
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error

	// AddToWindow records member at time at in the window stored under key.
	// The whole window expires ttl after the last add.
	AddToWindow(ctx context.Context, key, member string, at time.Time, ttl time.Duration) error
	// WindowMembers returns members recorded at or after since, oldest first
	WindowMembers(ctx context.Context, key string, since time.Time) ([]string, error)
}
