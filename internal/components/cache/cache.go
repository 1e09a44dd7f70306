// Package cache stores rendered responses that are expensive to produce and the same
// for every caller, such as the canteen plan.
package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"htwg-backend/internal/components/chrono"
)

// Store is a key value store whose entries expire after a backend specific TTL.
type Store interface {
	// Get returns the value under key, ok is false on a miss or an expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

var ErrInvalidKey = errors.New("invalid cache key")

var keyRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,200}$`)

// ValidateKey rejects keys that cannot be used as file names or memcached keys.
func ValidateKey(key string) error {
	if !keyRegex.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

const DefaultTTL = 6 * time.Hour

type Config struct {
	// Backend is one of "filesystem" (default), "memory", "memcached", "sql" or "none".
	Backend string `json:"backend"`
	// TTL is a Go duration string, DefaultTTL when empty.
	TTL        string    `json:"ttl"`
	Directory  string    `json:"directory"`
	Servers    []string  `json:"servers"`
	SQL        SQLConfig `json:"sql"`
	MaxEntries int       `json:"max_entries"`
}

func (c Config) ttl() (time.Duration, error) {
	if c.TTL == "" {
		return DefaultTTL, nil
	}
	ttl, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0, fmt.Errorf("cache ttl: %w", err)
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("cache ttl must be positive, got %s", c.TTL)
	}
	return ttl, nil
}

// Open builds the store the config asks for. The returned close function releases
// connections and is never nil.
func Open(ctx context.Context, config Config, clock chrono.TimeAPI) (Store, func() error, error) {
	noop := func() error { return nil }

	ttl, err := config.ttl()
	if err != nil {
		return nil, noop, err
	}

	switch config.Backend {
	case "", "filesystem":
		dir := config.Directory
		if dir == "" {
			dir = "cache"
		}
		store, err := NewFilesystem(dir, ttl, clock)
		return store, noop, err
	case "memory":
		size := config.MaxEntries
		if size <= 0 {
			size = 128
		}
		return NewMemory(size, ttl), noop, nil
	case "memcached":
		store, err := NewMemcached(config.Servers, ttl)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "sql":
		store, err := OpenSQL(ctx, config.SQL, ttl, clock)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "none":
		return Disabled{}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", config.Backend)
	}
}

// Disabled never hits and drops every write.
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Disabled) Set(context.Context, string, []byte) error        { return nil }
