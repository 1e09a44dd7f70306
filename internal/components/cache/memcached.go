package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

type Memcached struct {
	client *memcache.Client
	ttl    time.Duration
}

func NewMemcached(servers []string, ttl time.Duration) (Memcached, error) {
	if len(servers) == 0 {
		return Memcached{}, fmt.Errorf("memcached: no servers configured")
	}
	ss := new(memcache.ServerList)
	err := ss.SetServers(servers...)
	if err != nil {
		return Memcached{}, fmt.Errorf("memcached: set servers: %w", err)
	}
	client := memcache.NewFromSelector(ss)
	err = client.Ping()
	if err != nil {
		return Memcached{}, fmt.Errorf("memcached: ping: %w", err)
	}
	slog.Info("connected to memcached", "servers", servers)
	return Memcached{client: client, ttl: ttl}, nil
}

func (m Memcached) Get(ctx context.Context, key string) ([]byte, bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, false, err
	}
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memcached get %s: %w", key, err)
	}
	return item.Value, true, nil
}

func (m Memcached) Set(ctx context.Context, key string, value []byte) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}
	err = m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(m.ttl.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("memcached set %s: %w", key, err)
	}
	return nil
}

func (m Memcached) Close() error {
	return m.client.Close()
}
