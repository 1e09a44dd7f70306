package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Memory struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemory(size int, ttl time.Duration) Memory {
	return Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, false, err
	}
	value, hit := m.lru.Get(key)
	if !hit {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m Memory) Set(ctx context.Context, key string, value []byte) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}
	m.lru.Add(key, append([]byte(nil), value...))
	return nil
}
