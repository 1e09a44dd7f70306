package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/chrono"
)

// Filesystem keeps one file per key in a directory, an entry expires when its
// modification time is older than the TTL.
type Filesystem struct {
	directory string
	ttl       time.Duration
	clock     chrono.TimeAPI
}

func NewFilesystem(dir string, ttl time.Duration, clock chrono.TimeAPI) (Filesystem, error) {
	assert.NotNil(clock)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return Filesystem{}, fmt.Errorf("create cache directory: %w", err)
	}
	return Filesystem{directory: dir, ttl: ttl, clock: clock}, nil
}

func (f Filesystem) path(key string) string {
	return filepath.Join(f.directory, key)
}

func (f Filesystem) Get(ctx context.Context, key string) ([]byte, bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, false, err
	}

	info, err := os.Stat(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if f.clock.Now().Sub(info.ModTime()) > f.ttl {
		return nil, false, nil
	}

	value, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set writes to a temporary file and renames it over the entry, so concurrent
// readers only ever see a complete value.
func (f Filesystem) Set(ctx context.Context, key string, value []byte) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.directory, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(value)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	now := f.clock.Now()
	err = os.Chtimes(tmp.Name(), now, now)
	if err != nil {
		return fmt.Errorf("stamp temp file: %w", err)
	}
	err = os.Rename(tmp.Name(), f.path(key))
	if err != nil {
		return fmt.Errorf("replace cache entry: %w", err)
	}
	return nil
}
