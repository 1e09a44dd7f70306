package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"htwg-backend/internal/components/assert"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/pkg/sqliteutil"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

//go:embed schema.sql
var schemaSql string

type SQLConfig struct {
	// File is a local sqlite database, ":memory:" works for tests.
	File string `json:"file"`
	// Url points at a remote libsql server and takes precedence over File.
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config SQLConfig) OpenDB() (*sql.DB, error) {
	if config.Url != "" {
		dsn := config.Url
		if config.AuthToken != "" {
			parsed, err := url.Parse(config.Url)
			if err != nil {
				return nil, fmt.Errorf("libsql url: %w", err)
			}
			q := parsed.Query()
			q.Set("authToken", config.AuthToken)
			parsed.RawQuery = q.Encode()
			dsn = parsed.String()
		}
		return sql.Open("libsql", dsn)
	}

	return sqliteutil.OpenDB(config.File)
}

type SQL struct {
	db    *sql.DB
	ttl   time.Duration
	clock chrono.TimeAPI
}

func OpenSQL(ctx context.Context, config SQLConfig, ttl time.Duration, clock chrono.TimeAPI) (SQL, error) {
	db, err := config.OpenDB()
	if err != nil {
		return SQL{}, err
	}
	store, err := NewSQL(ctx, db, ttl, clock)
	if err != nil {
		db.Close()
		return SQL{}, err
	}
	return store, nil
}

// NewSQL creates the cache table if it is missing.
func NewSQL(ctx context.Context, db *sql.DB, ttl time.Duration, clock chrono.TimeAPI) (SQL, error) {
	assert.NotNil(db)
	assert.NotNil(clock)
	err := sqliteutil.Migrate(ctx, db, schemaSql)
	if err != nil {
		return SQL{}, fmt.Errorf("create cache schema: %w", err)
	}
	return SQL{db: db, ttl: ttl, clock: clock}, nil
}

func (s SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	err := ValidateKey(key)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	var storedAt int64
	err = s.db.QueryRowContext(
		ctx,
		"select value, stored_at from cache_entry where key = ?",
		key,
	).Scan(&value, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	if s.clock.Now().Sub(time.UnixMilli(storedAt)) > s.ttl {
		return nil, false, nil
	}
	return value, true, nil
}

func (s SQL) Set(ctx context.Context, key string, value []byte) error {
	err := ValidateKey(key)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`insert into cache_entry (key, value, stored_at) values (?, ?, ?)
on conflict (key) do update set value = excluded.value, stored_at = excluded.stored_at`,
		key, value, s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

// Purge removes every expired entry.
func (s SQL) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		"delete from cache_entry where stored_at < ?",
		s.clock.Now().Add(-s.ttl).UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s SQL) Close() error {
	return s.db.Close()
}
