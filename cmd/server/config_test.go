package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.json5"))
	require.NoError(t, err)
	require.Equal(t, defaultConfig, cfg)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
	// only override a few things
	server: { port: 9000 },
	cache: { backend: "memory" },
	portals: { canteen_feed: "http://localhost/feed.xml" },
}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
	log: { format: "json" },
}`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 10, cfg.Server.ShutdownGraceSeconds)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, "6h", cfg.Cache.TTL)
	require.Equal(t, "http://localhost/feed.xml", cfg.Application().Portals.CanteenFeed)
	require.Equal(t, 60, cfg.Router().RequestTimeoutSeconds)
}
