package main

import (
	"errors"
	"log/slog"
	"os"

	"htwg-backend/internal/application"
	"htwg-backend/internal/components/cache"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/server"
	"htwg-backend/pkg/configutil"
)

type ServerConfig struct {
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	ShutdownGraceSeconds  int    `json:"shutdown_grace_seconds"`
	Mode                  string `json:"mode"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

type LogConfig struct {
	Verbose bool `json:"verbose"`
	// Format is "json" for log collectors, anything else prints colored text.
	Format string `json:"format"`
}

type Config struct {
	Server    ServerConfig              `json:"server"`
	Log       LogConfig                 `json:"log"`
	Telemetry telemetry.Config          `json:"telemetry"`
	Http      application.HttpConfig    `json:"http"`
	Portals   application.PortalsConfig `json:"portals"`
	Cache     cache.Config              `json:"cache"`
	RateLimit server.RateLimitConfig    `json:"rate_limit"`
}

var defaultConfig = Config{
	Server: ServerConfig{
		Port:                  8080,
		ShutdownGraceSeconds:  10,
		RequestTimeoutSeconds: 60,
	},
	Log: LogConfig{Format: "text"},
	Http: application.HttpConfig{
		TimeoutSeconds: 10,
	},
	Cache: cache.Config{
		Backend:   "filesystem",
		TTL:       "6h",
		Directory: "cache",
	},
	RateLimit: server.RateLimitConfig{
		RequestsPerSecond: 2,
		Burst:             10,
	},
}

func (c Config) Application() application.Config {
	return application.Config{
		Http:    c.Http,
		Portals: c.Portals,
		Cache:   c.Cache,
	}
}

func (c Config) Router() server.Config {
	return server.Config{
		Mode:                  c.Server.Mode,
		RateLimit:             c.RateLimit,
		RequestTimeoutSeconds: c.Server.RequestTimeoutSeconds,
	}
}

// LoadConfig reads the config file, a missing file runs on the defaults alone.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("no config file found, using defaults", "path", path)
		return defaultConfig, nil
	}
	if err != nil {
		return Config{}, err
	}
	return configutil.WithDefaults(cfg, defaultConfig)
}
