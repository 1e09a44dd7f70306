// Package application assembles the portal transport, the cache and every scraper
// into a service.Service, shared by the server and the cli.
package application

import (
	"context"
	"fmt"
	"time"

	"htwg-backend/internal/components/cache"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/internal/components/telemetry"
	"htwg-backend/internal/portal"
	"htwg-backend/internal/scrapers/canteen"
	"htwg-backend/internal/scrapers/hisinone"
	"htwg-backend/internal/scrapers/htwgweb"
	"htwg-backend/internal/scrapers/lsf"
	"htwg-backend/internal/scrapers/printer"
	"htwg-backend/internal/scrapers/qis"
	"htwg-backend/internal/service"
)

type HttpConfig struct {
	UserAgent         string  `json:"user_agent"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
	// DumpDirectory receives every HTTP exchange with bodies redacted, for debugging.
	DumpDirectory string `json:"dump_directory"`
}

// PortalsConfig overrides portal locations, empty values use the production hosts.
type PortalsConfig struct {
	Printer     string        `json:"printer"`
	Qis         string        `json:"qis"`
	Lsf         string        `json:"lsf"`
	Hisinone    string        `json:"hisinone"`
	CanteenFeed string        `json:"canteen_feed"`
	Web         htwgweb.Pages `json:"web"`
}

type Config struct {
	Http    HttpConfig    `json:"http"`
	Portals PortalsConfig `json:"portals"`
	Cache   cache.Config  `json:"cache"`
}

func NewTransport(cfg HttpConfig, tel telemetry.API) (*portal.RestyTransport, error) {
	transportConfig := portal.TransportConfig{
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerSecond,
		CloudflareBypass:  cfg.CloudflareBypass,
		Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if cfg.DumpDirectory != "" {
		output, err := telemetry.NewFilesystemOutput(cfg.DumpDirectory)
		if err != nil {
			return nil, fmt.Errorf("http dump directory: %w", err)
		}
		transportConfig.Dump = &output
	}
	return portal.NewRestyTransport(transportConfig, tel), nil
}

// NewScrapers builds every scraper on a shared transport.
func NewScrapers(cfg PortalsConfig, transport portal.Transport, store cache.Store, clock chrono.TimeAPI, tel telemetry.API) (service.Scrapers, error) {
	grades, err := qis.NewScraper(cfg.Qis, transport, tel)
	if err != nil {
		return service.Scrapers{}, err
	}
	timetable, err := lsf.NewScraper(cfg.Lsf, transport, tel)
	if err != nil {
		return service.Scrapers{}, err
	}
	certificate, err := hisinone.NewScraper(cfg.Hisinone, transport, clock, tel)
	if err != nil {
		return service.Scrapers{}, err
	}
	return service.Scrapers{
		Printer:     printer.NewScraper(cfg.Printer, transport, tel),
		Grades:      grades,
		Timetable:   timetable,
		Certificate: certificate,
		Canteen:     canteen.NewScraper(cfg.CanteenFeed, transport, store, clock, tel),
		Web:         htwgweb.NewScraper(cfg.Web, transport, tel),
	}, nil
}

// Open builds the transport, the cache and every scraper. release closes the
// cache connections.
func Open(ctx context.Context, cfg Config, clock chrono.TimeAPI, tel telemetry.API) (scrapers service.Scrapers, release func() error, err error) {
	release = func() error { return nil }

	transport, err := NewTransport(cfg.Http, tel)
	if err != nil {
		return service.Scrapers{}, release, err
	}
	store, closeStore, err := cache.Open(ctx, cfg.Cache, clock)
	if err != nil {
		return service.Scrapers{}, release, fmt.Errorf("open cache: %w", err)
	}
	scrapers, err = NewScrapers(cfg.Portals, transport, store, clock, tel)
	if err != nil {
		closeStore()
		return service.Scrapers{}, release, err
	}
	return scrapers, closeStore, nil
}

// New wires a ready to use service.
func New(ctx context.Context, cfg Config, clock chrono.TimeAPI, tel telemetry.API) (service.Service, func() error, error) {
	scrapers, release, err := Open(ctx, cfg, clock, tel)
	if err != nil {
		return service.Service{}, release, err
	}
	return service.NewService(scrapers, service.WithCustomTelemetryAPI(tel)), release, nil
}
