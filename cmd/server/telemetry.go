package main

import (
	"context"
	"log/slog"
	"time"

	"htwg-backend/internal/components/telemetry"
	"htwg-backend/pkg/serviceutil"
)

const perfStatsInterval = 15 * time.Second

// InitTelemetry sets up logging and, when enabled, the otel exporters. The
// returned API reports to every configured sink.
func InitTelemetry(ctx context.Context, cfg Config, verbose bool) telemetry.API {
	telemetry.InitSlog(verbose || cfg.Log.Verbose, cfg.Log.Format)

	if !cfg.Telemetry.Enabled {
		return telemetry.SlogAPI{}
	}

	t, err := telemetry.Setup(ctx, "htwg-server", cfg.Telemetry)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := t.Shutdown(shutdownCtx)
		if err != nil {
			slog.Warn("shutdown telemetry", "err", err)
		}
	}()
	telemetry.InstrumentPerfStats(ctx, perfStatsInterval)

	otelAPI, err := telemetry.NewOtelAPI()
	if err != nil {
		serviceutil.Fatal("init otel api", err)
	}
	return telemetry.MultiAPI{telemetry.SlogAPI{}, otelAPI}
}
