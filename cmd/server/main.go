package main

import (
	"flag"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"htwg-backend/internal/application"
	"htwg-backend/internal/components/chrono"
	"htwg-backend/internal/server"
	"htwg-backend/pkg/serviceutil"
)

func main() {
	configPath := flag.String("config", "config.json5", "Path to the configuration file.")
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	tel := InitTelemetry(ctx, cfg, *verbose)

	svc, closeCache, err := application.New(ctx, cfg.Application(), chrono.NewStandardImpl(), tel)
	if err != nil {
		serviceutil.Fatal("init service", err)
	}
	defer func() {
		err := closeCache()
		if err != nil {
			slog.Warn("close cache", "err", err)
		}
	}()

	router := server.NewRouter(ctx, svc, cfg.Router(), tel)
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grace := time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second
	err = serviceutil.ServeUntilDone(ctx, srv, grace)
	if err != nil {
		serviceutil.Fatal("serve http", err)
	}
}
