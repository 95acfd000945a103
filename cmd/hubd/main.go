package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlibekovAA/hubrpc/internal/common/bootstrap"
	"github.com/AlibekovAA/hubrpc/internal/common/clock"
	commonhttp "github.com/AlibekovAA/hubrpc/internal/common/http"
	srv "github.com/AlibekovAA/hubrpc/internal/common/server"
	"github.com/AlibekovAA/hubrpc/internal/hub"
	hubhttp "github.com/AlibekovAA/hubrpc/internal/hub/http"
	"github.com/AlibekovAA/hubrpc/internal/samplehub"
)

func main() {
	app, err := bootstrap.NewHubApp("hubd")
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("failed to start hubd: %v\n", err))
		os.Exit(1)
	}
	log, cfg := app.Log, app.Config

	manager := hub.NewConnectionManager()
	opts := hub.OptionsFromConfig(cfg)
	opts.Manager = manager

	clk := clock.NewRealClock()
	dispatcher := hub.NewDispatcher(
		hub.Factory(nil, func() (*samplehub.Hub, error) {
			return samplehub.New(log, clk, manager.Count), nil
		}),
		opts,
		log,
	)

	upgradeLimiter := commonhttp.NewRateLimiter(cfg.UpgradeRequestsPerSecond, cfg.UpgradeBurst)
	defer upgradeLimiter.Stop()

	if cfg.JWTSecret == "" {
		log.Warn("HUB_JWT_SECRET is empty, hub connections are unauthenticated")
	}
	wsHandler := hubhttp.NewHandler(dispatcher, hubhttp.Config{
		JWTSecret: cfg.JWTSecret,
		Limiter:   upgradeLimiter,
	}, log)

	mux := http.NewServeMux()
	mux.Handle("/ws/", wsHandler)
	mux.HandleFunc("/health", commonhttp.HealthHandler(log, manager.Count))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	server := srv.NewServer(srv.DefaultServerConfig(cfg.HTTPPort), commonhttp.BuildBaseHandler(log, mux))

	srv.StartWithGracefulShutdownAndHooks(server, log, "hubd", []srv.ShutdownHook{
		func(ctx context.Context) error {
			log.Infof("closing %d hub connections", manager.Count())
			return manager.Shutdown(ctx)
		},
	})
}
