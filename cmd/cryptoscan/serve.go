package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptoscan/internal/config"
	"github.com/sawpanic/cryptoscan/internal/data/ws"
	httpapi "github.com/sawpanic/cryptoscan/internal/interfaces/http"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, scheduled scans and the live kline signal",
		Long: `Serves /scan, /scan/latest, /signal, /price, /health and /metrics.
Scan jobs from the config's schedule section publish to /scan/latest; the
Binance kline stream, when enabled, feeds /signal.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a := newApp(ctx, cfg)
	results := httpapi.NewResultStore()
	signals := httpapi.NewSignalStore()

	sched := scheduler.New(a.scanner, results, cfg.GetScheduleTimeout())
	for _, job := range cfg.Schedule.Jobs {
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.GetRequestTimeout(),
		ReadTimeout:    10 * time.Second,
		IdleTimeout:    120 * time.Second,
	}, httpapi.Deps{
		Scanner:      a.scanner,
		Prices:       a.gateway,
		Breakers:     a.breakers,
		Jobs:         sched,
		Results:      results,
		Signals:      signals,
		Metrics:      a.metrics.Handler(),
		ScanDefaults: cfg.ScanOptions(),
	})

	serverErr := make(chan error, 1)
	go func() {
		addr := server.Address()
		log.Info().
			Str("scan", fmt.Sprintf("http://%s/scan", addr)).
			Str("signal", fmt.Sprintf("http://%s/signal", addr)).
			Str("health", fmt.Sprintf("http://%s/health", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Msg("endpoints available")
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	sched.Start()

	streamDone := make(chan struct{})
	if cfg.Stream.Enabled {
		stream := ws.NewKlineStream(ws.Config{
			URL:            cfg.Stream.URL,
			Symbols:        cfg.Stream.Symbols,
			Interval:       models.Interval(cfg.Stream.Interval),
			Lookback:       cfg.Scan.Lookback,
			ReconnectDelay: cfg.GetReconnectDelay(),
			Observer:       a.metrics,
		}, a.gateway, a.evaluator, signals)
		go func() {
			defer close(streamDone)
			if err := stream.Run(ctx); err != nil {
				log.Error().Err(err).Msg("kline stream exited")
			}
		}()
	} else {
		close(streamDone)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	cancel()
	sched.Stop()
	<-streamDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server shutdown error")
		if runErr == nil {
			runErr = err
		}
	}

	log.Info().Msg("shutdown complete")
	return runErr
}
