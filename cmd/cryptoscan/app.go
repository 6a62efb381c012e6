package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/cryptoscan/internal/application/scan"
	"github.com/sawpanic/cryptoscan/internal/config"
	"github.com/sawpanic/cryptoscan/internal/data/cache"
	"github.com/sawpanic/cryptoscan/internal/data/facade"
	"github.com/sawpanic/cryptoscan/internal/data/venue/binance"
	"github.com/sawpanic/cryptoscan/internal/data/venue/mexc"
	"github.com/sawpanic/cryptoscan/internal/data/venue/types"
	"github.com/sawpanic/cryptoscan/internal/domain/scoring"
	"github.com/sawpanic/cryptoscan/internal/metrics"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/net/circuit"
	"github.com/sawpanic/cryptoscan/internal/net/client"
	"github.com/sawpanic/cryptoscan/internal/net/ratelimit"
)

// app holds the shared runtime every command builds on
type app struct {
	cfg       *config.Config
	metrics   *metrics.Registry
	breakers  *circuit.Manager
	gateway   *facade.Gateway
	evaluator *scoring.Evaluator
	scanner   *scan.Scanner
}

func newApp(ctx context.Context, cfg *config.Config) *app {
	reg := metrics.NewRegistry()

	limits := ratelimit.NewManager()
	for key, vc := range cfg.Venues {
		limits.AddVenue(key, vc.RPS, vc.Burst)
	}
	breakers := circuit.NewManager(cfg.Breaker, func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		reg.BreakerChanged(name, from, to)
	})

	fetcher := client.NewFetcher(client.Config{
		Timeout:  cfg.GetFetchTimeout(),
		Limits:   limits,
		Breakers: breakers,
		Observer: reg,
	})

	endpoints := func(ex models.Exchange, mk models.Market) []string {
		return cfg.Venue(models.Venue{Exchange: ex, Market: mk}).Endpoints
	}
	adapters := []types.Adapter{
		binance.NewSpot(fetcher, endpoints(models.ExchangeBinance, models.MarketSpot)),
		binance.NewFutures(fetcher, endpoints(models.ExchangeBinance, models.MarketFutures)),
		mexc.NewSpot(fetcher, endpoints(models.ExchangeMEXC, models.MarketSpot)),
		mexc.NewFutures(fetcher, endpoints(models.ExchangeMEXC, models.MarketFutures)),
	}

	tickerCache := cache.NewAuto(ctx, cfg.Cache.RedisAddr, cfg.Cache.Prefix, cfg.Cache.MaxEntries)
	gateway := facade.NewGateway(facade.Config{
		Cache:     tickerCache,
		TickerTTL: cfg.GetTickerTTL(),
		Observer:  reg,
	}, adapters...)

	evaluator := scoring.NewEvaluator(cfg.Policy())
	scanner := scan.NewScanner(gateway, evaluator, scan.Config{
		Workers:       cfg.Scan.Workers,
		ExchangeDelay: cfg.GetExchangeDelay(),
		Recorder:      reg,
	})

	log.Debug().
		Str("cache", tickerCache.Name()).
		Int("venues", len(gateway.Venues())).
		Str("fetch_timeout", cfg.GetFetchTimeout().String()).
		Msg("runtime ready")

	return &app{
		cfg:       cfg,
		metrics:   reg,
		breakers:  breakers,
		gateway:   gateway,
		evaluator: evaluator,
		scanner:   scanner,
	}
}
