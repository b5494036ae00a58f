package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wonny/marketcache/internal/domain/marketdata"
	"github.com/wonny/marketcache/internal/infra/cache"
	"github.com/wonny/marketcache/internal/infra/database/postgres"
	pgmarket "github.com/wonny/marketcache/internal/infra/database/postgres/marketdata"
	"github.com/wonny/marketcache/internal/infra/external/naver"
	"github.com/wonny/marketcache/internal/infra/external/tiingo"
	"github.com/wonny/marketcache/internal/infra/external/yahoo"
	"github.com/wonny/marketcache/internal/infra/snapshot"
	"github.com/wonny/marketcache/internal/pkg/config"
	"github.com/wonny/marketcache/internal/pkg/logger"
	"github.com/wonny/marketcache/internal/service/pricecache"
)

// app holds the wired loader and everything that must be closed after use.
type app struct {
	loader    *pricecache.Loader
	pool      *postgres.Pool        // nil without DATABASE_URL
	publisher *cache.RedisPublisher // nil without REDIS_ADDR
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires stores, providers and optional sinks from cfg.
// universe may be nil; it contributes Yahoo symbol overrides, and mapped
// symbols are never sent to Tiingo.
func newApp(ctx context.Context, cfg *config.Config, universe *config.Universe, runType string) (*app, error) {
	a := &app{}

	// 1. Snapshot store
	var store marketdata.SnapshotStore
	switch cfg.Cache.Backend {
	case config.BackendSQLite:
		s, err := snapshot.NewSQLiteStore(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		a.closers = append(a.closers, func() { s.Close() })
		store = s
	default:
		store = snapshot.NewFileStore(cfg.Cache.Dir)
	}

	// 2. Providers
	var primary marketdata.BulkSource
	if cfg.Tiingo.APIKey != "" {
		primary = tiingo.NewClient(cfg.Tiingo.APIKey, cfg.Tiingo.BaseURL, cfg.Fetch.Timeout)
	} else {
		log.Warn().Msg("TIINGO_API_KEY not set, full histories come from the secondary provider")
	}

	var symbols map[string]string
	if universe != nil {
		symbols = universe.ProviderSymbols()
	}
	secondary := pricecache.NewRoutedTickerSource(
		yahoo.NewClient(cfg.Yahoo.BaseURL, cfg.Fetch.Timeout, symbols),
	).Route(pricecache.IsKRXCode, naver.NewClient(cfg.Naver.BaseURL, cfg.Fetch.Timeout).WithPageInterval(cfg.Naver.PageInterval))

	orchCfg, err := orchestratorConfig(cfg)
	if err != nil {
		return nil, err
	}
	orchCfg.SecondaryOnly = secondaryOnly(universe)
	orch := pricecache.NewOrchestrator(primary, secondary, orchCfg)

	opts := []pricecache.LoaderOption{pricecache.WithRunType(runType)}

	// 3. Optional sinks: run history (PostgreSQL), latest closes (Redis)
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Run history disabled")
		} else {
			a.pool = pool
			a.closers = append(a.closers, pool.Close)
			opts = append(opts, pricecache.WithRecorder(pgmarket.NewFetchRunRepository(pool.Pool)))
		}
	}
	if cfg.Redis.Addr != "" {
		pub, err := cache.NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Latest-close publishing disabled")
		} else {
			a.publisher = pub
			a.closers = append(a.closers, func() { pub.Close() })
			opts = append(opts, pricecache.WithPublisher(pub))
		}
	}

	a.loader = pricecache.NewLoader(store, orch, opts...)
	return a, nil
}

// secondaryOnly keeps Tiingo away from tickers it would resolve to another
// listing: KRX codes, the FX pair and anything with a provider symbol
// (BHP on ASX is BHP.AX on Yahoo, but BHP on Tiingo is the NYSE ADR).
func secondaryOnly(universe *config.Universe) func(string) bool {
	mapped := map[string]string{}
	fx := ""
	if universe != nil {
		mapped = universe.ProviderSymbols()
		fx = universe.FX
	}
	return func(ticker string) bool {
		if _, ok := mapped[ticker]; ok {
			return true
		}
		if fx != "" && ticker == fx {
			return true
		}
		return pricecache.IsKRXCode(ticker)
	}
}

func orchestratorConfig(cfg *config.Config) (pricecache.OrchestratorConfig, error) {
	start, err := cfg.Cache.Start()
	if err != nil {
		return pricecache.OrchestratorConfig{}, err
	}

	oc := pricecache.DefaultOrchestratorConfig()
	oc.Workers = cfg.Fetch.Workers
	oc.StartDate = start
	oc.Retry.MaxRetries = cfg.Fetch.MaxRetries
	oc.Retry.BaseDelay = cfg.Fetch.BaseDelay
	oc.Retry.MaxDelay = cfg.Fetch.MaxDelay
	oc.Limiter = pricecache.NewTickerLimiter(cfg.Fetch.MinRequestInterval)

	if cfg.Logging.FileEnabled {
		quality := logger.NewQualityLogger(cfg.Logging.FilePath, cfg.Logging.RotationSize, cfg.Logging.RetentionDays)
		oc.QualityLogger = &quality
	}
	return oc, nil
}
