package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rotisserie/eris"

	"listing-geocoder/browser"
	"listing-geocoder/config"
	"listing-geocoder/geocode"
	"listing-geocoder/scraper"
	"listing-geocoder/scraper/airbnb"
	"listing-geocoder/services"
	"listing-geocoder/storage"
	"listing-geocoder/utils"
)

// pipeline holds everything a crawl needs, built once per command.
type pipeline struct {
	Regions  *config.RegionCatalogue
	Pool     *browser.Pool
	Resolver *geocode.Resolver
	Manager  *services.CrawlManager
	Postgres *storage.PostgresWriter
	Insights *services.InsightService

	cache   storage.CoordinateCache
	writers []storage.DatasetWriter
	db      *sql.DB
}

func initPipeline(ctx context.Context) (*pipeline, error) {
	regions, err := loadRegions()
	if err != nil {
		return nil, err
	}
	p := &pipeline{
		Regions:  regions,
		Insights: services.NewInsightService(regions.CostModel(), logger),
	}

	if cfg.CacheBackend == "postgres" || cfg.WritePostgres {
		db, err := storage.OpenPostgres(cfg.DSN())
		if err != nil {
			return nil, eris.Wrap(err, "connect postgres")
		}
		p.db = db
	}

	cache, err := openCache(p.db)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.cache = cache

	csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
	if err != nil {
		p.Close()
		return nil, eris.Wrap(err, "create csv writer")
	}
	p.writers = append(p.writers, csvWriter)

	if cfg.WritePostgres {
		pg, err := storage.NewPostgresWriter(p.db)
		if err != nil {
			p.Close()
			return nil, eris.Wrap(err, "create postgres writer")
		}
		p.Postgres = pg
		p.writers = append(p.writers, pg)
	}

	p.Pool = browser.NewPool(newSessionFactory(), browser.PoolConfig{
		MaxSessions: cfg.MaxConcurrency,
		WaitTimeout: cfg.PoolWaitTimeout,
	}, logger)
	if cfg.WarmSessions > 0 {
		if err := p.Pool.Warm(ctx, cfg.WarmSessions); err != nil {
			logger.Warn("Warming %d sessions failed: %v", cfg.WarmSessions, err)
		}
	}

	orch := scraper.New(p.Pool, airbnb.New("", cfg.ListingsPerPage), scraper.Config{
		MaxPages:                   cfg.PagesToScrape,
		PipelineDepth:              cfg.PipelineDepth,
		MaxRetries:                 cfg.MaxRetries,
		RetryBaseDelay:             cfg.RetryBaseDelay,
		RetryMaxDelay:              cfg.RetryMaxDelay,
		PageInterval:               cfg.PageInterval(),
		PoolExhaustionCeiling:      cfg.PoolExhaustionCeiling,
		MaxConsecutivePageFailures: cfg.MaxConsecutivePageFailures,
	}, logger)

	providers := []geocode.Provider{
		geocode.NewNominatimProvider(cfg.NominatimURL, cfg.GeocoderUserAgent, cfg.GeocodeTimeout),
	}
	if cfg.GoogleGeocodeAPIKey != "" {
		providers = append(providers, geocode.NewGoogleProvider(cfg.GoogleGeocodeAPIKey, cfg.GeocodeTimeout))
	}
	p.Resolver = geocode.NewResolver(geocode.NewCascade(providers...), p.cache, geocode.ResolverConfig{
		RPS:               cfg.GeocodeRPS,
		Burst:             cfg.GeocodeBurst,
		MaxRetries:        cfg.GeocodeMaxRetries,
		RetryBaseDelay:    cfg.RetryBaseDelay,
		RetryMaxDelay:     cfg.RetryMaxDelay,
		CallTimeout:       cfg.ResolutionTimeout,
		MaxRateLimitWaits: 5,
	}, logger)

	p.Manager = services.NewCrawlManager(services.ManagerConfig{
		Crawler:           orch,
		Resolver:          p.Resolver,
		Workers:           utils.NewWorkerPool(cfg.GeocodeConcurrency),
		Writers:           p.writers,
		ResolutionTimeout: cfg.ResolutionTimeout,
	}, logger)

	logger.Info("Pipeline ready: fetch=%s sessions=%d cache=%s geocoders=%d regions=%d",
		cfg.FetchMode, cfg.MaxConcurrency, cfg.CacheBackend, len(providers), len(regions.All()))
	return p, nil
}

func loadRegions() (*config.RegionCatalogue, error) {
	if cfg.RegionsFile == "" {
		return config.DefaultRegions(), nil
	}
	regions, err := config.LoadRegions(cfg.RegionsFile)
	if err != nil {
		return nil, eris.Wrapf(err, "load regions from %s", cfg.RegionsFile)
	}
	return regions, nil
}

func openCache(db *sql.DB) (storage.CoordinateCache, error) {
	switch cfg.CacheBackend {
	case "", "memory":
		return storage.NewMemoryCache(), nil
	case "badger":
		c, err := storage.NewBadgerCache(cfg.BadgerPath)
		if err != nil {
			return nil, eris.Wrap(err, "open badger cache")
		}
		return c, nil
	case "postgres":
		c, err := storage.NewPostgresCache(db)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres cache")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
}

// newSessionFactory prefers headless Chrome and falls back to plain HTTP
// when no browser binary is installed.
func newSessionFactory() browser.Factory {
	if cfg.FetchMode == "browser" {
		bin := cfg.ChromeBin
		if bin == "" {
			bin = browser.FindChromeBinary()
		}
		if bin != "" {
			return browser.NewChromeFactory(browser.ChromeOptions{
				ExecPath:          bin,
				Headless:          cfg.Headless,
				NavigationTimeout: cfg.NavigationTimeout,
				CaptureDelay:      cfg.CaptureDelay,
			}, logger)
		}
		logger.Warn("No Chrome/Chromium binary found, falling back to plain HTTP fetching")
	}
	return browser.NewHTTPFactory(cfg.NavigationTimeout, "")
}

// Close tears the pipeline down in dependency order. Safe on a partially
// built pipeline.
func (p *pipeline) Close() {
	if p.Manager != nil {
		p.Manager.Close()
	}
	if p.Pool != nil {
		if err := p.Pool.Close(); err != nil {
			logger.Warn("Closing session pool: %v", err)
		}
	}
	if p.Resolver != nil {
		st := p.Resolver.Stats()
		logger.Info("Geocoder: %d cache hits, %d provider calls, %d collapsed, %d unresolved",
			st.CacheHits, st.ProviderCalls, st.Collapsed, st.Unresolved)
		p.Resolver.Close()
	}
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			logger.Warn("Closing writer: %v", err)
		}
	}
	if p.cache != nil {
		if err := p.cache.Close(); err != nil {
			logger.Warn("Closing coordinate cache: %v", err)
		}
	}
	if p.db != nil {
		p.db.Close()
	}
}
