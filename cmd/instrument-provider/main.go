package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/api"
	"github.com/Checker-Finance/instrument-provider/internal/catalog"
	"github.com/Checker-Finance/instrument-provider/internal/currency"
	"github.com/Checker-Finance/instrument-provider/internal/httpclient"
	"github.com/Checker-Finance/instrument-provider/internal/jobs"
	"github.com/Checker-Finance/instrument-provider/internal/provider"
	"github.com/Checker-Finance/instrument-provider/internal/publisher"
	"github.com/Checker-Finance/instrument-provider/internal/rate"
	internalsecrets "github.com/Checker-Finance/instrument-provider/internal/secrets"
	"github.com/Checker-Finance/instrument-provider/internal/store"
	"github.com/Checker-Finance/instrument-provider/pkg/config"
	"github.com/Checker-Finance/instrument-provider/pkg/logger"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
	"github.com/Checker-Finance/instrument-provider/pkg/secrets"
	"github.com/Checker-Finance/instrument-provider/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.InitWithFile(cfg.ServiceName, cfg.Env, cfg.LogLevel, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Compress:   true,
	})
	defer logger.Sync()
	logg := logger.S()
	logg.Infow("starting [instrument-provider]...", "venue", cfg.Venue)
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}

	registry := currency.NewRegistry()

	// --- Catalog credentials ---
	var creds catalog.CredentialSource = catalog.StaticKey(cfg.CatalogAPIKey)
	if cfg.CatalogSecretName != "" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		keyCache := secrets.NewCache[string](cfg.CacheTTL)
		if cfg.CacheTTL > 0 {
			go keyCache.StartCleaner(ctx, cfg.CacheTTL)
		}
		resolver := internalsecrets.NewResolver(logg.Desugar(), awsProvider, keyCache, catalog.ParseAPIKey)
		creds = catalog.NewSecretKey(resolver, cfg.CatalogSecretName)
		logg.Infow("catalog key from secrets manager", "secret", cfg.CatalogSecretName)
	} else if cfg.CatalogAPIKey != "" {
		logg.Infow("catalog key from environment", "key", utils.MaskKey(cfg.CatalogAPIKey))
	}

	// --- Rate limiter + HTTP executor ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateRPS,
		Burst:             cfg.RateBurst,
	})
	exec := httpclient.New(logg.Desugar(), rateMgr, &http.Client{Timeout: cfg.HTTPClientTimeout}, cfg.HTTPRetryMax, "catalog", nil)
	client := catalog.NewClient(logg.Desugar(), exec, cfg.CatalogBaseURL, cfg.Venue, creds)

	// --- Store (Redis + Postgres hybrid) ---
	var (
		st     *store.HybridStore
		health api.HealthChecker
	)
	loaderOpts := []catalog.LoaderOption{}
	if cfg.StoreEnabled {
		st, err = store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, logg.Desugar())
		if err != nil {
			logg.Fatalw("failed to init store", "error", err)
		}
		health = st
		loaderOpts = append(loaderOpts, catalog.WithStore(st))
	}

	loader := catalog.NewLoader(logg.Desugar(), client, cfg.Venue, registry, loaderOpts...)

	// --- Async execution context for the synchronous load entry points ---
	runner := jobs.NewRunner(logg.Desugar(), 64)
	go runner.Start(ctx)

	prov, err := provider.New(logg.Desugar(), loader, registry, provider.Config{
		Venue:       cfg.Venue,
		LoadAll:     cfg.Provider.LoadAll,
		LoadIDs:     cfg.Provider.LoadIDs,
		Filters:     cfg.Provider.Filters,
		LoadTimeout: cfg.Provider.LoadTimeout,
	}, provider.WithScheduler(runner))
	if err != nil {
		logg.Fatalw("failed to init provider", "error", err)
	}

	// --- NATS + publisher ---
	var (
		nc  *nats.Conn
		pub *publisher.Publisher
		bus api.Connectivity
		evt jobs.EventPublisher
	)
	if cfg.NATSEnabled {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = publisher.New(nc, cfg.OutboundSubject, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		bus, evt = pub, pub
	}

	// --- Periodic refresh ---
	var refresher *jobs.Refresher
	if cfg.RefreshInterval > 0 {
		refresher = jobs.NewRefresher(logg.Desugar(), prov, evt, cfg.Venue, prov.Filters(), cfg.RefreshInterval)
		go refresher.Start(ctx)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	api.RegisterRoutes(app, api.NewInstrumentHandler(logg.Desugar(), prov, evt), bus, health)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	go initialize(ctx, logg.Desugar(), prov, evt, cfg.InitRetry)

	logg.Infow("[instrument-provider] running",
		"venue", cfg.Venue,
		"env", cfg.Env,
		"load_all", cfg.Provider.LoadAll,
		"load_ids", len(cfg.Provider.LoadIDs),
		"refresh_interval", cfg.RefreshInterval)

	<-ctx.Done()
	logg.Info("shutting down [instrument-provider]...")

	if refresher != nil {
		refresher.Stop()
	}
	runner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logg.Warnw("store.close_failed", "error", err)
		}
	}
}

// initialize runs the start-up load, retrying until it succeeds or ctx ends,
// and announces the first successful load.
func initialize(ctx context.Context, log *zap.Logger, prov *provider.Provider, pub jobs.EventPublisher, retry time.Duration) {
	for {
		start := time.Now()
		err := prov.Initialize(ctx)
		if err == nil {
			if pub != nil {
				evt := model.InstrumentsLoadedEvent{
					Venue:      prov.Venue(),
					Count:      prov.Count(),
					Trigger:    "initialize",
					LoadedAt:   time.Now().UTC(),
					DurationMS: time.Since(start).Milliseconds(),
				}
				if err := pub.PublishInstrumentsLoaded(ctx, evt); err != nil {
					log.Warn("provider.initialize_publish_failed", zap.Error(err))
				}
			}
			return
		}

		log.Error("provider.initialize_failed", zap.Error(err), zap.Duration("retry_in", retry))
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
