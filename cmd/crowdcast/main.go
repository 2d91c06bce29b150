package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"crowdcast/internal/config"
	"crowdcast/internal/consensus"
	"crowdcast/internal/database"
	"crowdcast/internal/engine"
	"crowdcast/internal/feed"
	"crowdcast/internal/metrics"
	"crowdcast/internal/oracle"
	"crowdcast/internal/resolution"
	"crowdcast/internal/scoring"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		logger.Error("cannot connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := database.NewPostgresRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	prices := oracle.NewQuoteClient(logger.With("component", "oracle"), oracle.QuoteClientOptions{
		BaseURL:         cfg.Oracle.BaseURL,
		APIKey:          cfg.Oracle.APIKey,
		RequestTimeout:  cfg.Oracle.RequestTimeout,
		RequestsPerSec:  cfg.Oracle.RequestsPerSec,
		MaxRetryElapsed: cfg.Oracle.MaxRetryElapsed,
	}, repo)

	scorer := scoring.NewScorer(logger.With("component", "scorer"), repo, cfg.Scoring.DecayFactor, cfg.Scoring.MaxLookbackDays)

	aggregator := consensus.NewAggregator(logger.With("component", "consensus"), repo, prices, consensus.Policy{
		MinResolved:       cfg.Consensus.MinResolved,
		EqualMethod:       cfg.Consensus.EqualMethod,
		FallbackWeight:    cfg.Consensus.FallbackWeight,
		MarketPriceSource: cfg.Consensus.MarketPriceSource,
	})

	job := resolution.NewJob(logger.With("component", "resolution"), repo, prices, scorer, aggregator, resolution.Options{
		Universe:       cfg.Universe,
		Workers:        cfg.Resolution.Workers,
		SnapshotWindow: cfg.Resolution.SnapshotWindow,
	})

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.New()
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	eng := engine.New(logger.With("component", "engine"), repo, prices, aggregator, job, recorder, cfg.Universe)

	if cfg.Feed.Enabled {
		feedClient := feed.NewClient(logger.With("component", "feed"), repo, cfg.Feed.URL, cfg.Universe, cfg.Feed.SnapshotInterval)
		go func() {
			if err := feedClient.StartStream(ctx); err != nil {
				logger.Error("price feed stopped", "error", err)
			}
		}()
	}

	logger.Info("crowdcast started",
		"universe", len(cfg.Universe),
		"interval", cfg.Resolution.Interval.String(),
	)

	ticker := time.NewTicker(cfg.Resolution.Interval)
	defer ticker.Stop()

	// The pass itself runs inline on the tick goroutine, so two passes can
	// never overlap; a tick arriving mid-pass is simply dropped by the ticker.
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			result, err := eng.OnScheduledTick(ctx)
			if err != nil {
				logger.Error("scheduled pass failed", "error", err)
				continue
			}
			if result.Resolved > 0 || result.Failed > 0 || result.Expired > 0 {
				logger.Info("scheduled pass done",
					"resolved", result.Resolved,
					"expired", result.Expired,
					"failed", result.Failed,
					"failedTickers", result.FailedTickers,
				)
			}
		}
	}
}
