package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindloop/trendd/internal/batch"
	"github.com/mindloop/trendd/internal/config"
	"github.com/mindloop/trendd/internal/counter"
	"github.com/mindloop/trendd/internal/events"
	"github.com/mindloop/trendd/internal/ingest"
	"github.com/mindloop/trendd/internal/server"
	"github.com/mindloop/trendd/internal/store/postgres"
	trendsync "github.com/mindloop/trendd/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trend aggregation daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// Load configuration.
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// Counter store: Redis when configured, in-process otherwise.
		var cstore counter.Store
		if cfg.RedisAddr != "" {
			rs, err := counter.NewRedisStore(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				return err
			}
			cstore = rs
			logger.Info("counter store: redis", "addr", cfg.RedisAddr)
		} else {
			cstore = counter.NewMemoryStore()
			logger.Warn("counter store: in-process (TRENDD_REDIS_ADDR not set); counters do not survive restarts")
		}

		// Connect to Postgres.
		dstore, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			cstore.Close()
			return err
		}

		// Bus: publisher, batch source, and ingest workers.
		var publisher events.Publisher
		var consumer *ingest.Consumer
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				dstore.Close()
				cstore.Close()
				return err
			}
			publisher = pub

			source, err := events.NewJetStreamSource(cfg.NATSURL, cfg.ConsumerDurable)
			if err != nil {
				publisher.Close()
				dstore.Close()
				cstore.Close()
				return err
			}
			consumer = ingest.NewConsumer(source, cstore, ingest.Config{
				Workers:     cfg.IngestWorkers,
				MaxBatch:    cfg.MaxBatch,
				FetchWait:   cfg.FetchWait,
				DailyTTL:    cfg.DailyTTL,
				RealtimeTTL: cfg.RealtimeTTL,
			}, logger)
			consumer.Start(context.Background())
			logger.Info("ingest started", "nats_url", cfg.NATSURL, "workers", cfg.IngestWorkers)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("bus disabled (TRENDD_NATS_URL not set)")
		}

		// Publish buffer in front of the bus.
		buffer := events.NewBuffer(publisher, cfg.BufferCapacity, cfg.FlushInterval, cfg.MaxBatch, logger)

		// Batch jobs.
		aggregator := batch.NewAggregator(cstore, dstore, batch.Config{
			RollupInterval:       cfg.RollupInterval,
			RebuildInterval:      cfg.RebuildInterval,
			CleanupInterval:      cfg.CleanupInterval,
			RollupDays:           cfg.RollupDays,
			OverlayMinutes:       cfg.OverlayMinutes,
			ScanCount:            cfg.ScanCount,
			LockTTL:              cfg.LockTTL,
			RankTTL:              cfg.RankTTL,
			RebuildFetchLimit:    cfg.RebuildFetchLimit,
			DailyTTL:             cfg.DailyTTL,
			DurableRetentionDays: cfg.DurableRetentionDays,
		}, logger)
		runner := batch.NewRunner(cstore, cfg.LockTTL, aggregator.Jobs(), logger)
		runner.Start()
		logger.Info("batch jobs started",
			"rollup", cfg.RollupInterval, "rebuild", cfg.RebuildInterval, "cleanup", cfg.CleanupInterval)

		// Snapshot export scheduler if configured.
		var scheduler *trendsync.Scheduler
		if cfg.ExportInterval > 0 && cfg.ExportS3Bucket != "" {
			s3Dest, err := trendsync.NewS3Destination(
				context.Background(),
				cfg.ExportS3Bucket,
				cfg.ExportS3Prefix,
				cfg.ExportS3Region,
				cfg.ExportS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 export destination", "err", err)
			} else {
				scheduler = trendsync.NewScheduler(dstore, []trendsync.Destination{s3Dest}, cfg.ExportInterval, logger)
				scheduler.Start()
				logger.Info("score export started", "bucket", cfg.ExportS3Bucket, "interval", cfg.ExportInterval)
			}
		}

		// HTTP server.
		trendServer := server.NewTrendServer(cstore, dstore, buffer, server.Config{
			DefaultLimit: cfg.DefaultLimit,
			MaxLimit:     cfg.MaxLimit,
			RankTTL:      cfg.RankTTL,
		}, logger)
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: trendServer.NewHTTPHandler(),
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		logger.Info("trendd started", "http_addr", cfg.HTTPAddr)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown: stop taking requests, then the schedulers,
		// then drain the buffer, then close the connections.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		runner.Stop()
		logger.Info("batch jobs stopped")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("score export stopped")
		}

		if consumer != nil {
			consumer.Stop()
			logger.Info("ingest stopped")
		}

		buffer.Close()
		logger.Info("event buffer drained")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := dstore.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
		if err := cstore.Close(); err != nil {
			logger.Error("error closing counter store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
