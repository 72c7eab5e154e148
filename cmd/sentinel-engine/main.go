package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/logsentinel/sentinel/internal/api"
	"github.com/logsentinel/sentinel/internal/cache"
	"github.com/logsentinel/sentinel/internal/config"
	"github.com/logsentinel/sentinel/internal/engine"
	"github.com/logsentinel/sentinel/internal/ensemble"
	"github.com/logsentinel/sentinel/internal/explain"
	"github.com/logsentinel/sentinel/internal/extractors"
	"github.com/logsentinel/sentinel/internal/feedback"
	"github.com/logsentinel/sentinel/internal/httpapi"
	"github.com/logsentinel/sentinel/internal/ingest"
	"github.com/logsentinel/sentinel/internal/metrics"
	"github.com/logsentinel/sentinel/internal/modelstore"
	"github.com/logsentinel/sentinel/internal/repo"
	"github.com/logsentinel/sentinel/internal/scorers"
	"github.com/logsentinel/sentinel/internal/services"
	"github.com/logsentinel/sentinel/internal/utils"
	"github.com/logsentinel/sentinel/internal/window"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting sentinel-engine",
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheProvider := newCache(cfg.Cache, logger)
	defer cacheProvider.Close()

	var store *feedback.Store
	if cfg.Storage.SQLitePath != "" {
		sqliteRepo, err := repo.NewSQLiteRepo(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Error("failed to open feedback database", slog.String("path", cfg.Storage.SQLitePath), slog.Any("error", err))
			os.Exit(1)
		}
		defer sqliteRepo.Close()
		if err := sqliteRepo.Ping(ctx); err != nil {
			logger.Error("feedback database unreachable", slog.Any("error", err))
			os.Exit(1)
		}
		store = feedback.NewStore(sqliteRepo, logger)
		if err := store.Restore(ctx); err != nil {
			logger.Warn("feedback restore failed", slog.Any("error", err))
		}
	} else {
		store = feedback.NewStore(nil, logger)
	}

	params := scorers.DefaultParams()
	params.Contamination = cfg.Ensemble.Contamination
	params.Seed = cfg.Ensemble.Seed
	params.Trees = cfg.Ensemble.Trees
	params.Neighbors = cfg.Ensemble.Neighbors
	params.BackgroundSize = cfg.Explain.BackgroundSize
	newScorers := func() []ensemble.Scorer { return scorers.NewDefaultSet(params) }

	detector, err := ensemble.New(cfg.Ensemble.Contamination, logger, newScorers()...)
	if err != nil {
		logger.Error("failed to build ensemble", slog.Any("error", err))
		os.Exit(1)
	}
	training := extractors.SyntheticTrainingSet(cfg.Ensemble.TrainingSamples, cfg.Ensemble.Seed)
	prepareModel(detector, training, cfg.Ensemble.ModelDir, logger)

	explainer := explain.New(detector, cacheProvider, cfg.Explain.CacheTTL, logger)

	severity, err := engine.LoadSeverityRules(cfg.Severity.RulesPath, logger)
	if err != nil {
		logger.Error("failed to load severity rules", slog.Any("error", err))
		os.Exit(1)
	}

	windows := window.NewEngine(cfg.Window.Retention, nil, logger)
	pipeline := engine.NewPipeline(logger, windows, detector, explainer, store, severity)
	pipeline.UseImportanceSample(training, cfg.Explain.GlobalSampleSize)

	service := services.NewSentinelService(logger, pipeline)
	grpcServer, err := api.NewServer(cfg.Server, service)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}
	grpcServer.SetReady(pipeline.Health().Ready())

	go func() {
		logger.Info("gRPC server listening", slog.String("address", grpcServer.Address()))
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	handler := httpapi.NewHandler(logger, pipeline, prometheus.DefaultGatherer)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go handler.Hub().Run(ctx, cfg.Telemetry.PushInterval)
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	if cfg.Kafka.Enabled {
		startIngest(ctx, cfg.Kafka, pipeline, logger)
	}

	if cfg.Ensemble.Watch {
		watcher, err := modelstore.NewWatcher(cfg.Ensemble.ModelDir, newScorers, detector, func() {
			explainer.Reset()
			grpcServer.SetReady(true)
		}, logger)
		if err != nil {
			logger.Warn("model watcher disabled", slog.Any("error", err))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("model watcher stopped", slog.Any("error", err))
				}
			}()
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grpcServer.GracefulTimeout())
	defer cancel()
	grpcServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("sentinel-engine stopped", slog.Duration("evaluate_p95", service.LatencyP95()))
}

func newCache(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled || cfg.Addr == "" {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}

// prepareModel loads saved artifacts, or fits on the synthetic baseline and
// saves the result for the next start.
func prepareModel(detector *ensemble.Ensemble, training [][]float64, dir string, logger *slog.Logger) {
	if dir != "" {
		err := detector.Load(dir)
		if err == nil {
			return
		}
		logger.Info("no usable model artifacts, fitting baseline", slog.String("dir", dir), slog.Any("error", err))
	}
	start := time.Now()
	if err := detector.Fit(training); err != nil {
		logger.Error("ensemble fit failed, serving not ready", slog.Any("error", err))
		return
	}
	logger.Info("ensemble fitted", slog.Int("rows", len(training)), slog.Duration("took", time.Since(start)))
	if dir == "" {
		return
	}
	if err := detector.Save(dir); err != nil {
		logger.Warn("failed to save model artifacts", slog.Any("error", err))
	}
}

func startIngest(ctx context.Context, cfg config.KafkaConfig, pipeline *engine.Pipeline, logger *slog.Logger) {
	client, err := ingest.NewClient(cfg)
	if err != nil {
		logger.Warn("kafka ingestion disabled", slog.Any("error", err))
		return
	}
	var publisher ingest.Publisher
	if cfg.ResultTopic != "" {
		publisher = ingest.NewKafkaPublisher(client, cfg.ResultTopic)
	}
	consumer := ingest.NewConsumer(client, pipeline, publisher, logger)
	go func() {
		defer client.Close()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("kafka consumer stopped", slog.Any("error", err))
		}
	}()
}
