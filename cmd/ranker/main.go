// Package main is the entry point for the ranker service: the trending
// ranking scheduler, feed fan-out engine, and their HTTP surface for
// health and metrics.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pulsegram/feedrank/internal/authenticity"
	"github.com/pulsegram/feedrank/internal/config"
	"github.com/pulsegram/feedrank/internal/engine"
	"github.com/pulsegram/feedrank/internal/feed"
	"github.com/pulsegram/feedrank/internal/health"
	"github.com/pulsegram/feedrank/internal/jobs"
	"github.com/pulsegram/feedrank/internal/post"
	"github.com/pulsegram/feedrank/internal/score"
	"github.com/pulsegram/feedrank/internal/tasks"
	"github.com/pulsegram/feedrank/internal/trendcache"
	"github.com/pulsegram/feedrank/internal/trending"
	"github.com/pulsegram/feedrank/internal/user"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Feedrank Ranker Service")
		fmt.Println()
		fmt.Println("Usage: ranker [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := newLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}
	authMetrics := authenticity.NewMetrics()
	if err := authMetrics.Register(registry); err != nil {
		logger.Error("failed to register authenticity metrics", "error", err)
		os.Exit(1)
	}

	// Stores
	posts := post.NewInMemoryRepository()
	users := user.NewInMemoryDirectory()
	follows := user.NewInMemoryFollowGraph()
	checkers := make(map[string]health.Checker)

	var feedRepo feed.Repository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			cancel()
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		cancel()
		feedRepo = feed.NewPostgresRepository(db, logger)
		checkers["database"] = health.NewDBChecker(db)
		logger.Info("feed index backed by postgres")
	} else {
		feedRepo = feed.NewInMemoryRepository()
		logger.Warn("DATABASE_URL not set, feed index is in-memory only")
	}

	// Trending cache
	var cacheStore trendcache.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}()
		cacheStore = trendcache.NewRedisStore(client)
		checkers["cache"] = health.NewCacheChecker(cacheStore)
		logger.Info("trending cache backed by redis", "addr", cfg.RedisAddr)
	} else {
		logger.Warn("REDIS_ADDR not set, trending cache is in-memory only")
	}
	cache := trendcache.NewCache(cacheStore, time.Duration(cfg.CacheTTLMinutes)*time.Minute, logger)

	// Score calibration
	weights, err := score.LoadCalibration(cfg.CalibrationPath)
	if err != nil {
		logger.Warn("calibration load failed, using default weights", "error", err)
	}

	// Subsystems
	submitter := tasks.NewSubmitter("ranker", cfg.TaskWorkers, cfg.TaskQueueSize, logger)
	feeds := feed.NewEngine(feedRepo, posts, follows, jobMetrics, logger)
	spikes := authenticity.NewSpikeDetector(posts, authMetrics, logger)
	adjuster := authenticity.NewAdjuster(posts, users, authMetrics, logger)

	rankingJob := trending.NewJob(trending.JobConfig{
		Posts:    posts,
		Users:    users,
		Feeds:    feeds,
		Spikes:   spikes,
		Adjuster: adjuster,
		Cache:    cache,
		Tasks:    submitter,
		Weights:  weights,
		Settings: trending.Settings{
			MinTrendingScore:   cfg.MinTrendingScore,
			TrendingTopPercent: cfg.TrendingTopPercent,
			TrendingTopCount:   cfg.TrendingTopCount,
		},
		CandidateWindow: time.Duration(cfg.CandidateWindowHours) * time.Hour,
		CandidateLimit:  cfg.CandidateBatchSize,
		Interval:        time.Duration(cfg.RankingIntervalMinutes) * time.Minute,
		Metrics:         jobMetrics,
		Logger:          logger,
	})
	if err := rankingJob.Start(); err != nil {
		logger.Error("failed to start ranking job", "error", err)
		os.Exit(1)
	}
	defer rankingJob.Stop()

	retention := feed.NewRetentionJob(feeds,
		time.Duration(cfg.FeedRetentionDays)*24*time.Hour,
		feed.DefaultRetentionInterval,
		jobMetrics, logger)
	if err := retention.Start(); err != nil {
		logger.Error("failed to start retention job", "error", err)
		os.Exit(1)
	}
	defer retention.Stop()
	defer submitter.Stop()

	eng := engine.New(posts, feeds, rankingJob, cache, spikes, adjuster, submitter, logger)

	// HTTP surface: health, metrics, and a couple of operator endpoints.
	// The engine itself is consumed in-process by the wider system.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.Handler(logger, checkers))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/admin/ranking/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats, err := eng.RunRankingJob(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			slog.Error("failed to write ranking run response", "error", err)
		}
	})
	mux.HandleFunc("/admin/trending", func(w http.ResponseWriter, r *http.Request) {
		trendingPosts, err := eng.GetTrendingPosts(r.Context(), engine.TrendingQuery{
			Limit:   50,
			Hashtag: r.URL.Query().Get("hashtag"),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(trendingPosts); err != nil {
			slog.Error("failed to write trending response", "error", err)
		}
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// newLogger builds the process logger: JSON at info level in
// production, text at debug level otherwise.
func newLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}
