package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mathsnap-api/internal/config"
	"mathsnap-api/internal/debug"
	"mathsnap-api/internal/handler"
	"mathsnap-api/internal/middleware"
	"mathsnap-api/internal/resultcache"
	"mathsnap-api/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "Path to config.json/config.yaml")
	flag.Parse()

	cfg, resolvedCfgPath, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Config loaded", "path", resolvedCfgPath, "model", cfg.Model, "fallback", cfg.FallbackModel)

	if cfg.DebugEnabled {
		debug.CleanupAllLogs()
		slog.Info("Debug log directory reset")
	}

	h := handler.New(cfg)

	cacheMode := strings.ToLower(cfg.ResultCacheMode)
	if cacheMode != "off" {
		stats := resultcache.NewStats()
		h.SetResultStats(stats)

		var baseCache resultcache.Cache
		switch cacheMode {
		case "redis":
			baseCache = resultcache.NewRedisCache(
				cfg.RedisAddr,
				cfg.RedisPassword,
				cfg.RedisDB,
				time.Duration(cfg.ResultCacheTTLSeconds)*time.Second,
				cfg.RedisPrefix,
			)
		case "sharded":
			baseCache = resultcache.NewShardedMemoryCache(cfg.ResultCacheSize, time.Duration(cfg.ResultCacheTTLSeconds)*time.Second, 16)
		default:
			if cfg.ResultCacheSize > 0 {
				baseCache = resultcache.NewMemoryCache(cfg.ResultCacheSize, time.Duration(cfg.ResultCacheTTLSeconds)*time.Second)
			}
		}

		if baseCache != nil {
			h.SetResultCache(resultcache.NewInstrumentedCache(baseCache, stats, "result"))
		}
	}
	slog.Info("Result cache mode", "mode", cacheMode)

	if strings.ToLower(cfg.StoreMode) == "sqlite" {
		uploads, err := store.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			slog.Error("Failed to open upload store", "error", err)
			os.Exit(1)
		}
		defer uploads.Close()
		h.SetUploadStore(uploads)
		slog.Info("Upload store initialized", "path", cfg.StorePath)
	}

	limiter := middleware.NewConcurrencyLimiter(cfg.ConcurrencyLimit, time.Duration(cfg.ConcurrencyTimeout)*time.Second, cfg.AdaptiveTimeout)
	authKey := cfg.APIKey

	protect := middleware.ChainFunc(
		middleware.CORSFunc,
		func(next http.HandlerFunc) http.HandlerFunc { return middleware.APIKeyAuth(authKey, next) },
		limiter.Limit,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/solve/stream", protect(h.HandleSolveStream))
	mux.HandleFunc("/v1/solve", protect(h.HandleSolve))
	mux.HandleFunc("/v1/transcribe", protect(h.HandleTranscribe))
	mux.HandleFunc("/v1/summarize", protect(h.HandleSummarize))
	mux.HandleFunc("/v1/uploads", protect(h.HandleUploads))
	mux.HandleFunc("/v1/uploads/", protect(h.HandleUploads))

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", h.HandleHealth)

	root := middleware.Chain(
		middleware.TraceMiddleware,
		middleware.LoggingMiddleware,
	)(mux)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: root,
		// No WriteTimeout: solve streams stay open past any sane value
		// and enforce their own deadline.
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		slog.Info("Received signal, starting graceful shutdown", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("Server running", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("Server start failed", "error", err)
		os.Exit(1)
	}

	<-idleConnsClosed
	slog.Info("Server shutdown gracefully")
}
