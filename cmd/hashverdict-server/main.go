package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/hashverdict/internal/config"
	"github.com/jmerrifield20/hashverdict/internal/scanner/handler"
	"github.com/jmerrifield20/hashverdict/internal/scanner/service"
	"github.com/jmerrifield20/hashverdict/internal/threat"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// HASHVERDICT_CONFIG names an explicit config file; otherwise
	// configs/hashverdict.yaml or ./hashverdict.yaml is used when present.
	if err := run(os.Getenv("HASHVERDICT_CONFIG"), logger); err != nil {
		logger.Fatal("hashverdict exited with error", zap.Error(err))
	}
}

func run(cfgFile string, logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Reputation provider ───────────────────────────────────────────────────
	var provider threat.Provider = threat.NewVirusTotalClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, nil, logger)
	provider = threat.WithTimeout(provider, cfg.Provider.Timeout)
	provider = threat.WithRateLimit(provider, threat.PerMinute(cfg.Provider.RequestsPerMinute))
	provider = threat.Instrument(provider, handler.ObserveLookup)

	if cfg.Provider.Timeout == 0 {
		logger.Warn("provider.timeout is 0, upstream lookups are unbounded")
	}
	if cfg.Scan.CollapseUpstreamErrors {
		logger.Info("upstream errors render as 200 null (scan.collapse_upstream_errors)")
	}

	svc := service.NewScanService(provider, logger)
	scanHandler := handler.NewScanHandler(svc, handler.Config{
		AuthHeader:             cfg.Auth.Header,
		AuthToken:              cfg.Auth.Token,
		CollapseUpstreamErrors: cfg.Scan.CollapseUpstreamErrors,
	}, logger)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", cfg.Auth.Header},
		ExposeHeaders:    []string{"Content-Length", handler.HeaderRequestID, handler.HeaderDigest, handler.HeaderSeverity},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	scanHandler.Register(&router.RouterGroup)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hashverdict HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down hashverdict...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("hashverdict stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.Writer.Header().Get(handler.HeaderRequestID)),
		)
	}
}
