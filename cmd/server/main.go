package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/analytics"
	"github.com/jack/shortlink-resolver/internal/app"
	"github.com/jack/shortlink-resolver/internal/codegen"
	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/geo"
	"github.com/jack/shortlink-resolver/internal/handler"
	"github.com/jack/shortlink-resolver/internal/logger"
	"github.com/jack/shortlink-resolver/internal/middleware"
	"github.com/jack/shortlink-resolver/internal/recorder"
	"github.com/jack/shortlink-resolver/internal/resolver"
	"github.com/jack/shortlink-resolver/internal/scheduler"
	"github.com/jack/shortlink-resolver/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(&cfg.App)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	stores, err := app.Open(cfg, app.Options{Migrate: true}, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to open storage", zap.Error(err))
	}
	defer stores.Close()

	locator, err := geo.New(&cfg.Geo)
	if err != nil {
		zapLogger.Fatal("failed to open geo database", zap.String("path", cfg.Geo.DatabasePath), zap.Error(err))
	}
	defer func() { _ = locator.Close() }()

	clickRecorder := recorder.New(stores.Events, locator, &cfg.Recorder, zapLogger)
	clickRecorder.Start()

	if cfg.Analytics.Retention > 0 {
		retention := scheduler.NewRetentionScheduler(stores.Events, cfg.Analytics.Retention, cfg.Analytics.RetentionSweep, zapLogger)
		retention.Start()
		defer retention.Stop()
	}

	linkService := service.NewLinkService(stores.Links, stores.Events, codegen.NewGenerator(&cfg.Code), cfg, zapLogger)
	linkResolver := resolver.New(stores.Links, clickRecorder, zapLogger)
	aggregator := analytics.NewAggregator(stores.Events, &cfg.Analytics)

	checks := make(map[string]handler.HealthCheck, len(stores.Checks))
	for name, check := range stores.Checks {
		checks[name] = check
	}
	h := handler.NewHandler(linkService, linkResolver, aggregator, checks, zapLogger)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(zapLogger))
	router.Use(middleware.StructuredLogging(zapLogger))
	router.Use(middleware.PrometheusMetrics())

	// Behind a proxy ClientIP() is only trustworthy for these sources.
	if err := router.SetTrustedProxies([]string{"127.0.0.1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}); err != nil {
		zapLogger.Fatal("invalid trusted proxies", zap.Error(err))
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	SetupSwagger(router, &cfg.Auth)

	var limit []gin.HandlerFunc
	if stores.Redis != nil {
		limit = append(limit, middleware.NewRateLimiter(stores.Redis.Client(), &cfg.RateLimit, "public", zapLogger).Middleware())
	} else {
		zapLogger.Warn("redis disabled, rate limiting is off")
	}
	h.RegisterRoutes(router, limit...)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zapLogger.Info("server starting", zap.String("port", cfg.App.Port), zap.String("base_url", cfg.App.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	// In-flight requests are done, so the queue only drains from here.
	clickRecorder.Stop()

	zapLogger.Info("server exited properly", zap.Int64("clicks_dropped", clickRecorder.Dropped()))
}
