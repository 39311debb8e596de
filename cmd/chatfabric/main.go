package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatfabric/internal/core/services"
	httphandlers "chatfabric/internal/handlers/http"
	"chatfabric/internal/infrastructure/broadcast"
	"chatfabric/internal/infrastructure/middleware"
	"chatfabric/internal/infrastructure/monitoring"
	"chatfabric/internal/infrastructure/repositories"
	"chatfabric/internal/infrastructure/transport"
	"chatfabric/pkg/config"
	"chatfabric/pkg/lamport"
	"chatfabric/pkg/logger"
	"chatfabric/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/chatfabric/config.yaml",
		"config.yaml",
	}
	if path := os.Getenv("CHATFABRIC_CONFIG"); path != "" {
		configPaths = []string{path}
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("could not load configuration, using defaults", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	directory := repoFactory.DirectoryRepository()
	redisClient := repoFactory.RedisClient()

	hub := broadcast.NewHub(directory, cfg.Broadcast.QueueSize, collector, log.Named("hub"))
	broadcaster, bridge := buildBroadcaster(cfg, redisClient, hub, log)
	if bridge != nil {
		if err := startBridge(ctx, bridge, bridgeStartTimeout, log); err != nil {
			log.Fatalw("failed to start redis bridge", "error", err)
		}
	}

	auditSink := buildAuditSink(cfg, redisClient, collector, log)

	processor := services.NewCommandProcessor(
		directory,
		lamport.NewClock(),
		broadcaster,
		auditSink.recorder(),
		collector,
		services.NewHistory(cfg.Broadcast.HistorySize),
		zapLogger.Named("processor"),
	)

	wsOpts := transport.OptionsFromConfig(cfg)
	commandServer := transport.NewCommandServer(processor, wsOpts, collector, zapLogger.Named("command"))
	eventServer := transport.NewEventServer(hub, wsOpts, collector, zapLogger.Named("events"))

	health := monitoring.NewHealthChecker()
	health.AddDirectoryCheck(directory, time.Second)
	if redisClient != nil {
		health.AddRedisCheck(redisClient, 2*time.Second)
	}
	if bridge != nil {
		health.AddCheck("redis_bridge", bridgeCheck(bridge), time.Second)
	}
	if auditSink.sink != nil {
		health.AddAuditCheck(auditSink.sink.Stats, int64(cfg.Audit.BufferSize), time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg, collector),
	)

	router.GET("/ws/command", gin.WrapF(commandServer.HandleWebSocket))
	router.GET("/ws/events", gin.WrapF(eventServer.HandleWebSocket))
	httphandlers.NewDirectoryHandler(directory).SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    monitoring.StatusHealthy,
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"endpoints": hub.EndpointCount(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout is not set: it would also cap hijacked websocket
		// connections, which manage their own write deadlines.
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting chatfabric server",
			"address", cfg.Server.Address,
			"broadcast_mode", cfg.Broadcast.Mode,
			"redis", redisClient != nil,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	// Stop the bridge before the audit flush so no new events arrive.
	cancel()
	if bridge != nil {
		bridge.Close()
	}

	if err := auditSink.close(shutdownCtx); err != nil {
		log.Errorw("error flushing audit log", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracing", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("chatfabric server stopped")
}
