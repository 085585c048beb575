package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/otpbay/otpbay/internal/config"
	"github.com/otpbay/otpbay/internal/handlers"
	"github.com/otpbay/otpbay/internal/repository"
	"github.com/otpbay/otpbay/internal/service"
	"github.com/otpbay/otpbay/pkg/cache"
	"github.com/otpbay/otpbay/pkg/crypto"
	"github.com/otpbay/otpbay/pkg/database"
	"github.com/otpbay/otpbay/pkg/messaging"
	"github.com/otpbay/otpbay/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.App.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	log.WithFields(logrus.Fields{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	}).Info("Starting otpbay server")

	encryptor, err := crypto.NewEncryptor(cfg.App.EncryptionKey)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize encryptor")
	}

	db, err := database.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.DBName, cfg.MongoDB.Timeout)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer db.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisCache.Close()

	// The broker is optional: order events are best-effort and the service
	// keeps selling numbers without them.
	var publisher messaging.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URL)
		if err != nil {
			log.WithError(err).Warn("RabbitMQ unavailable, order events disabled")
		} else {
			publisher = rabbit
			defer rabbit.Close()
		}
	}

	providerRepo := repository.NewProviderRepository(db, encryptor, log)
	orderRepo := repository.NewOrderRepository(db, log)
	userRepo := repository.NewUserRepository(db, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	indexCtx, indexCancel := context.WithTimeout(ctx, 30*time.Second)
	defer indexCancel()
	for _, create := range []func(context.Context) error{
		providerRepo.CreateIndexes,
		orderRepo.CreateIndexes,
		userRepo.CreateIndexes,
	} {
		if err := create(indexCtx); err != nil {
			log.WithError(err).Warn("Failed to create indexes")
		}
	}

	if cfg.Registry.SeedPath != "" {
		if err := providerRepo.SeedFromFile(indexCtx, cfg.Registry.SeedPath); err != nil {
			log.WithError(err).Warn("Failed to seed providers")
		}
	}

	metrics := service.NewMetrics()

	events, err := service.NewEventPublisher(publisher, log)
	if err != nil {
		log.WithError(err).Warn("Failed to declare order events exchange, events disabled")
		events, _ = service.NewEventPublisher(nil, log)
	}

	registry := service.NewRegistry(providerRepo, cfg.Registry.CacheTTL, log)
	prices := service.NewPriceCache(redisCache, cfg.Relay.PriceCacheTTL, log)
	relay := service.NewRelay(registry, cfg.Relay.UpstreamTimeout, prices, metrics, log)
	orderService := service.NewOrderService(
		orderRepo, userRepo, repository.NewTxRunner(db),
		events, metrics, cfg.Orders.Expiry, log,
	)

	go orderService.StartSweeper(ctx, cfg.Orders.SweepInterval)

	handler := handlers.NewHTTPHandler(orderService, relay, log)
	auth := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
	}))
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		router.Use(limiter.Middleware())
	}

	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.Any("/api/proxy", auth.OptionalAuthenticate(), handler.Proxy)

	api := router.Group("/api/v1", auth.Authenticate())
	{
		api.POST("/orders", handler.PurchaseOrder)
		api.POST("/orders/:order_id/status", handler.UpdateOrderStatus)
		api.GET("/orders", handler.ListOrders)
		api.GET("/orders/active", handler.ActiveOrder)
		api.GET("/profile", handler.Profile)
		api.POST("/recharge", handler.Recharge)
	}

	router.POST("/internal/sweep", handler.Sweep)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}

	log.Info("Server stopped")
}
