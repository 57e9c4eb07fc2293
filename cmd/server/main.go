package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spaceshq/spaces-server/internal/cache"
	"github.com/spaceshq/spaces-server/internal/config"
	"github.com/spaceshq/spaces-server/internal/domain"
	"github.com/spaceshq/spaces-server/internal/events"
	"github.com/spaceshq/spaces-server/internal/handler"
	"github.com/spaceshq/spaces-server/internal/hub"
	"github.com/spaceshq/spaces-server/internal/presence"
	"github.com/spaceshq/spaces-server/internal/registry"
	"github.com/spaceshq/spaces-server/internal/repository"
	"github.com/spaceshq/spaces-server/internal/service"
	"github.com/spaceshq/spaces-server/pkg/database"
	pkglog "github.com/spaceshq/spaces-server/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "spaces-server",
	})
	logger := pkglog.L()

	// Database
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.AutoMigrate(db, &domain.SpaceModel{}, &domain.MessageModel{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Msg("database migration completed")

	spaceRepo := repository.NewGormSpaceRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := spaceRepo.EnsureDefault(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to provision default space")
	}

	// History cache
	var historyCache cache.HistoryCache = cache.Noop{}
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisHistoryCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		historyCache = redisCache
		logger.Info().Str("addr", cfg.Redis.Address).Msg("history cache connected")
	}

	// Message event stream
	var producer events.MessageProducer = events.NoopProducer{}
	if cfg.Kafka.Enabled {
		kafkaProducer, err := events.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		producer = kafkaProducer
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka producer connected")
	}

	// Hub and routing engine
	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	sessions := registry.NewMemory()
	chatSvc := service.NewChatService(
		wsHub,
		sessions,
		messageRepo,
		historyCache,
		cfg.Cache.TTL,
		producer,
		cfg.Chat.DefaultSpace,
	)
	defer chatSvc.Stop()

	// HTTP + websocket
	wsHandler := handler.NewWSHandler(wsHub, chatSvc, cfg.WebSocket)
	httpHandler := handler.NewHTTPHandler(spaceRepo, messageRepo, presence.NewProjector(sessions))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	wsHandler.RegisterRoutes(r)
	httpHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("driver", cfg.Database.Driver).Msg("spaces-server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("stopped")
}
