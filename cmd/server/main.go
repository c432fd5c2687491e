package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketplace_support/backend/internal/ai"
	"github.com/marketplace_support/backend/internal/config"
	"github.com/marketplace_support/backend/internal/db"
	"github.com/marketplace_support/backend/internal/events"
	httpapi "github.com/marketplace_support/backend/internal/http"
	"github.com/marketplace_support/backend/internal/http/handlers"
	"github.com/marketplace_support/backend/internal/limiter"
	"github.com/marketplace_support/backend/internal/pubsub"
	"github.com/marketplace_support/backend/internal/redisclient"
	"github.com/marketplace_support/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "marketplace-support").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate db")
		}
	}

	var (
		broker pubsub.Broker = pubsub.NewMemoryBroker()
		rl     service.RateLimiter
		rdb    *redis.Client
	)
	if cfg.RedisURL != "" {
		rdb, err = redisclient.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		broker = pubsub.NewRedisBroker(rdb, logger)
		rl = limiter.NewFixedWindow(rdb, "chat:rl:", cfg.VisitorRateLimit, cfg.VisitorRateWindow)
		logger.Info().Msg("using redis for events and rate limiting")
	} else {
		logger.Info().Msg("REDIS_URL not set, using in-process events without rate limiting")
	}
	defer broker.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQURL != "" {
		p, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect rabbitmq")
		}
		publisher = p
	}
	defer publisher.Close()

	var responder ai.Responder
	if cfg.AIURL == "" {
		responder = ai.MockResponder{}
		logger.Info().Msg("using mock assistant")
	} else {
		responder = ai.NewOpenAICompatResponder(cfg.AIURL, cfg.AIModel, cfg.AIAPIKey, cfg.AIMaxTokens)
	}

	chat := &service.ChatService{
		Store:     store,
		Responder: responder,
		Broker:    broker,
		Limiter:   rl,
		Logger:    logger.With().Str("component", "chat").Logger(),
	}
	conversations := &service.ConversationService{
		Store:  store,
		Broker: broker,
		Logger: logger.With().Str("component", "conversations").Logger(),
	}
	disputes := &service.DisputeService{
		Store:         store,
		Conversations: conversations,
		Broker:        broker,
		Events:        publisher,
		Logger:        logger.With().Str("component", "disputes").Logger(),
	}

	h := &handlers.Handler{
		Store:         store,
		Chat:          chat,
		Conversations: conversations,
		Disputes:      disputes,
		Broker:        broker,
		Validator:     validator.New(),
		Logger:        logger,
		PollInterval:  cfg.PollInterval,
	}
	router := httpapi.Router(cfg, h, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
