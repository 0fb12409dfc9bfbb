package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/weiawesome/wes-io-live/session-service/internal/access"
	"github.com/weiawesome/wes-io-live/session-service/internal/config"
	"github.com/weiawesome/wes-io-live/session-service/internal/fanout"
	"github.com/weiawesome/wes-io-live/session-service/internal/gateway"
	"github.com/weiawesome/wes-io-live/session-service/internal/handler"
	"github.com/weiawesome/wes-io-live/session-service/internal/hub"
	"github.com/weiawesome/wes-io-live/session-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/session-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/session-service/internal/service"
	"github.com/weiawesome/wes-io-live/session-service/internal/store"
	"github.com/weiawesome/wes-io-live/session-service/pkg/database"
	"github.com/weiawesome/wes-io-live/session-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
	"github.com/weiawesome/wes-io-live/session-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/session-service/pkg/pubsub"
)

func main() {
	// A .env file is optional; real deployments set the environment directly.
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Log.InstanceID == "" {
		cfg.Log.InstanceID = uuid.New().String()
	}
	log.Init(cfg.Log)
	logger := log.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting session-service")
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file loaded")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	// Room state store
	roomStore, err := store.NewRedisRoomStore(cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer roomStore.Close()
	logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	// Video registry and permissions
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db, access.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	repo := access.NewGormRepository(db)
	perms := access.NewCachedResolver(repo, cfg.Auth.RoleCacheTTL)
	revoked := access.NewRedisRevocationList(roomStore.Client(), cfg.Auth.RevocationPrefix)
	videos := access.NewRedisVideoCache(roomStore.Client(), cfg.Redis.Prefix, cfg.Auth.VideoCacheTTL, repo)

	tokens, err := jwt.NewManager(cfg.Auth.JWT)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure token verification")
	}

	// Cross-process fan-out
	bus, err := pubsub.Open(cfg.PubSub, cfg.Log.InstanceID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize fan-out bus")
	}
	defer bus.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("fan-out bus ready")

	// Session events, optional
	var events kafka.SessionEventProducer = kafka.NopProducer{}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka producer, session events disabled")
		} else {
			events = producer
			logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
		}
	}
	events = kafka.Instrument(events, m)
	defer events.Close()

	ctx, cancel := context.WithCancel(log.WithLogger(context.Background(), logger))
	defer cancel()

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run(ctx)

	rooms := fanout.New(wsHub, bus, cfg.Log.InstanceID, m)
	sessions := service.NewCoordinator(wsHub, roomStore, perms, rooms, events, service.Options{
		DrawLockTTL:    cfg.Session.DrawLockTTL,
		StaleHeartbeat: cfg.Session.StaleHeartbeat,
	})
	rooms.OnAssignHost(sessions.AssignHost)
	if err := rooms.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start room fan-out")
	}

	// Handlers
	wsHandler := handler.NewWSHandler(wsHub, gateway.New(tokens, revoked, videos), sessions, handler.WSOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        m,
	})
	wsMux := http.NewServeMux()
	wsHandler.RegisterRoutes(wsMux)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), log.GinMiddleware(logger))
	handler.NewHandler(sessions, perms, access.Invalidators{perms, videos}, middleware.NewAuthMiddleware(tokens, revoked), cfg.Server.InternalToken).RegisterRoutes(engine)
	if m != nil {
		engine.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	// CORS covers the browser-facing API; the socket checks origins itself.
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{middleware.AuthHeaderKey, "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", log.UpgradeMiddleware(logger)(wsMux))
	mux.Handle("/", corsHandler.Handler(engine))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("session-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down session-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()

	logger.Info().Msg("session-service stopped")
}
