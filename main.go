package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"collab-service/internal/auth"
	"collab-service/internal/config"
	"collab-service/internal/db"
	grpcserver "collab-service/internal/grpc"
	"collab-service/internal/handlers"
	"collab-service/internal/middleware"
	"collab-service/internal/observability"
	"collab-service/internal/rabbitmq"
	"collab-service/internal/realtime"
	"collab-service/internal/repositories"
	"collab-service/internal/storage"
	"collab-service/internal/telemetry"
	"collab-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.Log)
	logger := observability.L()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Log.ServiceName, cfg.Telemetry)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}

	database, err := db.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	bus, presence, closeRedis := newRealtime(cfg.Redis)
	defer closeRedis()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditKey, cfg.Log.ServiceName, cfg.Server.Environment)

	var blobs storage.BlobStore
	if cfg.Storage.Endpoint != "" || cfg.Storage.AccessKeyID != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			logger.Warn().Err(err).Msg("blob store disabled")
		} else {
			blobs = s3Store
		}
	} else {
		logger.Info().Msg("blob store not configured, image messages disabled")
	}

	sessionRepo := repositories.NewSessionRepo(database)
	participantRepo := repositories.NewParticipantRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	reactionRepo := repositories.NewReactionRepo(database)
	profileRepo := repositories.NewProfileRepo(database)

	hub := ws.NewHub(bus, presence, cfg.Room.WriteWait)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start room hub")
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	sessionHandler := handlers.NewSessionHandler(sessionRepo, participantRepo, profileRepo, hub, audit)
	messageHandler := handlers.NewMessageHandler(messageRepo, participantRepo, blobs, hub, audit)
	reactionHandler := handlers.NewReactionHandler(reactionRepo, messageRepo, participantRepo, hub, audit)
	profileHandler := handlers.NewProfileHandler(profileRepo)
	roomWS := ws.NewRoomWebSocketHandler(hub, participantRepo, verifier, cfg.Room)

	if cfg.Server.Environment != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Log.ServiceName))
	router.Use(observability.RequestLogger(*logger))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.Debug)

	authed := router.Group("/", middleware.AuthMiddleware(verifier))
	authed.GET("/sessions", sessionHandler.ListSessions)
	authed.POST("/sessions", sessionHandler.CreateSession)
	authed.POST("/sessions/:session_id/join", sessionHandler.JoinSession)
	authed.DELETE("/sessions/:session_id/participants/me", sessionHandler.LeaveSession)
	authed.GET("/sessions/:session_id/participants", sessionHandler.ListParticipants)

	authed.GET("/sessions/:session_id/messages", messageHandler.ListMessages)
	authed.POST("/sessions/:session_id/messages", messageHandler.PostMessage)
	authed.POST("/sessions/:session_id/messages/image", messageHandler.PostImageMessage)

	authed.GET("/sessions/:session_id/reactions", reactionHandler.ListReactions)
	authed.POST("/sessions/:session_id/messages/:message_id/reactions", reactionHandler.AddReaction)
	authed.DELETE("/sessions/:session_id/messages/:message_id/reactions", reactionHandler.RemoveReaction)

	authed.GET("/profiles", profileHandler.BulkProfiles)
	authed.GET("/profiles/:user_id", profileHandler.GetProfile)

	// the websocket handshake authenticates itself so browsers can pass ?token=
	router.GET("/ws/sessions/:session_id", roomWS.Handle)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	grpcSrv := grpcserver.NewServer()
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		logger.Fatal().Err(err).Int("port", cfg.GRPC.Port).Msg("failed to listen for grpc")
	}

	go func() {
		logger.Info().Int("port", cfg.GRPC.Port).Msg("grpc health server started")
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()
	grpcSrv.SetServing(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("received shutdown signal")

	grpcSrv.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	grpcSrv.Shutdown(shutdownCtx)
	stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown failed")
	}
	logger.Info().Msg("collab-service stopped")
}

// newRealtime picks the Redis bus and presence store when Redis is configured,
// falling back to in-process ones for a single instance.
func newRealtime(cfg config.RedisConfig) (realtime.Bus, realtime.PresenceStore, func()) {
	logger := observability.L()
	if cfg.Address == "" {
		logger.Info().Msg("redis not configured, using in-process room bus")
		bus := realtime.NewLocalBus()
		return bus, realtime.NewMemoryPresence(), func() { _ = bus.Close() }
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("address", cfg.Address).Msg("failed to connect to redis")
	}

	logger.Info().Str("address", cfg.Address).Msg("redis room bus enabled")
	bus := realtime.NewRedisBus(client)
	return bus, realtime.NewRedisPresence(client), func() {
		_ = bus.Close()
		_ = client.Close()
	}
}
