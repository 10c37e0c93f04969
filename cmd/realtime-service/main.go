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
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chatHandler "github.com/luli-tech/taskPadi-be/internal/handler/http/chat"
	presenceHandler "github.com/luli-tech/taskPadi-be/internal/handler/http/presence"
	videoHandler "github.com/luli-tech/taskPadi-be/internal/handler/http/video"
	wsHandler "github.com/luli-tech/taskPadi-be/internal/handler/ws"
	"github.com/luli-tech/taskPadi-be/internal/hub"
	"github.com/luli-tech/taskPadi-be/internal/middleware"
	"github.com/luli-tech/taskPadi-be/internal/presence"
	"github.com/luli-tech/taskPadi-be/internal/relay"
	"github.com/luli-tech/taskPadi-be/internal/repository/cassandra"
	"github.com/luli-tech/taskPadi-be/internal/repository/cockroach"
	redisRepo "github.com/luli-tech/taskPadi-be/internal/repository/redis"
	chatService "github.com/luli-tech/taskPadi-be/internal/service/chat"
	"github.com/luli-tech/taskPadi-be/internal/service/storage"
	videoService "github.com/luli-tech/taskPadi-be/internal/service/video"
	"github.com/luli-tech/taskPadi-be/pkg/config"
	"github.com/luli-tech/taskPadi-be/pkg/database"
	"github.com/luli-tech/taskPadi-be/pkg/jwt"
	"github.com/luli-tech/taskPadi-be/pkg/logger"
	"github.com/luli-tech/taskPadi-be/pkg/metrics"
	"github.com/luli-tech/taskPadi-be/pkg/resilience"
)

const shutdownTimeout = 30 * time.Second

// connectRetry retries store connections at startup while dependencies come up
var connectRetry = resilience.Config{
	MaxFailures: 10,
	Attempts:    5,
	Backoff:     time.Second,
	Timeout:     time.Minute,
}

func main() {
	ctx := context.Background()

	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		logger.InitDefault()
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		logger.InitDefault()
		logger.Warn("Falling back to default logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 2. CockroachDB
	var db *database.CockroachDB
	err = resilience.NewBreaker("cockroach", connectRetry).Execute(ctx, "connect", func(ctx context.Context) error {
		var connErr error
		db, connErr = database.NewCockroachDB(ctx, cfg.Database)
		if connErr != nil {
			logger.Warn("CockroachDB connection attempt failed", zap.Error(connErr))
		}
		return connErr
	})
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	logger.Info("Connected to CockroachDB")

	callRepo := cockroach.NewCallRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)
	groupRepo := cockroach.NewGroupRepository(db.Pool)
	notificationRepo := cockroach.NewNotificationRepository(db.Pool)

	// 3. Redis
	var redisDB *database.RedisDB
	err = resilience.NewBreaker("redis", connectRetry).Execute(ctx, "connect", func(ctx context.Context) error {
		var connErr error
		redisDB, connErr = database.NewRedisDB(ctx, cfg.Redis)
		return connErr
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Info("Connected to Redis")

	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)
	revocationRepo := redisRepo.NewRevocationRepository(redisDB.Client)

	// 4. Cassandra (chat messages)
	var cassandraDB *database.CassandraDB
	if cfg.Cassandra.Enabled {
		err = resilience.NewBreaker("cassandra", connectRetry).Execute(ctx, "connect", func(context.Context) error {
			var connErr error
			cassandraDB, connErr = database.NewCassandraDB(cfg.Cassandra)
			return connErr
		})
		if err != nil {
			logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
		}
		logger.Info("Connected to Cassandra", zap.String("keyspace", cfg.Cassandra.Keyspace))
	} else {
		logger.Warn("Cassandra disabled, chat relay is unavailable")
	}

	// 5. Relay backend
	bus, err := openBus(cfg, redisDB)
	if err != nil {
		logger.Fatal("Failed to open relay backend", zap.Error(err))
	}

	var bridge *relay.Bridge
	if bus != nil {
		frameType := websocket.BinaryMessage
		if cfg.Realtime.RelayFrameMode == config.FrameModeText {
			frameType = websocket.TextMessage
		}
		bridge = relay.NewBridge(bus, relay.Options{
			FrameType:    frameType,
			WriteWait:    cfg.Realtime.WriteWait,
			PongWait:     cfg.Realtime.PongWait,
			PingInterval: cfg.Realtime.HeartbeatInterval,
			Metrics:      appMetrics,
		})
		logger.Info("Media relay enabled",
			zap.String("backend", bus.Name()),
			zap.String("frame_mode", cfg.Realtime.RelayFrameMode))
	} else {
		logger.Warn("Media relay disabled, relay connections will get 503")
	}

	// 6. Registry, presence and services
	registry := hub.New(cfg.Realtime.SendBuffer, appMetrics)
	broadcaster := presence.NewBroadcaster(registry, presenceRepo)

	videoSvc := videoService.NewService(
		callRepo, userRepo, groupRepo, notificationRepo,
		registry, appMetrics, cfg.Realtime.RingingDelay,
	)

	var chatSvc *chatService.Service
	if cassandraDB != nil {
		var images chatService.ImageResolver
		if cfg.MinIO.Endpoint != "" {
			resolver, err := storage.NewMinIOImageResolver(cfg.MinIO)
			if err != nil {
				logger.Fatal("Failed to create MinIO client", zap.Error(err))
			}
			images = resolver
			logger.Info("Image presigning enabled", zap.String("bucket", cfg.MinIO.Bucket))
		}
		chatSvc = chatService.NewService(
			cassandra.NewMessageRepository(cassandraDB.Session, appMetrics),
			userRepo, notificationRepo, images, registry, appMetrics,
		)
	}

	// 7. Authentication
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.AccessTokenExpiry)
	authenticator := middleware.NewAuthenticator(jwtManager, revocationRepo, userRepo)
	origins := middleware.NewOriginPolicy(cfg.CORS.AllowedOrigins)

	// 8. Handlers
	wsOpts := wsHandler.Options{
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		PongWait:          cfg.Realtime.PongWait,
		WriteWait:         cfg.Realtime.WriteWait,
		MaxMessageSize:    cfg.Realtime.MaxMessageSize,
		CheckOrigin:       origins.CheckOrigin,
		Metrics:           appMetrics,
	}

	var wsChat wsHandler.ChatService
	if chatSvc != nil {
		wsChat = chatSvc
	}
	signalingHdlr := wsHandler.NewSignalingHandler(broadcaster, registry, wsChat, videoSvc, wsOpts)
	relayHdlr := wsHandler.NewRelayHandler(bridge, videoSvc, wsOpts)
	videoHdlr := videoHandler.NewHandler(videoSvc)
	presenceHdlr := presenceHandler.NewHandler(presenceRepo)

	// 9. Router
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(origins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"service":     cfg.Server.ServiceName,
			"connections": registry.ConnectionCount(),
			"relay":       bridge != nil,
			"chat":        chatSvc != nil,
			"time":        time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	router.GET("/ws", authenticator.Middleware(), signalingHdlr.ServeWS)

	api := router.Group("/api")
	api.Use(authenticator.Middleware())

	rest := []gin.HandlerFunc{}
	if cfg.RateLimit.Requests > 0 {
		limiter := middleware.NewRateLimiter(redisDB.Client, "api", cfg.RateLimit.Requests, cfg.RateLimit.Window)
		rest = append(rest, limiter.Middleware())
	}

	calls := api.Group("/video-calls")
	relayHdlr.RegisterRoutes(calls)
	videoHdlr.RegisterRoutes(calls.Group("", rest...))

	presenceHdlr.RegisterRoutes(api.Group("/presence", rest...))

	if chatSvc != nil {
		chatHandler.NewHandler(chatSvc).RegisterRoutes(api.Group("/messages", rest...))
	}

	// 10. Serve
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Realtime service starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Hijacked WebSocket connections are not tracked by server.Shutdown
	signalingHdlr.Shutdown()
	if bridge != nil {
		bridge.Shutdown()
	}
	videoSvc.Wait()
	if chatSvc != nil {
		chatSvc.Wait()
	}

	// Closing the NATS bus drains and then closes its connection
	if bus != nil {
		if err := bus.Close(); err != nil {
			logger.Warn("Failed to close relay backend", zap.Error(err))
		}
	}
	if err := redisDB.Close(); err != nil {
		logger.Warn("Failed to close Redis", zap.Error(err))
	}
	if cassandraDB != nil {
		cassandraDB.Close()
	}
	db.Close()

	logger.Info("Server exited")
}
