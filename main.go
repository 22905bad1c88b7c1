package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"messaging-service/internal/auth"
	"messaging-service/internal/cache"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/grpcserver"
	"messaging-service/internal/handlers"
	"messaging-service/internal/logger"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/services"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const auditRoutingKey = "audit.messaging"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger, err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Mode: cfg.LogMode})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		zap.L().Fatal("failed to init tracing", zap.Error(err))
	}

	database, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		zap.L().Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	observability.SetPublisher(publisher)
	zap.L().Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Environment)

	messageRepo := repositories.NewMessageRepo(database)
	groupRepo := repositories.NewGroupRepo(database)
	groupMessageRepo := repositories.NewGroupMessageRepo(database)
	friendshipRepo := repositories.NewFriendshipRepo(database)
	accountRepo := repositories.NewAccountRepo(database)
	membership := repositories.NewMembershipSnapshot(friendshipRepo, groupRepo)

	hub := ws.NewHub()
	presence := cache.NewPresenceMirror(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.PresenceTTL,
	})
	hub.SetPresenceListener(presence)
	go presence.Keepalive(ctx, hub.OnlineUsers)

	limits := services.Limits{
		MaxContentLength:    cfg.MaxContentLength,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
	}
	directService := services.NewDirectService(messageRepo, friendshipRepo, accountRepo, hub, audit, limits)
	groupService := services.NewGroupService(groupRepo, groupMessageRepo, hub, audit, limits)

	validator := auth.NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer)
	wsHandler := ws.NewHandler(hub, validator, services.Pipeline{Direct: directService, Group: groupService}, membership, groupService, ws.Options{
		WriteTimeout:    cfg.WSWriteTimeout,
		FrameRate:       cfg.WSFrameRate,
		FrameBurst:      cfg.WSFrameBurst,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		AllowedOrigins:  cfg.AllowedOrigins(),
	})

	if cfg.LogMode != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestID(uuid.NewString),
		logger.GinLogger(),
		logger.GinRecovery(true),
		otelgin.Middleware(cfg.ServiceName),
		observability.HTTPMetricsMiddleware(),
	)

	corsConfig := cors.DefaultConfig()
	if origins := cfg.AllowedOrigins(); len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.PingContext(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", wsHandler.HandleDirect)
	router.GET("/ws/groups/:group_id", wsHandler.HandleGroup)

	api := router.Group("/", middleware.AuthMiddleware(validator))
	handlers.NewDirectHandler(directService, audit).Register(api)
	handlers.NewGroupHandler(groupService, audit).Register(api)
	handlers.RegisterDebugRoutes(api, audit, hub, cfg.DebugRoutes)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := grpcserver.New(cfg.ServiceName)

	go func() {
		zap.L().Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("http server error", zap.Error(err))
			stop()
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			zap.L().Error("grpc listen failed", zap.Error(err))
			stop()
			return
		}
		if err := grpcServer.Serve(lis); err != nil {
			zap.L().Error("grpc server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zap.L().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	grpcServer.SetServing(false)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("http shutdown", zap.Error(err))
	}
	hub.CloseAll()
	grpcServer.Shutdown(shutdownCtx)

	if err := presence.Close(); err != nil {
		zap.L().Warn("presence mirror close", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		zap.L().Warn("publisher close", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zap.L().Warn("tracing shutdown", zap.Error(err))
	}
	zap.L().Info("server stopped")
}
