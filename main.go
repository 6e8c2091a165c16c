package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/auth"
	"messenger-service/internal/bus"
	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/delivery"
	"messenger-service/internal/handlers"
	"messenger-service/internal/membership"
	"messenger-service/internal/middleware"
	"messenger-service/internal/notify"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	broker := bus.NewRedisBus(redisClient)
	broker.Start(ctx)
	defer broker.Close()

	presenceStore := presence.NewRedisStore(redisClient, cfg.PresenceTTL)
	notifier := notify.NewNotifier(cfg.AMQPURL, cfg.AMQPExchange)
	defer notifier.Close()

	convRepo := repositories.NewConversationRepo(database)
	msgRepo := repositories.NewMessageRepo(database)
	schedRepo := repositories.NewScheduledMessageRepo(database)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	oracle := membership.NewOracle(convRepo)
	deliverer := delivery.NewDeliverer(convRepo, msgRepo, schedRepo, broker, presenceStore, notifier)
	dispatcher := ws.NewDispatcher(oracle, convRepo, msgRepo, schedRepo, deliverer)
	gateway := ws.NewGatewayHandler(verifier, oracle, convRepo, broker, presenceStore, deliverer, dispatcher, cfg.AuthGrace)

	sweeper := delivery.NewSweeper(schedRepo, deliverer, cfg.SweepInterval)
	go sweeper.Run(ctx)

	conversationHandler := handlers.NewConversationHandler(convRepo, deliverer)
	messageHandler := handlers.NewMessageHandler(convRepo, msgRepo, schedRepo, oracle, deliverer)

	router := gin.Default()
	router.Use(otelgin.Middleware("messenger-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(verifier))
	{
		api.POST("/conversations", conversationHandler.CreateConversation)
		api.GET("/conversations", conversationHandler.ListConversations)
		api.POST("/conversations/:conversation_id/members", conversationHandler.JoinConversation)
		api.DELETE("/conversations/:conversation_id/members/:user_id", conversationHandler.LeaveConversation)
		api.GET("/conversations/:conversation_id/participants", conversationHandler.ListParticipants)
		api.GET("/conversations/:conversation_id/messages", messageHandler.GetMessages)
		api.POST("/conversations/:conversation_id/messages", messageHandler.PostMessage)
		api.POST("/conversations/:conversation_id/messages/schedule", messageHandler.ScheduleMessage)
	}

	// Websocket auth happens inside the handshake, not in middleware, so a
	// rejected token gets a clean HTTP status before the upgrade.
	router.GET("/ws/:kind/:conversation_id", gateway.Handle)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("messenger service listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
