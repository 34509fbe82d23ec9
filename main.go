package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/config"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/db"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/delivery"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/handlers"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/middleware"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/observability"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/repositories"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/telemetry"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/webhook"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/ws"
)

const serviceName = "token-bowl-chat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, serviceName, cfg.OTLPAddr)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := observability.NewPublisher(cfg.AMQPURL, cfg.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)

	auditor := telemetry.NewAuditEmitter(publisher, "audit_log", serviceName, cfg.Env)

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database, cfg.MessageHistoryLimit)

	hub := ws.NewHub(cfg.HeartbeatInterval, cfg.ConnectionTimeout)

	engine := webhook.NewEngine(cfg.WebhookTimeout, cfg.WebhookMaxAttempts, cfg.WebhookBackoffBase, auditor)
	defer engine.Close()

	deliveryRouter := delivery.NewRouter(messageRepo, userRepo, hub, engine)

	messageHandler := handlers.NewMessageHandler(messageRepo, deliveryRouter)
	userHandler := handlers.NewUserHandler(userRepo, hub)
	healthHandler := handlers.NewHealthHandler(database)
	wsHandler := ws.NewHandler(hub, userRepo, messageRepo, deliveryRouter)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/register", userHandler.Register)
	router.GET("/ws", wsHandler.Handle)

	auth := middleware.APIKeyAuth(userRepo)

	router.GET("/users", auth, userHandler.ListUsers)
	router.GET("/users/online", auth, userHandler.OnlineUsers)
	router.GET("/users/me", auth, userHandler.GetProfile)
	router.PATCH("/users/me/webhook", auth, userHandler.UpdateWebhook)

	router.POST("/messages", auth, messageHandler.PostMessage)
	router.GET("/messages", auth, messageHandler.GetMessages)
	router.GET("/messages/direct", auth, messageHandler.GetDirectMessages)
	router.GET("/messages/unread", auth, messageHandler.GetUnreadMessages)
	router.GET("/messages/unread/count", auth, messageHandler.GetUnreadCount)
	router.POST("/messages/:message_id/read", auth, messageHandler.MarkRead)
	router.POST("/messages/mark-all-read", auth, messageHandler.MarkAllRead)

	admin := router.Group("/admin", auth, middleware.AdminOnly())
	admin.GET("/messages/:message_id", messageHandler.GetMessage)
	admin.DELETE("/messages/:message_id", messageHandler.DeleteMessage)

	log.Printf("listening on :%s env=%s", cfg.Port, cfg.Env)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
