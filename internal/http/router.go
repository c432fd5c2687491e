package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/marketplace_support/backend/internal/config"
	"github.com/marketplace_support/backend/internal/http/handlers"
	"github.com/marketplace_support/backend/internal/http/middleware"

	_ "github.com/marketplace_support/backend/docs"
)

func Router(cfg config.Config, h *handlers.Handler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id",
			handlers.PartyRoleHeader, handlers.PartyIDHeader, handlers.AgentIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.POST("/chat/sessions", h.StartSession)
		api.GET("/chat/sessions", h.VisitorSessions)
		api.GET("/chat/sessions/:id", h.SessionDetails)
		api.GET("/chat/sessions/:id/messages", h.SessionMessages)
		api.POST("/chat/sessions/:id/messages", h.SendVisitorMessage)
		api.POST("/chat/sessions/:id/read", h.MarkVisitorRead)
		api.POST("/chat/sessions/:id/mode", h.SetMode)
		api.GET("/chat/sessions/:id/ws", h.SessionStream)

		api.GET("/conversations", h.ConversationsList)
		api.POST("/conversations", h.StartConversation)
		api.POST("/conversations/:id/open", h.OpenConversation)
		api.POST("/conversations/:id/messages", h.SendConversationMessage)

		api.POST("/disputes", h.OpenDispute)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.GET("/chat/sessions", h.AdminSessions)
		admin.POST("/chat/sessions/:id/join", h.JoinSession)
		admin.POST("/chat/sessions/:id/messages", h.SendAgentMessage)
		admin.POST("/chat/sessions/:id/read", h.MarkAgentRead)
		admin.POST("/chat/sessions/:id/close", h.CloseSession)

		admin.GET("/agents", h.AgentsList)
		admin.PUT("/agents/:id", h.PutAgent)

		admin.GET("/disputes", h.DisputesList)
		admin.GET("/disputes/:id", h.DisputeDetails)
		admin.POST("/disputes/:id/review", h.ReviewDispute)
		admin.GET("/disputes/:id/split", h.PreviewSplit)
		admin.POST("/disputes/:id/resolve", h.ResolveDispute)
		admin.POST("/disputes/:id/join", h.JoinDispute)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
