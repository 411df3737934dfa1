package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/infra/config"
	"campusmarket/internal/infra/obs"
)

type AuthHTTP interface {
	Register(c *gin.Context)
	Login(c *gin.Context)
	Logout(c *gin.Context)
	Me(c *gin.Context)
	UpdateProfile(c *gin.Context)
}

type ListingHTTP interface {
	Catalog(c *gin.Context)
	Get(c *gin.Context)
	Create(c *gin.Context)
	Publish(c *gin.Context)
	MarkSold(c *gin.Context)
	ToggleFavorite(c *gin.Context)
	Favorites(c *gin.Context)
}

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	StartConversation(c *gin.Context)
	GetConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	SetLike(c *gin.Context)
	MarkRead(c *gin.Context)
	Archive(c *gin.Context)
	Delete(c *gin.Context)
	ListItems(c *gin.Context)
	AddItem(c *gin.Context)
	UploadAttachments(c *gin.Context)
}

type AdminHTTP interface {
	ListUsers(c *gin.Context)
	ListConversations(c *gin.Context)
	SuspendListing(c *gin.Context)
}

type RealtimeHTTP interface {
	Stream(c *gin.Context)
}

type Handlers struct {
	Auth           AuthHTTP
	Listing        ListingHTTP
	Chat           ChatHTTP
	Admin          AdminHTTP
	Realtime       RealtimeHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg.Env, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(env string, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Auth != nil {
		api.POST("/auth/register", h.Auth.Register)
		api.POST("/auth/login", h.Auth.Login)
		api.POST("/auth/logout", h.Auth.Logout)
		api.GET("/auth/me", h.Auth.Me)
		api.PATCH("/auth/me", h.Auth.UpdateProfile)
	}
	if h.Listing != nil {
		api.GET("/listings", h.Listing.Catalog)
		api.POST("/listings", h.Listing.Create)
		api.GET("/listings/:id", h.Listing.Get)
		api.POST("/listings/:id/publish", h.Listing.Publish)
		api.POST("/listings/:id/sold", h.Listing.MarkSold)
		api.POST("/listings/:id/favorite", h.Listing.ToggleFavorite)
		api.GET("/me/favorites", h.Listing.Favorites)
	}
	if h.Chat != nil {
		api.POST("/listings/:id/conversations", h.Chat.StartConversation)
		api.POST("/attachments", h.Chat.UploadAttachments)

		chat := api.Group("/conversations")
		chat.GET("", h.Chat.ListConversations)
		chat.GET("/:id", h.Chat.GetConversation)
		chat.POST("/:id/archive", h.Chat.Archive)
		chat.DELETE("/:id", h.Chat.Delete)
		chat.GET("/:id/items", h.Chat.ListItems)
		chat.POST("/:id/items", h.Chat.AddItem)
		chat.GET("/:id/messages", h.Chat.ListMessages)
		chat.POST("/:id/messages", h.Chat.SendMessage)
		chat.POST("/:id/read", h.Chat.MarkRead)
		chat.PUT("/:id/messages/:messageID/like", h.Chat.SetLike)
	}
	if h.Realtime != nil {
		api.GET("/realtime", h.Realtime.Stream)
	}
	if h.Admin != nil {
		admin := api.Group("/admin")
		admin.GET("/users", h.Admin.ListUsers)
		admin.GET("/conversations", h.Admin.ListConversations)
		admin.POST("/listings/:id/suspend", h.Admin.SuspendListing)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
