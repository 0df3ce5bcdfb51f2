package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"modwatch/internal/config"
	"modwatch/internal/db"
	"modwatch/internal/redis"
	"modwatch/internal/resolver"
	"modwatch/internal/store"
)

type Server struct {
	log      *slog.Logger
	db       *db.DB
	redis    *redis.Client
	users    store.Store
	resolver *resolver.Resolver
	cfg      config.Config
	router   *gin.Engine
}

func NewServer(log *slog.Logger, dbConn *db.DB, redisClient *redis.Client, users store.Store, res *resolver.Resolver, cfg config.Config) *Server {
	s := &Server{
		log:      log,
		db:       dbConn,
		redis:    redisClient,
		users:    users,
		resolver: res,
		cfg:      cfg,
		router:   gin.New(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.rateLimitMiddleware())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/users/:discord_id", s.getUser)
		v1.GET("/guilds/:guild_id/users/:discord_id", s.getGuildUser)
		v1.GET("/health", s.health)

		admin := v1.Group("/admin")
		admin.Use(s.adminAuthMiddleware())
		{
			admin.POST("/reconcile/:discord_id", s.forceReconcile)
		}
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}
