package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"modwatch/internal/resolver"
	"modwatch/internal/security"
)

// getUser resolves a user globally, or within the caller's current
// guild when a guild_id query parameter supplies the scope. The live
// snapshot is the response body; the record store is updated on the way
// through.
func (s *Server) getUser(c *gin.Context) {
	id, err := security.ParseSnowflake(c.Param("discord_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_discord_id", "message": "discord_id must be a snowflake"}})
		return
	}

	var scope *uint64
	if raw := c.Query("guild_id"); raw != "" {
		gid, err := security.ParseSnowflake(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_guild_id", "message": "guild_id must be a snowflake"}})
			return
		}
		scope = &gid
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	snap, err := s.resolver.GetUser(ctx, id, scope)
	if err != nil {
		s.renderLookupError(c, err)
		return
	}

	rec, _, _ := s.users.Get(ctx, id)
	c.JSON(http.StatusOK, gin.H{"user": snap, "record": rec})
}

func (s *Server) getGuildUser(c *gin.Context) {
	guildID, err := security.ParseSnowflake(c.Param("guild_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_guild_id", "message": "guild_id must be a snowflake"}})
		return
	}
	id, err := security.ParseSnowflake(c.Param("discord_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_discord_id", "message": "discord_id must be a snowflake"}})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	snap, err := s.resolver.GetGuildUser(ctx, guildID, id)
	if err != nil {
		s.renderLookupError(c, err)
		return
	}

	rec, _, _ := s.users.Get(ctx, id)
	c.JSON(http.StatusOK, gin.H{"user": snap, "record": rec})
}

// forceReconcile re-resolves a user and returns the stored record, for
// dashboard admins fixing up stale entries.
func (s *Server) forceReconcile(c *gin.Context) {
	id, err := security.ParseSnowflake(c.Param("discord_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_discord_id", "message": "discord_id must be a snowflake"}})
		return
	}

	ctx, cancel := s.ctx(c)
	defer cancel()

	if _, err := s.resolver.GetUser(ctx, id, nil); err != nil {
		s.renderLookupError(c, err)
		return
	}

	rec, ok, err := s.users.Get(ctx, id)
	if err != nil || !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "store_error", "message": "record not readable after reconcile"}})
		return
	}

	s.log.Info("user_force_reconciled", "user_id", id)
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) renderLookupError(c *gin.Context, err error) {
	if errors.Is(err, resolver.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "no such user or guild"}})
		return
	}
	s.log.Error("lookup_failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": gin.H{"code": "upstream_error", "message": "platform lookup failed"}})
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	dbStatus := "connected"
	if err := s.db.Pool.Ping(ctx); err != nil {
		dbStatus = "down"
	}

	redisStatus := "connected"
	if err := s.redis.RDB().Ping(ctx).Err(); err != nil {
		redisStatus = "down"
	}

	status := http.StatusOK
	overall := "healthy"
	if dbStatus != "connected" || redisStatus != "connected" {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"database": dbStatus,
		"redis":    redisStatus,
	})
}
