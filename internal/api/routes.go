package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cainiao1230/LoadBalance/internal/api/handlers"
	"github.com/cainiao1230/LoadBalance/internal/api/middleware"
	"github.com/cainiao1230/LoadBalance/internal/config"
)

// RegisterRoutes wires the five gateway routes onto the engine.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	r.GET("/", h.Root)

	stats := r.Group("/api/server")
	if cfg != nil && cfg.Auth.AdminToken != "" {
		stats.Use(middleware.RequireAdminToken(cfg.Auth.AdminToken))
	}
	stats.GET("/stats", h.Stats)

	r.GET("/api/login", h.Login)
	r.GET("/api/yd/decryptl", h.Decrypt)
	r.GET("/api/query/persondata", h.QueryPersonData)
}
