package handlers_test

import (
	"github.com/gin-gonic/gin"

	"github.com/cainiao1230/LoadBalance/internal/api/handlers"
)

func setupTestRouter(h *handlers.Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.GET("/", h.Root)
	r.GET("/api/server/stats", h.Stats)
	r.GET("/api/login", h.Login)
	r.GET("/api/yd/decryptl", h.Decrypt)
	r.GET("/api/query/persondata", h.QueryPersonData)

	return r
}
