// Package handlers implements the REST API endpoint handlers for the
// drone-frame dispatch gateway.
package handlers

import (
	"log/slog"
	"time"

	"github.com/cainiao1230/LoadBalance/internal/dispatcher"
)

// Handler contains dependencies for API handlers.
type Handler struct {
	gateway   *dispatcher.Gateway
	logger    *slog.Logger
	startTime time.Time
}

// New creates a new Handler wired to a running gateway.
func New(gateway *dispatcher.Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gateway:   gateway,
		logger:    logger,
		startTime: time.Now(),
	}
}
