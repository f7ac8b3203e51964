// Package statusapi wires up a Gin HTTP router giving spec.md §6's
// "Observable outputs" a transport for local operators and integration
// tests, instead of only in-process Go calls.
package statusapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Engine is the subset of *orchestrator.Orchestrator this package
// needs. Kept narrow and interface-based so statusapi doesn't import
// internal/orchestrator directly.
type Engine interface {
	PeerCount() int
	HasContender(ctx context.Context) bool
	CurrentHolder(ctx context.Context) (string, bool)
	AwaitInitialReplication(ctx context.Context) error
	NotifyPeers()
}

// Handler holds the dependencies injected from main/cmd.
type Handler struct {
	engine    Engine
	sessionID string
}

// NewHandler creates a Handler.
func NewHandler(engine Engine, sessionID string) *Handler {
	return &Handler{engine: engine, sessionID: sessionID}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/status", h.Status)
	r.POST("/notify", h.Notify)
}

// Healthz handles GET /healthz — a liveness probe, always 200 once the
// process is serving.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessionID": h.sessionID})
}

// Status handles GET /status — connected peer count and transaction
// holder/contender state (spec.md §6).
func (h *Handler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	holder, held := h.engine.CurrentHolder(ctx)
	resp := gin.H{
		"sessionID": h.sessionID,
		"peerCount": h.engine.PeerCount(),
		"hasLock":   held && holder == h.sessionID,
		"contended": h.engine.HasContender(ctx),
	}
	if held {
		resp["lockHolder"] = holder
	}
	c.JSON(http.StatusOK, resp)
}

// Notify handles POST /notify — manual notifyPeers() (spec.md §6).
func (h *Handler) Notify(c *gin.Context) {
	h.engine.NotifyPeers()
	c.Status(http.StatusNoContent)
}
