package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/events"
	"nkrypt-xyz/bootstrapper/internal/orchestrator"
	"nkrypt-xyz/bootstrapper/internal/status"
)

// orchestratorService is the subset of *orchestrator.Orchestrator used by the
// HTTP handlers. Declaring it as an interface allows test doubles to be injected.
type orchestratorService interface {
	Submit(ctx context.Context, op orchestrator.Operation, snap config.StackConfig, args ...string) error
	RunDeepHealth(ctx context.Context) map[string]orchestrator.ProbeResult
	IsReady() bool
	InProgress() bool
	LastResult() (orchestrator.RunResult, bool)
}

// feed is satisfied by *events.Bus.
type feed interface {
	Statuses() []status.ServiceStatus
	LastOperation() (events.Operation, bool)
	Log() *events.Log
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	orchestrator orchestratorService
	feed         feed
	// snapshot returns the configuration an operation runs with.
	snapshot func() config.StackConfig
}

// Operation handles POST /api/v1/operations/:name.
// It returns 202 once the operation has been started in the background, 409
// if another operation is running and 422 if the configuration cannot drive
// any operation.
func (h *Handler) Operation(c *gin.Context) {
	name := c.Param("name")
	op, ok := orchestrator.ParseOperation(name)
	if !ok || op == orchestrator.OpCompose {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "unknown operation " + strconv.Quote(name)})
		return
	}

	err := h.orchestrator.Submit(c.Request.Context(), op, h.snapshot())
	switch {
	case errors.Is(err, orchestrator.ErrOperationInProgress):
		c.JSON(http.StatusConflict, gin.H{"status": "in-progress"})
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "error", "error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "operation": op})
	}
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(c *gin.Context) {
	services := h.feed.Statuses()
	if services == nil {
		services = []status.ServiceStatus{}
	}

	body := gin.H{
		"services":   services,
		"allHealthy": len(services) > 0 && status.AllHealthy(services),
		"inProgress": h.orchestrator.InProgress(),
	}
	if op, ok := h.feed.LastOperation(); ok {
		body["operation"] = op
	}
	if res, ok := h.orchestrator.LastResult(); ok {
		body["lastResult"] = res
	}
	c.JSON(http.StatusOK, body)
}

// Logs handles GET /api/v1/logs?since=N. Clients pass the "next" value of
// the previous response to receive only new lines.
func (h *Handler) Logs(c *gin.Context) {
	var since uint64
	if raw := c.Query("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "since must be a non-negative integer"})
			return
		}
		since = n
	}

	entries := h.feed.Log().Since(since)
	next := since
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq
	} else {
		entries = []events.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "next": next})
}

// ClearLogs handles DELETE /api/v1/logs.
func (h *Handler) ClearLogs(c *gin.Context) {
	h.feed.Log().Clear()
	c.Status(http.StatusNoContent)
}

// Health handles GET /health.
// It always returns 200; this is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /api/v1/health/deep.
// It probes every stack dependency and returns 200 only when all are OK.
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.orchestrator.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	state := "healthy"
	code := http.StatusOK
	if !allOK {
		state = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       state,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 only after a successful start; 503 otherwise.
func (h *Handler) Ready(c *gin.Context) {
	if h.orchestrator.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}
