package detector

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rgupta21/vigil/internal/attempt"
	"github.com/rgupta21/vigil/internal/journal"
	"github.com/rgupta21/vigil/internal/validation"
)

// Handler provides the HTTP endpoints for the integrity pipeline.
type Handler struct {
	svc *Service
}

// NewHandler creates a new detector handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up the attempt and event routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/attempts", h.RegisterAttempt)
	r.POST("/events", h.SubmitEvents)
	r.POST("/attempts/:id/check-ip", h.CheckIP)
	r.POST("/attempts/:id/complete", h.CompleteAttempt)
}

// eventDTO is the wire shape of one client event.
type eventDTO struct {
	Name      journal.EventName `json:"name" binding:"required"`
	Timestamp time.Time         `json:"timestamp"`
	AttemptID string            `json:"attemptId" binding:"required"`
	Seq       int64             `json:"seq"`
	Metadata  *journal.Metadata `json:"metadata"`
}

func (d *eventDTO) toEvent() *journal.Event {
	return &journal.Event{
		Name:      d.Name,
		Timestamp: d.Timestamp,
		AttemptID: d.AttemptID,
		Seq:       d.Seq,
		Metadata:  d.Metadata,
	}
}

// RegisterAttempt handles POST /v1/attempts.
//
// The IP is taken from the request body when supplied (testing
// override), otherwise from the network layer.
func (h *Handler) RegisterAttempt(c *gin.Context) {
	var req struct {
		Username    string `json:"username" binding:"required"`
		IP          string `json:"ip"`
		BrowserName string `json:"browserName"`
		HostOS      string `json:"hostOs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "username required"})
		return
	}

	ip := req.IP
	source := "override"
	if ip == "" {
		ip = c.ClientIP()
		source = "detected"
	}

	a, err := h.svc.Register(c.Request.Context(), RegisterInput{
		Username:    req.Username,
		IP:          ip,
		BrowserName: req.BrowserName,
		HostOS:      req.HostOS,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameRequired), errors.Is(err, ErrNoIPAddress), errors.Is(err, ErrInvalidIP):
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to register attempt"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"attempt": a,
		"ipUsed":  ip,
		"source":  source,
	})
}

// SubmitEvents handles POST /v1/events.
func (h *Handler) SubmitEvents(c *gin.Context) {
	var dtos []eventDTO
	if err := c.ShouldBindJSON(&dtos); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "event array required"})
		return
	}

	events := make([]*journal.Event, 0, len(dtos))
	for i := range dtos {
		events = append(events, dtos[i].toEvent())
	}

	detectedIP := c.ClientIP()
	if !validation.IsValidIP(detectedIP) {
		detectedIP = ""
	}

	accepted, ipChanged, err := h.svc.SubmitBatch(c.Request.Context(), events, detectedIP)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": accepted, "ipChanged": ipChanged})
}

// CheckIP handles POST /v1/attempts/:id/check-ip.
//
// The ip query parameter overrides network detection for testing.
func (h *Handler) CheckIP(c *gin.Context) {
	attemptID := c.Param("id")

	observedIP := c.Query("ip")
	if observedIP == "" {
		observedIP = c.ClientIP()
	}
	if !validation.IsValidIP(observedIP) {
		observedIP = ""
	}

	result, err := h.svc.CheckIP(c.Request.Context(), attemptID, observedIP)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ipChanged":    result.IPChanged,
		"ipChangeType": result.IPChangeType,
		"oldIp":        result.OldIP,
		"currentIp":    result.NewIP,
	})
}

// CompleteAttempt handles POST /v1/attempts/:id/complete.
func (h *Handler) CompleteAttempt(c *gin.Context) {
	attemptID := c.Param("id")

	if err := h.svc.Complete(c.Request.Context(), attemptID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "attemptId": attemptID})
}

// writeError maps service errors to HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attempt.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "attempt not found"})
	case errors.Is(err, journal.ErrEmptyBatch),
		errors.Is(err, journal.ErrMixedAttempts),
		errors.Is(err, journal.ErrMissingAttempt),
		errors.Is(err, journal.ErrUnknownEventName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_batch", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
