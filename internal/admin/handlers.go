// Package admin exposes read-only projections over attempts and their
// journals for proctoring review. All routes require the shared admin
// secret.
package admin

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rgupta21/vigil/internal/attempt"
	"github.com/rgupta21/vigil/internal/journal"
)

// RequireAdmin rejects requests whose X-Admin-Secret header does not
// match the configured secret. An empty configured secret locks the
// routes entirely rather than leaving them open.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader("X-Admin-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin secret required",
			})
			return
		}
		c.Next()
	}
}

// Handler serves the admin read API.
type Handler struct {
	attempts attempt.Store
	journal  journal.Store
	logger   *slog.Logger
}

// NewHandler creates the admin handler.
func NewHandler(attempts attempt.Store, js journal.Store, logger *slog.Logger) *Handler {
	return &Handler{attempts: attempts, journal: js, logger: logger}
}

// RegisterRoutes sets up the admin routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/attempts", h.ListAttempts)
	r.GET("/attempts/:id/events", h.GetAttemptEvents)
}

// attemptSummary is one row of the review dashboard list.
type attemptSummary struct {
	*attempt.Attempt
	EventCount      int `json:"eventCount"`
	SuspiciousCount int `json:"suspiciousEventCount"`
}

// ListAttempts returns every attempt, newest first, each annotated with
// its total and suspicious event counts.
func (h *Handler) ListAttempts(c *gin.Context) {
	ctx := c.Request.Context()

	attempts, err := h.attempts.List(ctx)
	if err != nil {
		h.logger.Error("failed to list attempts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list attempts"})
		return
	}

	summaries := make([]attemptSummary, 0, len(attempts))
	for _, a := range attempts {
		counts, err := h.journal.CountsForAttempt(ctx, a.ID)
		if err != nil {
			h.logger.Error("failed to count events", "attempt_id", a.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to count events"})
			return
		}
		summaries = append(summaries, attemptSummary{
			Attempt:         a,
			EventCount:      counts.Total,
			SuspiciousCount: counts.Suspicious,
		})
	}

	c.JSON(http.StatusOK, gin.H{"attempts": summaries, "count": len(summaries)})
}

// GetAttemptEvents returns one attempt with its full ordered timeline.
func (h *Handler) GetAttemptEvents(c *gin.Context) {
	ctx := c.Request.Context()
	attemptID := c.Param("id")

	a, err := h.attempts.Get(ctx, attemptID)
	if err != nil {
		if errors.Is(err, attempt.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "attempt not found"})
			return
		}
		h.logger.Error("failed to load attempt", "attempt_id", attemptID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load attempt"})
		return
	}

	events, err := h.journal.ListByAttempt(ctx, attemptID)
	if err != nil {
		h.logger.Error("failed to list events", "attempt_id", attemptID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempt":    a,
		"events":     events,
		"eventCount": len(events),
	})
}
