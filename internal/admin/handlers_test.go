package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgupta21/vigil/internal/attempt"
	"github.com/rgupta21/vigil/internal/journal"
)

const testSecret = "shh-reviewers-only"

func newTestRouter(t *testing.T) (*gin.Engine, *attempt.MemoryStore, *journal.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	attempts := attempt.NewMemoryStore()
	events := journal.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := gin.New()
	grp := r.Group("/v1/admin")
	grp.Use(RequireAdmin(testSecret))
	NewHandler(attempts, events, logger).RegisterRoutes(grp)
	return r, attempts, events
}

func get(r *gin.Engine, path, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if secret != "" {
		req.Header.Set("X-Admin-Secret", secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAdmin(t *testing.T) {
	r, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/v1/admin/attempts", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/v1/admin/attempts", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(r, "/v1/admin/attempts", testSecret).Code)
}

func TestRequireAdminEmptySecretLocksRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/locked", RequireAdmin(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/locked", nil)
	req.Header.Set("X-Admin-Secret", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListAttemptsWithCounts(t *testing.T) {
	r, attempts, events := newTestRouter(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, attempts.Create(ctx, &attempt.Attempt{
		ID: "att_old", Username: "alice", IPAddress: "1.1.1.1", LastKnownIP: "1.1.1.1", CreatedAt: base,
	}))
	require.NoError(t, attempts.Create(ctx, &attempt.Attempt{
		ID: "att_new", Username: "bob", IPAddress: "2.2.2.2", LastKnownIP: "2.2.2.2", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, events.AppendBatch(ctx, []*journal.Event{
		{Name: journal.IPCheckPerformed, AttemptID: "att_new"},
		{Name: journal.WindowBlur, AttemptID: "att_new"},
		{Name: journal.IPChangeDetected, AttemptID: "att_new"},
	}))

	w := get(r, "/v1/admin/attempts", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count    int `json:"count"`
		Attempts []struct {
			ID              string `json:"id"`
			EventCount      int    `json:"eventCount"`
			SuspiciousCount int    `json:"suspiciousEventCount"`
		} `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	// Newest first.
	assert.Equal(t, "att_new", resp.Attempts[0].ID)
	assert.Equal(t, 3, resp.Attempts[0].EventCount)
	assert.Equal(t, 2, resp.Attempts[0].SuspiciousCount)
	assert.Equal(t, "att_old", resp.Attempts[1].ID)
	assert.Equal(t, 0, resp.Attempts[1].EventCount)
}

func TestGetAttemptEvents(t *testing.T) {
	r, attempts, events := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, attempts.Create(ctx, &attempt.Attempt{
		ID: "att_1", Username: "alice", IPAddress: "1.1.1.1", LastKnownIP: "1.1.1.1", CreatedAt: time.Now(),
	}))
	require.NoError(t, events.AppendBatch(ctx, []*journal.Event{
		{Name: journal.IPCheckPerformed, AttemptID: "att_1"},
		{Name: journal.AttemptCompleted, AttemptID: "att_1"},
	}))

	w := get(r, "/v1/admin/attempts/att_1/events", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Attempt struct {
			ID string `json:"id"`
		} `json:"attempt"`
		Events     []json.RawMessage `json:"events"`
		EventCount int               `json:"eventCount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "att_1", resp.Attempt.ID)
	assert.Equal(t, 2, resp.EventCount)
	assert.Len(t, resp.Events, 2)

	assert.Equal(t, http.StatusNotFound, get(r, "/v1/admin/attempts/att_missing/events", testSecret).Code)
}
