package detector

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _, _ := newTestService(cloudflareResolver())
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))
	return r, svc
}

func doJSON(r *gin.Engine, method, path, body, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func registerTestAttempt(t *testing.T, r *gin.Engine, ip string) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":"alice","ip":"%s"}`, ip)
	w := doJSON(r, http.MethodPost, "/v1/attempts", body, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Attempt struct {
			ID string `json:"id"`
		} `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Attempt.ID)
	return resp.Attempt.ID
}

func TestRegisterAttemptEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/attempts", `{"username":"alice","ip":"1.1.1.1","browserName":"firefox"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1.1.1.1", resp["ipUsed"])
	assert.Equal(t, "override", resp["source"])
}

func TestRegisterAttemptFallsBackToClientIP(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/attempts", `{"username":"alice"}`, "1.1.1.1:9999")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1.1.1.1", resp["ipUsed"])
	assert.Equal(t, "detected", resp["source"])
}

func TestRegisterAttemptValidation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/attempts", `{"ip":"1.1.1.1"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/attempts", `{"username":"alice","ip":"bogus"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitEventsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	id := registerTestAttempt(t, r, "1.1.1.1")

	body := fmt.Sprintf(`[
		{"name":"WINDOW_BLUR","attemptId":"%s","seq":1},
		{"name":"WINDOW_FOCUS","attemptId":"%s","seq":2}
	]`, id, id)
	w := doJSON(r, http.MethodPost, "/v1/events", body, "1.1.1.1:9999")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Accepted  int  `json:"accepted"`
		IPChanged bool `json:"ipChanged"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.False(t, resp.IPChanged)
}

func TestSubmitEventsDetectsChangedNetwork(t *testing.T) {
	r, _ := newTestRouter(t)
	id := registerTestAttempt(t, r, "1.1.1.1")

	// The batch arrives from a different network address.
	body := fmt.Sprintf(`[{"name":"WINDOW_BLUR","attemptId":"%s","seq":1}]`, id)
	w := doJSON(r, http.MethodPost, "/v1/events", body, "2.2.2.2:9999")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Accepted  int  `json:"accepted"`
		IPChanged bool `json:"ipChanged"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IPChanged)
	assert.Equal(t, 4, resp.Accepted)
}

func TestSubmitEventsErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/events", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/events", `[]`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/events", `[{"name":"WINDOW_BLUR","attemptId":"att_missing"}]`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCheckIPEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	id := registerTestAttempt(t, r, "1.1.1.1")

	w := doJSON(r, http.MethodPost, "/v1/attempts/"+id+"/check-ip?ip=2.2.2.2", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		IPChanged    bool   `json:"ipChanged"`
		IPChangeType string `json:"ipChangeType"`
		OldIP        string `json:"oldIp"`
		CurrentIP    string `json:"currentIp"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IPChanged)
	assert.Equal(t, "SUSPICIOUS", resp.IPChangeType)
	assert.Equal(t, "1.1.1.1", resp.OldIP)
	assert.Equal(t, "2.2.2.2", resp.CurrentIP)

	w = doJSON(r, http.MethodPost, "/v1/attempts/att_missing/check-ip?ip=2.2.2.2", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompleteEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	id := registerTestAttempt(t, r, "1.1.1.1")

	w := doJSON(r, http.MethodPost, "/v1/attempts/"+id+"/complete", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	// Completing again succeeds without a second terminal event.
	w = doJSON(r, http.MethodPost, "/v1/attempts/"+id+"/complete", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/attempts/att_missing/complete", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
