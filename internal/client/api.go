package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rgupta21/vigil/internal/attempt"
	"github.com/rgupta21/vigil/internal/journal"
)

// API talks to the integrity service over HTTP.
type API struct {
	baseURL string
	http    *http.Client
}

// NewAPI creates a client for the service at baseURL.
func NewAPI(baseURL string) *API {
	return &API{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// RegisterRequest starts a new attempt.
type RegisterRequest struct {
	Username    string `json:"username"`
	IP          string `json:"ip,omitempty"`
	BrowserName string `json:"browserName,omitempty"`
	HostOS      string `json:"hostOs,omitempty"`
}

// Register creates a new attempt on the server.
func (a *API) Register(ctx context.Context, req RegisterRequest) (*attempt.Attempt, error) {
	var resp struct {
		Attempt *attempt.Attempt `json:"attempt"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/attempts", req, &resp); err != nil {
		return nil, err
	}
	return resp.Attempt, nil
}

// SubmitEvents delivers one event batch. The server acknowledges with
// the number of journaled events.
func (a *API) SubmitEvents(ctx context.Context, events []*journal.Event) (int, error) {
	var resp struct {
		Accepted int `json:"accepted"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/events", events, &resp); err != nil {
		return 0, err
	}
	return resp.Accepted, nil
}

// CheckIP triggers a server-side liveness check for the attempt.
func (a *API) CheckIP(ctx context.Context, attemptID string) (bool, error) {
	var resp struct {
		IPChanged bool `json:"ipChanged"`
	}
	path := fmt.Sprintf("/v1/attempts/%s/check-ip", attemptID)
	if err := a.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.IPChanged, nil
}

// Complete marks the attempt finished.
func (a *API) Complete(ctx context.Context, attemptID string) error {
	path := fmt.Sprintf("/v1/attempts/%s/complete", attemptID)
	return a.do(ctx, http.MethodPost, path, nil, nil)
}

// Healthy reports whether the service liveness probe answers. Used as
// the connectivity probe feeding the engine's online/offline signal.
func (a *API) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	return resp.StatusCode == http.StatusOK
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("api %s %s: %d %s: %s", method, path, resp.StatusCode, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("api %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
