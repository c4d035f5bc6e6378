// Package ipinfo resolves network-provider and coarse-location metadata
// for IP addresses via an external lookup service.
//
// The upstream is treated as unreliable: lookups are best-effort and
// callers degrade to the Unknown sentinel rather than failing.
package ipinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/rgupta21/vigil/internal/circuitbreaker"
)

// Unknown is the sentinel used when metadata could not be resolved.
// Unknown never compares equal to a real provider or region during
// classification.
const Unknown = "Unknown"

// Info is the metadata fingerprint for one IP address.
type Info struct {
	Provider string `json:"org"`
	Region   string `json:"city"`
}

// IsUnknown reports whether either field is the Unknown sentinel.
func (i Info) IsUnknown() bool {
	return i.Provider == Unknown || i.Region == Unknown
}

// ErrUnavailable is returned when the lookup service is unreachable or
// the circuit is open.
var ErrUnavailable = errors.New("ipinfo: lookup service unavailable")

// Resolver looks up provider/region metadata for an IP address.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (Info, error)
}

// HTTPResolver resolves metadata against an ipinfo.io-compatible service.
// A per-host circuit breaker stops a flapping upstream from costing a
// full timeout per classification.
type HTTPResolver struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewHTTPResolver creates a resolver for the given base URL.
func NewHTTPResolver(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// CircuitOpen reports whether the lookup circuit is currently refusing
// requests. Read-only; it never advances the breaker to half-open.
func (r *HTTPResolver) CircuitOpen() bool {
	return r.breaker.State(r.baseURL) == circuitbreaker.StateOpen
}

func (r *HTTPResolver) Lookup(ctx context.Context, ip string) (Info, error) {
	if !r.breaker.Allow(r.baseURL) {
		return Info{}, ErrUnavailable
	}

	u := fmt.Sprintf("%s/%s", r.baseURL, url.PathEscape(ip))
	if r.token != "" {
		u += "?token=" + url.QueryEscape(r.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.breaker.RecordFailure(r.baseURL)
		return Info{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		r.breaker.RecordFailure(r.baseURL)
		return Info{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		r.breaker.RecordFailure(r.baseURL)
		return Info{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		r.breaker.RecordFailure(r.baseURL)
		return Info{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	r.breaker.RecordSuccess(r.baseURL)
	return info, nil
}
