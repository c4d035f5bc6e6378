// Package attempt stores the per-assessment-attempt aggregate: identity,
// baseline network fingerprint, last-known IP, and the cumulative
// IP-change counter.
package attempt

import (
	"context"
	"errors"
	"time"
)

// Attempt is one assessment session for one test-taker.
//
// LastKnownIP and IPChangeCount are owned by the IP-change detector; no
// other component mutates them. IPAddress and the baseline fields are
// immutable after registration.
type Attempt struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	IPAddress        string    `json:"ipAddress"`
	BaselineProvider string    `json:"baselineProvider,omitempty"`
	BaselineRegion   string    `json:"baselineRegion,omitempty"`
	LastKnownIP      string    `json:"lastKnownIp"`
	IPChangeCount    int       `json:"ipChangeCount"`
	BrowserName      string    `json:"browserName,omitempty"`
	HostOS           string    `json:"hostOs,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

var (
	// ErrNotFound is returned when the attempt does not exist.
	ErrNotFound = errors.New("attempt not found")
	// ErrConflict is returned when a conditional IP-change update lost a
	// race: the stored change count no longer matches the expected one.
	ErrConflict = errors.New("attempt: concurrent ip-change update")
)

// Store persists attempts.
type Store interface {
	Create(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	// List returns all attempts, newest first.
	List(ctx context.Context) ([]*Attempt, error)
	// RecordIPChange sets lastKnownIp to newIP and increments the change
	// counter, but only if the stored counter still equals prevCount.
	// Returns ErrConflict otherwise. Together with the detector's
	// per-attempt lock this keeps a racing liveness check and batch
	// submission from double-counting one change.
	RecordIPChange(ctx context.Context, id, newIP string, prevCount int) error
}
