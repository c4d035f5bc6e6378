// Package detector implements the session-integrity pipeline's server
// core: attempt registration, IP-change detection and classification,
// event-batch submission, and attempt completion.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rgupta21/vigil/internal/attempt"
	"github.com/rgupta21/vigil/internal/idgen"
	"github.com/rgupta21/vigil/internal/ipinfo"
	"github.com/rgupta21/vigil/internal/journal"
	"github.com/rgupta21/vigil/internal/metrics"
	"github.com/rgupta21/vigil/internal/syncutil"
	"github.com/rgupta21/vigil/internal/traces"
	"github.com/rgupta21/vigil/internal/validation"
)

var (
	// ErrUsernameRequired is returned when registration lacks a username.
	ErrUsernameRequired = errors.New("username is required")
	// ErrNoIPAddress is returned when no network address could be
	// determined and no override was supplied.
	ErrNoIPAddress = errors.New("ip address could not be determined")
	// ErrInvalidIP is returned for syntactically invalid IP overrides.
	ErrInvalidIP = errors.New("invalid ip address")
)

// Service orchestrates the attempt store, the journal, and the
// classifier. All mutation of a single attempt's lastKnownIp and
// ipChangeCount funnels through here under a per-attempt lock.
type Service struct {
	attempts   attempt.Store
	journal    journal.Store
	classifier *Classifier
	resolver   ipinfo.Resolver
	locks      syncutil.ShardedMutex
	logger     *slog.Logger

	// OnAppend, when set, is invoked once per journaled event after a
	// successful append. Used to feed the realtime admin stream.
	OnAppend func(e *journal.Event)
}

// NewService creates the detector service.
func NewService(attempts attempt.Store, js journal.Store, resolver ipinfo.Resolver, logger *slog.Logger) *Service {
	return &Service{
		attempts:   attempts,
		journal:    js,
		classifier: NewClassifier(resolver, logger),
		resolver:   resolver,
		logger:     logger,
	}
}

// RegisterInput carries the registration request.
type RegisterInput struct {
	Username    string
	IP          string
	BrowserName string
	HostOS      string
}

// Register creates a new attempt with the observed IP as both the
// immutable baseline and the initial lastKnownIp. The baseline
// provider/region fingerprint is resolved best-effort: on lookup failure
// the fields stay empty. Registration journals nothing; capture events
// arrive through the normal event path.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*attempt.Attempt, error) {
	ctx, span := traces.StartSpan(ctx, "detector.Register")
	defer span.End()

	username := validation.SanitizeString(in.Username, 200)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if in.IP == "" {
		return nil, ErrNoIPAddress
	}
	if !validation.IsValidIP(in.IP) {
		return nil, ErrInvalidIP
	}

	a := &attempt.Attempt{
		ID:            idgen.WithPrefix("att_"),
		Username:      username,
		IPAddress:     in.IP,
		LastKnownIP:   in.IP,
		IPChangeCount: 0,
		BrowserName:   validation.SanitizeString(in.BrowserName, 100),
		HostOS:        validation.SanitizeString(in.HostOS, 100),
		CreatedAt:     time.Now(),
	}

	if info, err := s.resolver.Lookup(ctx, in.IP); err == nil {
		a.BaselineProvider = info.Provider
		a.BaselineRegion = info.Region
	} else {
		metrics.LookupFailuresTotal.Inc()
		s.logger.Warn("baseline fingerprint lookup failed", "attempt_id", a.ID, "error", err)
	}

	if err := s.attempts.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("attempt registered",
		"attempt_id", a.ID,
		"username", a.Username,
		"ip", a.IPAddress,
	)
	return a, nil
}

// CheckResult reports the outcome of one detection pass.
type CheckResult struct {
	IPChanged    bool               `json:"ipChanged"`
	IPChangeType journal.ChangeType `json:"ipChangeType,omitempty"`
	OldIP        string             `json:"oldIp"`
	NewIP        string             `json:"currentIp,omitempty"`
}

// CheckIP runs the periodic liveness check: it always journals an
// IP_CHECK_PERFORMED event, then runs detection against the observed IP.
func (s *Service) CheckIP(ctx context.Context, attemptID, observedIP string) (*CheckResult, error) {
	ctx, span := traces.StartSpan(ctx, "detector.CheckIP", traces.AttemptID(attemptID))
	defer span.End()

	unlock := s.locks.Lock(attemptID)
	defer unlock()

	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	events := []*journal.Event{{
		Name:      journal.IPCheckPerformed,
		Timestamp: time.Now(),
		AttemptID: a.ID,
	}}

	result, synthesized, err := s.detectAndRecord(ctx, a, observedIP)
	if err != nil {
		return nil, err
	}
	events = append(events, synthesized...)

	if err := s.appendAndPublish(ctx, events); err != nil {
		return nil, err
	}
	return result, nil
}

// SubmitBatch accepts a client event batch. When the submitter's
// network-layer IP is known, detection runs first and any synthesized
// IP-change events are prepended ahead of the batch's own events.
// Returns the number of events journaled and whether an IP change was
// detected.
func (s *Service) SubmitBatch(ctx context.Context, events []*journal.Event, detectedIP string) (int, bool, error) {
	ctx, span := traces.StartSpan(ctx, "detector.SubmitBatch", traces.BatchSize(len(events)))
	defer span.End()

	if len(events) == 0 {
		return 0, false, journal.ErrEmptyBatch
	}
	attemptID := events[0].AttemptID
	if attemptID == "" {
		return 0, false, journal.ErrMissingAttempt
	}

	unlock := s.locks.Lock(attemptID)
	defer unlock()

	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return 0, false, err
	}

	ipChanged := false
	if detectedIP != "" {
		result, synthesized, err := s.detectAndRecord(ctx, a, detectedIP)
		if err != nil {
			return 0, false, err
		}
		ipChanged = result.IPChanged
		if len(synthesized) > 0 {
			events = append(synthesized, events...)
		}
	}

	now := time.Now()
	for _, e := range events {
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
	}

	if err := s.appendAndPublish(ctx, events); err != nil {
		metrics.EventBatchesTotal.WithLabelValues("rejected").Inc()
		return 0, false, err
	}
	metrics.EventBatchesTotal.WithLabelValues("accepted").Inc()
	return len(events), ipChanged, nil
}

// Complete records the terminal ATTEMPT_COMPLETED event. Idempotent:
// a second call finds the existing terminal event and appends nothing.
func (s *Service) Complete(ctx context.Context, attemptID string) error {
	ctx, span := traces.StartSpan(ctx, "detector.Complete", traces.AttemptID(attemptID))
	defer span.End()

	unlock := s.locks.Lock(attemptID)
	defer unlock()

	if _, err := s.attempts.Get(ctx, attemptID); err != nil {
		return err
	}

	n, err := s.journal.CountByName(ctx, attemptID, journal.AttemptCompleted)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("attempt already completed", "attempt_id", attemptID)
		return nil
	}

	return s.appendAndPublish(ctx, []*journal.Event{{
		Name:      journal.AttemptCompleted,
		Timestamp: time.Now(),
		AttemptID: attemptID,
	}})
}

// detectAndRecord is the core detection step. The caller must hold the
// attempt's lock. On a detected change it atomically advances the
// attempt's counter and lastKnownIp, classifies the change, and returns
// the synthesized DETECTED/CLASSIFIED/WARNING_SHOWN triplet in that
// fixed order. The caller appends the triplet (timeline consumers rely
// on it being contiguous and ordered).
func (s *Service) detectAndRecord(ctx context.Context, a *attempt.Attempt, observedIP string) (*CheckResult, []*journal.Event, error) {
	oldIP := a.LastKnownIP
	if oldIP == "" {
		oldIP = a.IPAddress
	}

	// A missing observation is never treated as a change.
	if observedIP == "" || observedIP == oldIP {
		return &CheckResult{IPChanged: false, OldIP: oldIP, NewIP: observedIP}, nil, nil
	}

	// The counter advance and the journal append are separate writes; a
	// failed append after a successful RecordIPChange leaves the count
	// one ahead of the journaled detections until the next change.
	if err := s.attempts.RecordIPChange(ctx, a.ID, observedIP, a.IPChangeCount); err != nil {
		return nil, nil, err
	}
	a.IPChangeCount++
	a.LastKnownIP = observedIP

	changeType := s.classifier.Classify(ctx, oldIP, observedIP)
	metrics.IPChangesTotal.WithLabelValues(string(changeType)).Inc()

	s.logger.Warn("ip change detected",
		"attempt_id", a.ID,
		"old_ip", oldIP,
		"new_ip", observedIP,
		"type", changeType,
		"count", a.IPChangeCount,
	)

	now := time.Now()
	meta := journal.Metadata{
		OldIP:         oldIP,
		NewIP:         observedIP,
		IPChangeType:  changeType,
		IPChangeCount: a.IPChangeCount,
	}
	detectedMeta := meta
	detectedMeta.IPChangeType = "" // classification not yet attached
	classifiedMeta := meta
	warningMeta := meta

	events := []*journal.Event{
		{Name: journal.IPChangeDetected, Timestamp: now, AttemptID: a.ID, Metadata: &detectedMeta},
		{Name: journal.IPChangeClassified, Timestamp: now, AttemptID: a.ID, Metadata: &classifiedMeta},
		{Name: journal.IPChangeWarningShown, Timestamp: now, AttemptID: a.ID, Metadata: &warningMeta},
	}

	result := &CheckResult{
		IPChanged:    true,
		IPChangeType: changeType,
		OldIP:        oldIP,
		NewIP:        observedIP,
	}
	return result, events, nil
}

// appendAndPublish appends one batch and feeds the realtime stream.
func (s *Service) appendAndPublish(ctx context.Context, events []*journal.Event) error {
	if err := s.journal.AppendBatch(ctx, events); err != nil {
		return err
	}
	for _, e := range events {
		metrics.EventsAppendedTotal.WithLabelValues(string(e.Name)).Inc()
		if s.OnAppend != nil {
			s.OnAppend(e)
		}
	}
	return nil
}
