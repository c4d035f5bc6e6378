// Package journal provides the append-only event journal for assessment
// attempts. Events are immutable facts: once appended they are never
// updated or deleted, and the storage layer enforces that.
package journal

import (
	"context"
	"errors"
	"time"
)

// EventName identifies one kind of integrity-relevant event. The
// vocabulary is closed; AppendBatch rejects anything outside it.
type EventName string

const (
	IPCapturedInitially  EventName = "IP_CAPTURED_INITIALLY"
	IPCheckPerformed     EventName = "IP_CHECK_PERFORMED"
	IPChangeDetected     EventName = "IP_CHANGE_DETECTED"
	IPChangeClassified   EventName = "IP_CHANGE_CLASSIFIED"
	IPChangeWarningShown EventName = "IP_CHANGE_WARNING_SHOWN"
	FullscreenEntered    EventName = "FULLSCREEN_ENTERED"
	FullscreenExited     EventName = "FULLSCREEN_EXITED"
	TabVisibilityChanged EventName = "TAB_VISIBILITY_CHANGED"
	WindowBlur           EventName = "WINDOW_BLUR"
	WindowFocus          EventName = "WINDOW_FOCUS"
	TimerTick            EventName = "TIMER_TICK"
	TimerCompleted       EventName = "TIMER_COMPLETED"
	CopyDetected         EventName = "COPY_DETECTED"
	PasteDetected        EventName = "PASTE_DETECTED"
	AttemptCompleted     EventName = "ATTEMPT_COMPLETED"
)

var validNames = map[EventName]bool{
	IPCapturedInitially:  true,
	IPCheckPerformed:     true,
	IPChangeDetected:     true,
	IPChangeClassified:   true,
	IPChangeWarningShown: true,
	FullscreenEntered:    true,
	FullscreenExited:     true,
	TabVisibilityChanged: true,
	WindowBlur:           true,
	WindowFocus:          true,
	TimerTick:            true,
	TimerCompleted:       true,
	CopyDetected:         true,
	PasteDetected:        true,
	AttemptCompleted:     true,
}

// Valid reports whether the name belongs to the event vocabulary.
func (n EventName) Valid() bool { return validNames[n] }

// SuspiciousNames are the event kinds counted toward an attempt's
// suspicious-event total in admin projections.
var SuspiciousNames = []EventName{
	IPChangeDetected,
	FullscreenExited,
	TabVisibilityChanged,
	WindowBlur,
}

// Suspicious reports whether the event kind counts as suspicious.
func (n EventName) Suspicious() bool {
	for _, s := range SuspiciousNames {
		if n == s {
			return true
		}
	}
	return false
}

// ChangeType classifies a detected IP change.
type ChangeType string

const (
	ChangeBenign     ChangeType = "BENIGN"
	ChangeSuspicious ChangeType = "SUSPICIOUS"
)

// Metadata is the optional structured payload on an event. IP-change
// events carry the old/new addresses; capture events carry client info.
type Metadata struct {
	OldIP         string     `json:"oldIp,omitempty"`
	NewIP         string     `json:"newIp,omitempty"`
	IPChangeType  ChangeType `json:"ipChangeType,omitempty"`
	IPChangeCount int        `json:"ipChangeCount,omitempty"`
	BrowserName   string     `json:"browserName,omitempty"`
	HostOS        string     `json:"hostOs,omitempty"`
}

// Event is one immutable journal record.
//
// Seq is a client-assigned monotonic per-attempt sequence number used to
// restore observation order when a queued batch is delivered after a later
// direct-send batch. Server-synthesized events carry Seq 0 and rely on
// insertion order within their batch.
type Event struct {
	ID        string    `json:"id"`
	Name      EventName `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	AttemptID string    `json:"attemptId"`
	Seq       int64     `json:"seq,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

var (
	// ErrEmptyBatch is returned when AppendBatch receives no events.
	ErrEmptyBatch = errors.New("journal: empty event batch")
	// ErrMixedAttempts is returned when one batch mixes attempt IDs.
	ErrMixedAttempts = errors.New("journal: batch mixes attempts")
	// ErrMissingAttempt is returned when an event has no attempt ID.
	ErrMissingAttempt = errors.New("journal: event missing attempt id")
	// ErrUnknownEventName is returned for names outside the vocabulary.
	ErrUnknownEventName = errors.New("journal: unknown event name")
	// ErrImmutable is returned by every mutation path on the journal.
	// Hitting it indicates a programming error: journal records are
	// never rewritten.
	ErrImmutable = errors.New("journal: events are immutable")
)

// Counts summarizes an attempt's journal for admin projections.
type Counts struct {
	Total      int `json:"eventCount"`
	Suspicious int `json:"suspiciousEventCount"`
}

// Store persists and reads immutable journal events.
//
// The interface deliberately has no update or delete operations; see
// ErrImmutable for the guard on the concrete stores.
type Store interface {
	// AppendBatch durably records every event in the batch or none of
	// them. The first event's attempt ID is authoritative and all
	// events must share it.
	AppendBatch(ctx context.Context, events []*Event) error
	// ListByAttempt returns an attempt's events ordered by timestamp,
	// then client sequence, then insertion order.
	ListByAttempt(ctx context.Context, attemptID string) ([]*Event, error)
	// CountByName counts an attempt's events with the given name.
	CountByName(ctx context.Context, attemptID string, name EventName) (int, error)
	// CountsForAttempt returns total and suspicious event counts.
	CountsForAttempt(ctx context.Context, attemptID string) (Counts, error)
}

// validateBatch applies the batch rules shared by all stores.
func validateBatch(events []*Event) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}
	owner := events[0].AttemptID
	if owner == "" {
		return ErrMissingAttempt
	}
	for _, e := range events {
		if e.AttemptID == "" {
			return ErrMissingAttempt
		}
		if e.AttemptID != owner {
			return ErrMixedAttempts
		}
		if !e.Name.Valid() {
			return ErrUnknownEventName
		}
	}
	return nil
}
