package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the periodically saved assessment state. A fresh process
// that finds one resumes the attempt instead of starting over.
type Snapshot struct {
	AttemptID     string         `json:"attemptId"`
	TimeRemaining time.Duration  `json:"timeRemaining"`
	IsRunning     bool           `json:"isRunning"`
	Answers       map[string]int `json:"answers"`
	CurrentIndex  int            `json:"currentIndex"`
	NextSeq       int64          `json:"nextSeq"`
	LastUpdated   time.Time      `json:"lastUpdated"`
}

// SessionStore persists the snapshot under the assessment-session key.
type SessionStore struct {
	kv KV
}

// NewSessionStore creates a session store over the given KV.
func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv}
}

// Save persists the snapshot, stamping LastUpdated.
func (s *SessionStore) Save(ctx context.Context, snap *Snapshot) error {
	snap.LastUpdated = time.Now()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(ctx, sessionKey, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Load returns the saved snapshot, or nil when none exists. A corrupt
// record reads as nil so a bad save never blocks a fresh start.
func (s *SessionStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.kv.Get(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil
	}
	if snap.AttemptID == "" {
		return nil, nil
	}
	return &snap, nil
}

// Clear removes the snapshot. Called on completion so a finished
// attempt is never resumed.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, sessionKey)
}
