package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rgupta21/vigil/internal/journal"
)

// Queue holds events whose delivery failed, persisted as one JSON array
// under the pending-events key. Appends survive process crashes; the
// queue is only cleared after the server acknowledges the whole batch.
type Queue struct {
	kv KV
}

// NewQueue creates a queue over the given store.
func NewQueue(kv KV) *Queue {
	return &Queue{kv: kv}
}

// Load returns the queued events, oldest first. A missing or corrupt
// record reads as empty: recovery must never wedge on bad state.
func (q *Queue) Load(ctx context.Context) ([]*journal.Event, error) {
	data, err := q.kv.Get(ctx, queueKey)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var events []*journal.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, nil
	}
	return events, nil
}

// Append adds events to the end of the queue.
func (q *Queue) Append(ctx context.Context, events []*journal.Event) error {
	if len(events) == 0 {
		return nil
	}

	existing, err := q.Load(ctx)
	if err != nil {
		return err
	}
	combined := append(existing, events...)

	data, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.kv.Set(ctx, queueKey, data); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

// Clear removes all queued events.
func (q *Queue) Clear(ctx context.Context) error {
	return q.kv.Delete(ctx, queueKey)
}
