package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rgupta21/vigil/internal/journal"
	"github.com/rgupta21/vigil/internal/metrics"
	"github.com/rgupta21/vigil/internal/retry"
)

// Config tunes the engine's timers.
type Config struct {
	// FlushInterval is how often buffered events are delivered.
	FlushInterval time.Duration
	// SaveInterval is how often the session snapshot is persisted.
	SaveInterval time.Duration
	// CheckInterval is how often a server-side IP check is requested.
	CheckInterval time.Duration
}

// DefaultConfig returns the standard cadence: flush every 10s, snapshot
// every 5s, IP liveness check every 30s.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 10 * time.Second,
		SaveInterval:  5 * time.Second,
		CheckInterval: 30 * time.Second,
	}
}

// Engine drives resilient event delivery for one attempt.
//
// Buffered events flush on a timer. A flush that cannot reach the
// server moves its events to the durable queue instead of dropping
// them, and every later flush tick retries the queue before sending
// anything new, so the server sees the oldest observations first and
// a single failed send never stalls delivery for the life of the
// process. Nothing is removed from the queue until the server
// acknowledges it.
type Engine struct {
	cfg       Config
	api       *API
	attemptID string
	buffer    *Buffer
	queue     *Queue
	sessions  *SessionStore
	logger    *slog.Logger

	// SnapshotFunc, when set, supplies the current assessment state for
	// the periodic save. NextSeq is filled in by the engine.
	SnapshotFunc func() Snapshot

	online   atomic.Bool
	statusCh <-chan bool

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewEngine creates an engine. statusCh carries connectivity
// transitions (true = online); it may be nil, in which case the engine
// stays online and failed sends are retried from the durable queue on
// the flush cadence.
func NewEngine(cfg Config, api *API, attemptID string, buffer *Buffer, kv KV, statusCh <-chan bool, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		api:       api,
		attemptID: attemptID,
		buffer:    buffer,
		queue:     NewQueue(kv),
		sessions:  NewSessionStore(kv),
		logger:    logger,
		statusCh:  statusCh,
	}
	e.online.Store(true)
	return e
}

// Observe records one event into the buffer.
func (e *Engine) Observe(name journal.EventName, meta *journal.Metadata) {
	e.buffer.Observe(name, meta)
}

// Start launches the flush, save, and check loops. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	go e.run(ctx)
	e.logger.Info("delivery engine started",
		"attempt_id", e.attemptID,
		"flush_interval", e.cfg.FlushInterval,
	)
}

// Stop halts the loops and waits for them to exit. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()

	<-done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	flushT := time.NewTicker(e.cfg.FlushInterval)
	saveT := time.NewTicker(e.cfg.SaveInterval)
	checkT := time.NewTicker(e.cfg.CheckInterval)
	defer flushT.Stop()
	defer saveT.Stop()
	defer checkT.Stop()

	// Anything queued by a previous run goes out as soon as we can.
	if e.online.Load() {
		e.recoverQueue(ctx)
	}

	for {
		select {
		case <-e.stop:
			return
		case <-ctx.Done():
			return

		case <-flushT.C:
			e.flush(ctx)

		case <-saveT.C:
			e.saveSnapshot(ctx)

		case <-checkT.C:
			if e.online.Load() {
				if _, err := e.api.CheckIP(ctx, e.attemptID); err != nil {
					e.logger.Warn("ip check failed", "error", err)
				}
			}

		case online, ok := <-e.statusCh:
			if !ok {
				e.statusCh = nil
				continue
			}
			was := e.online.Swap(online)
			if online && !was {
				e.logger.Info("connectivity restored, draining queue")
				e.recoverQueue(ctx)
			} else if !online && was {
				e.logger.Warn("connectivity lost, events will queue locally")
			}
		}
	}
}

// flush delivers the durable backlog and then the buffered events.
// Offline or failed delivery moves the batch to the durable queue; the
// events are never dropped, and the next tick tries again.
func (e *Engine) flush(ctx context.Context) {
	if !e.online.Load() {
		if events := e.buffer.Drain(); len(events) > 0 {
			e.enqueue(ctx, events)
		}
		return
	}

	// Backlog first. When it cannot drain, fresh events join the queue
	// behind it instead of overtaking older observations.
	if !e.recoverQueue(ctx) {
		if events := e.buffer.Drain(); len(events) > 0 {
			e.enqueue(ctx, events)
		}
		return
	}

	events := e.buffer.Drain()
	if len(events) == 0 {
		return
	}

	if _, err := e.api.SubmitEvents(ctx, events); err != nil {
		e.logger.Warn("event delivery failed, queueing batch",
			"count", len(events), "error", err)
		e.enqueue(ctx, events)
		return
	}

	metrics.ClientFlushesTotal.WithLabelValues("sent").Inc()
}

func (e *Engine) enqueue(ctx context.Context, events []*journal.Event) {
	if err := e.queue.Append(ctx, events); err != nil {
		e.logger.Error("failed to queue events locally",
			"count", len(events), "error", err)
		return
	}
	metrics.ClientFlushesTotal.WithLabelValues("queued").Inc()
}

// recoverQueue delivers everything in the durable queue, oldest first,
// and reports whether the queue is empty afterwards. The queue is
// cleared only after the server acknowledges the batch, so a crash
// mid-recovery re-sends rather than loses. A failed drain is retried on
// the next flush tick or connectivity transition.
func (e *Engine) recoverQueue(ctx context.Context) bool {
	queued, err := e.queue.Load(ctx)
	if err != nil {
		e.logger.Error("failed to load queued events", "error", err)
		return false
	}
	if len(queued) == 0 {
		return true
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		_, err := e.api.SubmitEvents(ctx, queued)
		return err
	})
	if err != nil {
		e.logger.Warn("queue delivery failed, will retry on next flush",
			"count", len(queued), "error", err)
		return false
	}

	if err := e.queue.Clear(ctx); err != nil {
		e.logger.Error("failed to clear delivered queue", "error", err)
		return false
	}
	metrics.ClientFlushesTotal.WithLabelValues("recovered").Inc()
	e.logger.Info("queued events delivered", "count", len(queued))
	return true
}

func (e *Engine) saveSnapshot(ctx context.Context) {
	if e.SnapshotFunc == nil {
		return
	}
	snap := e.SnapshotFunc()
	snap.AttemptID = e.attemptID
	snap.NextSeq = e.buffer.NextSeq()
	if err := e.sessions.Save(ctx, &snap); err != nil {
		e.logger.Error("failed to save session snapshot", "error", err)
	}
}

// Complete finishes the attempt: stops the timers, performs one final
// synchronous delivery of the queue and the buffer, marks the attempt
// complete on the server, and clears local state. Fails rather than
// silently dropping undelivered events.
func (e *Engine) Complete(ctx context.Context) error {
	e.Stop()

	// Queue first so the server receives observations in order.
	queued, err := e.queue.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queued events: %w", err)
	}
	if len(queued) > 0 {
		err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
			_, err := e.api.SubmitEvents(ctx, queued)
			return err
		})
		if err != nil {
			return fmt.Errorf("deliver queued events: %w", err)
		}
		if err := e.queue.Clear(ctx); err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
	}

	if remaining := e.buffer.Drain(); len(remaining) > 0 {
		err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
			_, err := e.api.SubmitEvents(ctx, remaining)
			return err
		})
		if err != nil {
			// Put them back durably so a retry of Complete can deliver.
			e.enqueue(ctx, remaining)
			return fmt.Errorf("deliver final events: %w", err)
		}
	}

	if err := e.api.Complete(ctx, e.attemptID); err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}

	if err := e.sessions.Clear(ctx); err != nil {
		e.logger.Warn("failed to clear session snapshot", "error", err)
	}

	e.logger.Info("attempt completed", "attempt_id", e.attemptID)
	return nil
}

// Sessions exposes the snapshot store for recovery at startup.
func (e *Engine) Sessions() *SessionStore { return e.sessions }
