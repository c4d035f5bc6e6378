// Command agent is a headless assessment client. It registers (or
// resumes) an attempt, observes events into the resilient delivery
// engine, and completes the attempt on interrupt.
//
// Usage:
//
//	agent -server http://localhost:8080 -user alice -state ./agent.db
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rgupta21/vigil/internal/client"
	"github.com/rgupta21/vigil/internal/journal"
	"github.com/rgupta21/vigil/internal/logging"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "integrity service base URL")
		username  = flag.String("user", "", "test-taker username")
		statePath = flag.String("state", "agent.db", "durable state file")
		duration  = flag.Duration("duration", 30*time.Minute, "assessment duration")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := logging.New(*logLevel, "text")

	if *username == "" {
		logger.Error("-user is required")
		os.Exit(1)
	}

	kv, err := client.NewSQLiteStore(*statePath)
	if err != nil {
		logger.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = kv.Close() }()

	api := client.NewAPI(*serverURL)
	ctx := context.Background()

	// Resume an interrupted attempt if a snapshot survives, otherwise
	// register a fresh one.
	sessions := client.NewSessionStore(kv)
	snap, err := sessions.Load(ctx)
	if err != nil {
		logger.Error("failed to load session snapshot", "error", err)
		os.Exit(1)
	}

	var attemptID string
	var nextSeq int64 = 1
	remaining := *duration
	fresh := snap == nil

	if snap != nil {
		attemptID = snap.AttemptID
		nextSeq = snap.NextSeq
		remaining = snap.TimeRemaining
		logger.Info("resuming attempt",
			"attempt_id", attemptID,
			"time_remaining", remaining,
		)
	} else {
		a, err := api.Register(ctx, client.RegisterRequest{
			Username:    *username,
			BrowserName: "headless",
			HostOS:      runtime.GOOS,
		})
		if err != nil {
			logger.Error("failed to register attempt", "error", err)
			os.Exit(1)
		}
		attemptID = a.ID
		logger.Info("attempt registered", "attempt_id", attemptID, "ip", a.IPAddress)
	}

	buffer := client.NewBuffer(attemptID, nextSeq)

	// Connectivity probe feeding the engine's online/offline signal.
	statusCh := make(chan bool, 1)
	probeCtx, stopProbe := context.WithCancel(ctx)
	defer stopProbe()
	go probeConnectivity(probeCtx, api, statusCh)

	engine := client.NewEngine(client.DefaultConfig(), api, attemptID, buffer, kv, statusCh, logger)

	var mu sync.Mutex
	engine.SnapshotFunc = func() client.Snapshot {
		mu.Lock()
		defer mu.Unlock()
		return client.Snapshot{
			TimeRemaining: remaining,
			IsRunning:     true,
		}
	}

	engine.Start(ctx)

	if fresh {
		engine.Observe(journal.IPCapturedInitially, &journal.Metadata{
			BrowserName: "headless",
			HostOS:      runtime.GOOS,
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	tick := time.NewTicker(time.Minute)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			mu.Lock()
			remaining -= time.Minute
			done := remaining <= 0
			mu.Unlock()

			engine.Observe(journal.TimerTick, nil)
			if done {
				engine.Observe(journal.TimerCompleted, nil)
				finish(ctx, engine, logger)
				return
			}

		case sig := <-sigCh:
			logger.Info("signal received, completing attempt", "signal", sig.String())
			finish(ctx, engine, logger)
			return
		}
	}
}

func finish(ctx context.Context, engine *client.Engine, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := engine.Complete(ctx); err != nil {
		logger.Error("failed to complete attempt", "error", err)
		os.Exit(1)
	}
}

// probeConnectivity polls the service liveness endpoint and reports
// transitions on ch.
func probeConnectivity(ctx context.Context, api *client.API, ch chan<- bool) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	last := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := api.Healthy(ctx)
			if online != last {
				last = online
				select {
				case ch <- online:
				default:
				}
			}
		}
	}
}
