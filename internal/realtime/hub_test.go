package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rgupta21/vigil/internal/journal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestPublishEventNoticeTypes(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)

	// Wait for registration before broadcasting.
	waitForClients(t, hub, 1)

	hub.PublishEvent(&journal.Event{Name: journal.WindowBlur, AttemptID: "att_1"})
	hub.PublishEvent(&journal.Event{Name: journal.IPChangeDetected, AttemptID: "att_1"})
	hub.PublishEvent(&journal.Event{Name: journal.AttemptCompleted, AttemptID: "att_1"})

	want := []NoticeType{NoticeEventAppended, NoticeIPChange, NoticeAttemptCompleted}
	for _, wt := range want {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var n Notice
		if err := json.Unmarshal(msg, &n); err != nil {
			t.Fatal(err)
		}
		if n.Type != wt {
			t.Errorf("got notice %s, want %s", n.Type, wt)
		}
		if n.AttemptID != "att_1" {
			t.Errorf("attemptId = %q", n.AttemptID)
		}
	}
}

func TestSubscriptionFiltersByAttempt(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	// Narrow the default all-notices subscription to one attempt.
	sub := Subscription{AttemptIDs: []string{"att_watched"}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	// Give the read pump a moment to apply the update.
	time.Sleep(100 * time.Millisecond)

	hub.PublishEvent(&journal.Event{Name: journal.WindowBlur, AttemptID: "att_other"})
	hub.PublishEvent(&journal.Event{Name: journal.WindowBlur, AttemptID: "att_watched"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var n Notice
	if err := json.Unmarshal(msg, &n); err != nil {
		t.Fatal(err)
	}
	if n.AttemptID != "att_watched" {
		t.Errorf("filter leaked notice for %q", n.AttemptID)
	}
}

func TestStatsCountsClients(t *testing.T) {
	hub := NewHub(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	_ = dialHub(t, hub)
	waitForClients(t, hub, 1)

	stats := hub.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("connectedClients = %v", stats["connectedClients"])
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Stats()["connectedClients"].(int) >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never saw %d connected clients", n)
}
