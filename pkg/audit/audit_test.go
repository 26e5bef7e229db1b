package audit

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	return NewFileStore(dir)
}

func TestFileStore_AppendAndQuery(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	event := &Event{
		Type:   EventDeployBegin,
		User:   "alice",
		Action: "deploy.begin",
		Target: &EventTarget{HostIDs: []string{"1", "2"}, CodeHost: "codehost.internal"},
	}
	if err := store.Append(ctx, event); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if event.ID == "" {
		t.Error("expected event.ID to be set")
	}
	if event.Timestamp.IsZero() {
		t.Error("expected event.Timestamp to be set")
	}

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].User != "alice" {
		t.Errorf("User = %q, want alice", events[0].User)
	}
	if events[0].Target.CodeHost != "codehost.internal" {
		t.Errorf("Target.CodeHost = %q, want codehost.internal", events[0].Target.CodeHost)
	}
}

func TestFileStore_QueryFilterByUser(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventDeployBegin, Action: "run"})
	store.Append(ctx, &Event{User: "bob", Type: EventDeployBegin, Action: "run"})
	store.Append(ctx, &Event{User: "alice", Type: EventDeployEnd, Action: "end"})

	events, err := store.Query(ctx, QueryOptions{User: "alice"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for alice, got %d", len(events))
	}
}

func TestFileStore_QueryFilterByType(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventDeployBegin, Action: "run"})
	store.Append(ctx, &Event{User: "bob", Type: EventDeployEnd, Action: "end"})

	events, err := store.Query(ctx, QueryOptions{Type: EventDeployEnd})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 deploy.end event, got %d", len(events))
	}
	if events[0].User != "bob" {
		t.Errorf("User = %q, want bob", events[0].User)
	}
}

func TestFileStore_QueryFilterBySince(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	oldEvent := &Event{User: "alice", Type: EventDeployBegin, Action: "old", Timestamp: time.Now().Add(-2 * time.Hour)}
	store.Append(ctx, oldEvent)
	store.Append(ctx, &Event{User: "alice", Type: EventDeployBegin, Action: "new"})

	events, err := store.Query(ctx, QueryOptions{Since: time.Now().Add(-1 * time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 recent event, got %d", len(events))
	}
	if events[0].Action != "new" {
		t.Errorf("Action = %q, want new", events[0].Action)
	}
}

func TestFileStore_QueryFilterByUntil(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventDeployBegin, Action: "old", Timestamp: time.Now().Add(-2 * time.Hour)})
	store.Append(ctx, &Event{User: "alice", Type: EventDeployBegin, Action: "new"})

	events, err := store.Query(ctx, QueryOptions{Until: time.Now().Add(-1 * time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 old event, got %d", len(events))
	}
	if events[0].Action != "old" {
		t.Errorf("Action = %q, want old", events[0].Action)
	}
}

func TestFileStore_QueryLimit(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		store.Append(ctx, &Event{User: "alice", Type: EventDeployBegin, Action: "run"})
	}

	events, err := store.Query(ctx, QueryOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestFileStore_Export(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventDeployBegin, Action: "run"})
	store.Append(ctx, &Event{User: "bob", Type: EventDeployEnd, Action: "end"})

	events, err := store.Export(ctx, time.Now().Add(-1*time.Hour))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestFileStore_EmptyLog(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query empty: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events, got %d", len(events))
	}
}

func TestFileStore_ConcurrentAppend(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	n := 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			store.Append(ctx, &Event{User: "concurrent", Type: EventDeployBegin, Action: "run"})
		}(i)
	}
	wg.Wait()

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != n {
		t.Fatalf("expected %d events, got %d", n, len(events))
	}
}

func TestFileStore_MalformedLines(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	store.Append(ctx, &Event{User: "alice", Type: EventDeployBegin, Action: "run"})

	f, _ := os.OpenFile(filepath.Join(dir, "audit.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	f.Write([]byte("not-valid-json\n"))
	f.Close()

	store.Append(ctx, &Event{User: "bob", Type: EventDeployEnd, Action: "end"})

	events, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 valid events (skipping malformed), got %d", len(events))
	}
}

func TestFileStore_CustomID(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	event := &Event{ID: "custom-123", User: "alice", Type: EventDeployBegin, Action: "run"}
	store.Append(ctx, event)

	events, _ := store.Query(ctx, QueryOptions{})
	if events[0].ID != "custom-123" {
		t.Errorf("ID = %q, want custom-123", events[0].ID)
	}
}

func TestLogger_LogDeployBeginAndEnd(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	if err := logger.LogDeployBegin(ctx, "codehost.internal", []string{"1", "2"}, []string{"svc"}); err != nil {
		t.Fatalf("LogDeployBegin: %v", err)
	}
	if err := logger.LogDeployEnd(ctx, "success", 5*time.Second, nil); err != nil {
		t.Fatalf("LogDeployEnd: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventDeployBegin {
		t.Errorf("Type = %q, want deploy.begin", events[0].Type)
	}
	if events[1].Result.Status != "success" {
		t.Errorf("Result.Status = %q, want success", events[1].Result.Status)
	}
}

func TestLogger_LogHostOutcome(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	host := hostsource.Host{ID: "1", Name: "web-a1"}
	if err := logger.LogHostOutcome(ctx, host, "success"); err != nil {
		t.Fatalf("LogHostOutcome: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Target.HostIDs[0] != "1" {
		t.Errorf("Target.HostIDs[0] = %q, want 1", events[0].Target.HostIDs[0])
	}
}

func TestLogger_LogPauseDecision(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	if err := logger.LogPauseDecision(ctx, "continue", 33); err != nil {
		t.Fatalf("LogPauseDecision: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if events[0].Metadata["decision"] != "continue" {
		t.Errorf("Metadata[decision] = %v, want continue", events[0].Metadata["decision"])
	}
}

func TestLogger_LogRBACDecision(t *testing.T) {
	store := tempStore(t)
	ctx := context.Background()

	logger := NewLogger(store, "ops")
	if err := logger.LogRBACDecision(ctx, "deploy.trigger", false, "missing permission"); err != nil {
		t.Fatalf("LogRBACDecision: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if events[0].Result.Status != "deny" {
		t.Errorf("Result.Status = %q, want deny", events[0].Result.Status)
	}
}

func TestWire_RecordsDeployLifecycleFromEventBus(t *testing.T) {
	store := tempStore(t)
	logger := NewLogger(store, "ops")
	bus := eventbus.New(nil)
	Wire(bus, logger)

	ctx := context.Background()
	host := hostsource.Host{ID: "1", Name: "web-a1"}
	if err := bus.Trigger(ctx, "deploy.begin", eventbus.Payload{}); err != nil {
		t.Fatalf("trigger deploy.begin: %v", err)
	}
	if err := bus.Trigger(ctx, "host.end", eventbus.Payload{"host": host}); err != nil {
		t.Fatalf("trigger host.end: %v", err)
	}
	if err := bus.Trigger(ctx, "deploy.end", eventbus.Payload{}); err != nil {
		t.Fatalf("trigger deploy.end: %v", err)
	}

	events, _ := store.Query(ctx, QueryOptions{})
	if len(events) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(events))
	}
}
