// Package audit provides an immutable, structured audit log of deploy
// activity: who triggered a rollout, which hosts it touched, how it
// finished, and every pause-prompt decision made along the way. Events are
// append-only and exported as JSON Lines for downstream ingestion.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
)

// EventType categorizes audit events.
type EventType string

const (
	EventDeployBegin  EventType = "deploy.begin"
	EventDeployEnd    EventType = "deploy.end"
	EventDeployAbort  EventType = "deploy.abort"
	EventHostEnd      EventType = "host.end"
	EventHostAbort    EventType = "host.abort"
	EventPauseDecided EventType = "deploy.pause_decision"
	EventRBAC         EventType = "rbac.decision"
	EventConfig       EventType = "config.change"
)

// Event is a single immutable audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	User      string         `json:"user"`
	Action    string         `json:"action"`
	Target    *EventTarget   `json:"target,omitempty"`
	Result    *EventResult   `json:"result,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventTarget describes what a deploy event touched.
type EventTarget struct {
	HostIDs   []string `json:"host_ids,omitempty"`
	Components []string `json:"components,omitempty"`
	CodeHost  string   `json:"code_host,omitempty"`
}

// EventResult captures the outcome of a deploy-related action.
type EventResult struct {
	Status   string        `json:"status"` // "success", "aborted"; "allow", "deny" for RBAC decisions
	Duration time.Duration `json:"duration_ns,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// QueryOptions filters audit log queries.
type QueryOptions struct {
	User  string
	Type  EventType
	Since time.Time
	Until time.Time
	Limit int
}

// Store is the persistence interface for the audit log.
type Store interface {
	Append(ctx context.Context, event *Event) error
	Query(ctx context.Context, opts QueryOptions) ([]*Event, error)
	Export(ctx context.Context, since time.Time) ([]*Event, error)
}

// ------------------------------------------------------------------
// File-based audit store (append-only JSONL)
// ------------------------------------------------------------------

// FileStore is an append-only file-based audit store using JSON Lines
// format. Each line is a complete JSON event; the file is never rewritten.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file-based audit store at the given directory.
func NewFileStore(dir string) *FileStore {
	os.MkdirAll(dir, 0o700)
	return &FileStore{dir: dir}
}

func (s *FileStore) logFile() string {
	return filepath.Join(s.dir, "audit.jsonl")
}

// Append writes an event to the audit log.
func (s *FileStore) Append(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.logFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	return nil
}

// Query reads events matching the given filters.
func (s *FileStore) Query(ctx context.Context, opts QueryOptions) ([]*Event, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}

	var results []*Event
	for _, e := range all {
		if opts.User != "" && e.User != opts.User {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
			continue
		}
		results = append(results, e)
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

// Export returns all events since the given time.
func (s *FileStore) Export(ctx context.Context, since time.Time) ([]*Event, error) {
	return s.Query(ctx, QueryOptions{Since: since})
}

func (s *FileStore) readAll() ([]*Event, error) {
	data, err := os.ReadFile(s.logFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []*Event
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		events = append(events, &e)
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := range data {
		if data[i] == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// ------------------------------------------------------------------
// Logger is a convenience wrapper for emitting audit events
// ------------------------------------------------------------------

// Logger provides helper methods for common deploy audit patterns.
type Logger struct {
	store Store
	user  string
}

// NewLogger creates an audit logger attributing events to user.
func NewLogger(store Store, user string) *Logger {
	return &Logger{store: store, user: user}
}

// LogDeployBegin records that a deploy started against the given hosts and
// components.
func (l *Logger) LogDeployBegin(ctx context.Context, codeHost string, hostIDs, components []string) error {
	return l.store.Append(ctx, &Event{
		Type:   EventDeployBegin,
		User:   l.user,
		Action: "deploy.begin",
		Target: &EventTarget{HostIDs: hostIDs, Components: components, CodeHost: codeHost},
	})
}

// LogDeployEnd records a deploy's terminal outcome.
func (l *Logger) LogDeployEnd(ctx context.Context, status string, duration time.Duration, cause error) error {
	res := &EventResult{Status: status, Duration: duration}
	if cause != nil {
		res.Error = cause.Error()
	}
	return l.store.Append(ctx, &Event{
		Type:   EventDeployEnd,
		User:   l.user,
		Action: "deploy.end",
		Result: res,
	})
}

// LogHostOutcome records one host's deploy result.
func (l *Logger) LogHostOutcome(ctx context.Context, host hostsource.Host, status string) error {
	return l.store.Append(ctx, &Event{
		Type:   EventHostEnd,
		User:   l.user,
		Action: "host.end",
		Target: &EventTarget{HostIDs: []string{host.ID}},
		Result: &EventResult{Status: status},
	})
}

// LogPauseDecision records an operator's response to a pause prompt
// (continue, abort, run N more, run free).
func (l *Logger) LogPauseDecision(ctx context.Context, decision string, percentComplete int) error {
	return l.store.Append(ctx, &Event{
		Type:   EventPauseDecided,
		User:   l.user,
		Action: "deploy.pause_decision",
		Metadata: map[string]any{
			"decision":         decision,
			"percent_complete": percentComplete,
		},
	})
}

// LogRBACDecision records an authorization decision for a deploy
// operation.
func (l *Logger) LogRBACDecision(ctx context.Context, action string, allowed bool, reason string) error {
	status := "allow"
	if !allowed {
		status = "deny"
	}
	return l.store.Append(ctx, &Event{
		Type:   EventRBAC,
		User:   l.user,
		Action: action,
		Result: &EventResult{Status: status, Error: reason},
	})
}

// Wire subscribes a Logger to bus so host.end/host.abort and
// deploy.end/deploy.abort are recorded without the engine importing audit
// directly. deploy.begin records nothing; it only starts the clock for the
// deploy's duration.
func Wire(bus *eventbus.Bus, l *Logger) {
	var start time.Time
	bus.Register("deploy.begin", func(ctx context.Context, p eventbus.Payload) error {
		start = time.Now()
		return nil
	})
	bus.Register("host.end", func(ctx context.Context, p eventbus.Payload) error {
		h, _ := p["host"].(hostsource.Host)
		return l.LogHostOutcome(ctx, h, "success")
	})
	bus.Register("host.abort", func(ctx context.Context, p eventbus.Payload) error {
		h, _ := p["host"].(hostsource.Host)
		return l.LogHostOutcome(ctx, h, "aborted")
	})
	bus.Register("deploy.end", func(ctx context.Context, p eventbus.Payload) error {
		return l.LogDeployEnd(ctx, "success", time.Since(start), nil)
	})
	bus.Register("deploy.abort", func(ctx context.Context, p eventbus.Payload) error {
		reason, _ := p["reason"].(string)
		return l.LogDeployEnd(ctx, "aborted", time.Since(start), fmt.Errorf("%s", reason))
	})
}
