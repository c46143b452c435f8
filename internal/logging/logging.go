// Package logging wraps zerolog for the review engine: a run-scoped
// Logger that emits structured events and keeps an in-memory event list
// for the abort-summary comment (pass name -> status -> skip/error
// reason).
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one entry in a run's event list: a structured fact the
// abort-summary or drift report can render without re-deriving it from
// raw logs.
type Event struct {
	Name      string
	Fields    map[string]any
	Timestamp time.Time
}

// Logger is a run-scoped structured logger. Build one with New per review
// run; it is safe for concurrent use from pass/agent goroutines.
type Logger struct {
	zl     zerolog.Logger
	mu     sync.Mutex
	events []Event
}

// New builds a Logger writing to w (os.Stderr in production, a buffer in
// tests) with the given runID attached to every line.
func New(w io.Writer, runID string) *Logger {
	zl := zerolog.New(w).With().Timestamp().Str("run_id", runID).Logger()
	return &Logger{zl: zl}
}

// Default builds a Logger writing to stderr, for callers that don't need
// to capture output.
func Default(runID string) *Logger {
	return New(os.Stderr, runID)
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Record appends a structured event to the run's event list AND emits it
// as an info-level log line with the same fields, so the same facts are
// both queryable (Events()) and visible in the log stream.
func (l *Logger) Record(name string, fields map[string]any) {
	l.mu.Lock()
	l.events = append(l.events, Event{Name: name, Fields: fields, Timestamp: time.Now()})
	l.mu.Unlock()

	ev := l.zl.Info().Str("event", name)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(name)
}

// Events returns a snapshot of every event recorded so far, in order.
func (l *Logger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Structured event names are fixed strings; dashboards key on them.
const (
	EventCommentResolution        = "comment_resolution"
	EventCommentResolutionWarning = "comment_resolution_warning"
	EventAgentRun                 = "agent_run"
	EventPassResult                = "pass_result"
)
