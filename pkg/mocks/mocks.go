package mocks

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/poltergeist/dockerstage/pkg/engine"
	"github.com/poltergeist/dockerstage/pkg/logger"
)

// FakeStream replays a fixed list of events and then returns Err, or io.EOF
// when Err is nil.
type FakeStream struct {
	mu     sync.Mutex
	events []engine.Event
	err    error
	pos    int
	closed bool
}

// NewFakeStream creates a stream that yields events then io.EOF
func NewFakeStream(events ...engine.Event) *FakeStream {
	return &FakeStream{events: events}
}

// NewFailingStream creates a stream that yields events then err
func NewFailingStream(err error, events ...engine.Event) *FakeStream {
	return &FakeStream{events: events, err: err}
}

// Next returns the next queued event
func (s *FakeStream) Next() (engine.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return engine.Event{}, engine.ErrStreamClosed
	}
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.err != nil {
		return engine.Event{}, s.err
	}
	return engine.Event{}, io.EOF
}

// Close marks the stream closed
func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Consumed reports whether every queued event was read
func (s *FakeStream) Consumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos == len(s.events)
}

// LogEntry is one message captured by MockLogger
type LogEntry struct {
	Level   string
	Message string
	Target  string
	Fields  map[string]interface{}
}

// MockLogger records every message for assertions
type MockLogger struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	target  string
}

var _ logger.Logger = (*MockLogger)(nil)

// NewMockLogger creates an empty recording logger
func NewMockLogger() *MockLogger {
	return &MockLogger{
		mu:      &sync.Mutex{},
		entries: &[]LogEntry{},
	}
}

func (l *MockLogger) record(level, message string, fields []logger.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{Level: level, Message: message, Target: l.target}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields))
		for _, f := range fields {
			entry.Fields[f.Key] = f.Value
		}
	}
	*l.entries = append(*l.entries, entry)
}

// Info records an info message
func (l *MockLogger) Info(message string, fields ...logger.Field) {
	l.record("info", message, fields)
}

// Error records an error message
func (l *MockLogger) Error(message string, fields ...logger.Field) {
	l.record("error", message, fields)
}

// Warn records a warning
func (l *MockLogger) Warn(message string, fields ...logger.Field) {
	l.record("warn", message, fields)
}

// Debug records a debug message
func (l *MockLogger) Debug(message string, fields ...logger.Field) {
	l.record("debug", message, fields)
}

// Success records a success message
func (l *MockLogger) Success(message string, fields ...logger.Field) {
	l.record("success", message, fields)
}

// WithTarget returns a logger sharing this logger's entries
func (l *MockLogger) WithTarget(target string) logger.Logger {
	return &MockLogger{mu: l.mu, entries: l.entries, target: target}
}

// Entries returns a copy of everything recorded so far
func (l *MockLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), *l.entries...)
}

// Messages returns the messages logged at level, in order
func (l *MockLogger) Messages(level string) []string {
	var out []string
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Contains reports whether any message contains substr
func (l *MockLogger) Contains(substr string) bool {
	for _, e := range l.Entries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// String renders the log for failure output
func (l *MockLogger) String() string {
	var b strings.Builder
	for _, e := range l.Entries() {
		fmt.Fprintf(&b, "%s: %s\n", e.Level, e.Message)
	}
	return b.String()
}
