package testutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/livinlefevreloca/tally/internal/metric"
)

// ==============================================================================
// Mock Store
// ==============================================================================

// PersistedValue is one successful PersistValue call seen by MockStore
type PersistedValue struct {
	ID    string
	Value float64
	At    time.Time
}

// PersistedFailure is one PersistFailure call seen by MockStore
type PersistedFailure struct {
	ID      string
	Message string
	At      time.Time
}

// MockStore is an in-memory metric store. Persisted values are applied
// to its definitions so later loads observe them.
type MockStore struct {
	mu         sync.Mutex
	defs       []metric.Definition
	loadErr    error
	loadErrs   []error
	persistErr error
	loadCalls  int
	values     []PersistedValue
	failures   []PersistedFailure
}

// NewMockStore creates a store holding defs in order
func NewMockStore(defs ...metric.Definition) *MockStore {
	m := &MockStore{}
	m.SetDefinitions(defs)
	return m
}

// SetDefinitions replaces the stored definitions
func (m *MockStore) SetDefinitions(defs []metric.Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs = make([]metric.Definition, len(defs))
	for i, def := range defs {
		m.defs[i] = def.Clone()
	}
}

// SetLoadError makes every LoadAll call fail with err
func (m *MockStore) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// QueueLoadErrors makes the next LoadAll calls fail in order; a nil entry
// lets that call succeed
func (m *MockStore) QueueLoadErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErrs = append(m.loadErrs, errs...)
}

// SetPersistError makes PersistValue and PersistFailure fail with err
func (m *MockStore) SetPersistError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistErr = err
}

func (m *MockStore) LoadAll(ctx context.Context) ([]metric.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loadCalls++
	if len(m.loadErrs) > 0 {
		err := m.loadErrs[0]
		m.loadErrs = m.loadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.loadErr != nil {
		return nil, m.loadErr
	}

	out := make([]metric.Definition, len(m.defs))
	for i, def := range m.defs {
		out[i] = def.Clone()
	}
	return out, nil
}

func (m *MockStore) PersistValue(ctx context.Context, id string, value float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.persistErr != nil {
		return m.persistErr
	}
	def := m.find(id)
	if def == nil {
		return fmt.Errorf("mock store: unknown metric %s", id)
	}
	def.RecordSuccess(value, at)
	m.values = append(m.values, PersistedValue{ID: id, Value: value, At: at})
	return nil
}

func (m *MockStore) PersistFailure(ctx context.Context, id string, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.persistErr != nil {
		return m.persistErr
	}
	if def := m.find(id); def != nil {
		def.RecordFailure(message)
	}
	m.failures = append(m.failures, PersistedFailure{ID: id, Message: message, At: at})
	return nil
}

func (m *MockStore) find(id string) *metric.Definition {
	for i := range m.defs {
		if m.defs[i].ID == id {
			return &m.defs[i]
		}
	}
	return nil
}

// LoadCalls returns how many times LoadAll was called
func (m *MockStore) LoadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCalls
}

// PersistedValues returns every successful PersistValue call
func (m *MockStore) PersistedValues() []PersistedValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PersistedValue, len(m.values))
	copy(out, m.values)
	return out
}

// PersistedFailures returns every successful PersistFailure call
func (m *MockStore) PersistedFailures() []PersistedFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PersistedFailure, len(m.failures))
	copy(out, m.failures)
	return out
}

// Definition returns a copy of the stored definition
func (m *MockStore) Definition(id string) (metric.Definition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if def := m.find(id); def != nil {
		return def.Clone(), true
	}
	return metric.Definition{}, false
}

// ==============================================================================
// Mock Executor
// ==============================================================================

// ErrNotScripted is returned for queries without a scripted result
var ErrNotScripted = errors.New("mock executor: no result scripted")

type result struct {
	value float64
	err   error
}

// MockExecutor returns scripted results per query text and records calls.
// When blocked, calls wait until Release or context cancellation.
type MockExecutor struct {
	mu      sync.Mutex
	results map[string]result
	calls   []string
	gate    chan struct{}
	started chan string
}

// NewMockExecutor creates an executor with no scripted results
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		results: make(map[string]result),
		started: make(chan string, 64),
	}
}

// Returns scripts a successful result for query
func (e *MockExecutor) Returns(query string, value float64) *MockExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[query] = result{value: value}
	return e
}

// Fails scripts an error for query
func (e *MockExecutor) Fails(query string, err error) *MockExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[query] = result{err: err}
	return e
}

// Block makes subsequent calls wait for Release
func (e *MockExecutor) Block() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = make(chan struct{})
}

// Release unblocks waiting and future calls
func (e *MockExecutor) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate != nil {
		close(e.gate)
		e.gate = nil
	}
}

// Started delivers the query text of every call as it begins
func (e *MockExecutor) Started() <-chan string {
	return e.started
}

func (e *MockExecutor) Execute(ctx context.Context, queryText string) (float64, error) {
	e.mu.Lock()
	e.calls = append(e.calls, queryText)
	gate := e.gate
	res, ok := e.results[queryText]
	e.mu.Unlock()

	select {
	case e.started <- queryText:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, metric.NewFailure(metric.KindExecutionFailure, ctx.Err())
		}
	}

	if !ok {
		return 0, ErrNotScripted
	}
	return res.value, res.err
}

// Calls returns the query text of every call in order
func (e *MockExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns the number of calls made
func (e *MockExecutor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// ==============================================================================
// Test Logger
// ==============================================================================

// LogEntry is one captured log record
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// TestLogger captures slog records so tests can assert on them
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logger returns a *slog.Logger recording into l at every level
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&captureHandler{sink: l})
}

// GetEntriesByLevel returns entries whose level name is level, e.g. "WARN"
func (l *TestLogger) GetEntriesByLevel(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []LogEntry
	for _, entry := range l.entries {
		if entry.Level == level {
			out = append(out, entry)
		}
	}
	return out
}

func (l *TestLogger) HasError() bool {
	return len(l.GetEntriesByLevel(slog.LevelError.String())) > 0
}

func (l *TestLogger) HasWarning() bool {
	return len(l.GetEntriesByLevel(slog.LevelWarn.String())) > 0
}

func (l *TestLogger) record(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// captureHandler flattens records into LogEntry values. Groups are
// ignored.
type captureHandler struct {
	sink  *TestLogger
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	h.sink.record(LogEntry{Level: r.Level.String(), Message: r.Message, Fields: fields})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{sink: h.sink, attrs: append(slices.Clone(h.attrs), attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler {
	return h
}

// TestingT is the subset of *testing.T used by WaitFor
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

// WaitFor polls condition until it holds or timeout elapses
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...any) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Errorf("timeout waiting for condition: %v", msgAndArgs)
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}
