package state

import (
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/livinlefevreloca/tally/internal/metric"
)

// Listener receives a full snapshot on every change
type Listener func(Snapshot)

type subscription struct {
	id       uint64
	listener Listener
}

// Publisher owns the execution state. Only the refresh worker mutates it;
// any number of observers read it through State or Subscribe.
// Listeners run synchronously on the writer's goroutine, in subscription
// order, outside the lock, and always receive their own copy.
type Publisher struct {
	clock  clockwork.Clock
	logger *slog.Logger

	mu            sync.Mutex
	current       Snapshot
	subscriptions []subscription
	nextID        uint64
}

// NewPublisher creates a publisher in the idle state
func NewPublisher(clock clockwork.Clock, logger *slog.Logger) *Publisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Publisher{
		clock:  clock,
		logger: logger,
		current: Snapshot{
			Status:      StatusIdle,
			LastMessage: "idle",
			UpdatedAt:   clock.Now(),
			Metrics:     map[string]MetricState{},
		},
	}
}

// Subscribe registers a listener and returns a function that removes it
func (p *Publisher) Subscribe(listener Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.subscriptions = append(p.subscriptions, subscription{id: id, listener: listener})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, sub := range p.subscriptions {
				if sub.id == id {
					p.subscriptions = append(p.subscriptions[:i:i], p.subscriptions[i+1:]...)
					return
				}
			}
		})
	}
}

// State returns a copy of the current execution state
func (p *Publisher) State() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.clone()
}

// BeginPass resets the counters for a freshly built queue and marks every
// runnable metric as queued. Metrics that are not runnable keep their
// last published state but are not counted. A pass with nothing to run
// is complete immediately.
func (p *Publisher) BeginPass(passID string, runnable []*metric.Definition, message string) {
	p.update(func(s *Snapshot) {
		s.Status = StatusRunning
		if len(runnable) == 0 {
			s.Status = StatusComplete
		}
		s.ActiveMetricID = ""
		s.PassID = passID
		s.TotalCount = len(runnable)
		s.ProcessedCount = 0
		s.LastMessage = message
		for _, def := range runnable {
			s.Metrics[def.ID] = metricStateFrom(def, metric.StatusQueued)
		}
	})
}

// Activate marks a metric as the one currently being processed
func (p *Publisher) Activate(def *metric.Definition, message string) {
	p.update(func(s *Snapshot) {
		s.Status = StatusRunning
		s.ActiveMetricID = def.ID
		s.LastMessage = message
		s.Metrics[def.ID] = metricStateFrom(def, metric.StatusActive)
	})
}

// Finish publishes the outcome of an attempted metric and counts it as processed
func (p *Publisher) Finish(def *metric.Definition, status metric.Status, message string) {
	p.update(func(s *Snapshot) {
		s.ProcessedCount++
		s.LastMessage = message
		s.Metrics[def.ID] = metricStateFrom(def, status)
	})
}

// Complete marks the end of a one-shot run
func (p *Publisher) Complete(message string) {
	p.update(func(s *Snapshot) {
		s.Status = StatusComplete
		s.ActiveMetricID = ""
		s.LastMessage = message
	})
}

// Pause clears the active metric while the worker waits for its next
// pass; the worker is still running
func (p *Publisher) Pause(message string) {
	p.update(func(s *Snapshot) {
		s.Status = StatusRunning
		s.ActiveMetricID = ""
		s.LastMessage = message
	})
}

// Idle marks the worker as stopped
func (p *Publisher) Idle(message string) {
	p.update(func(s *Snapshot) {
		s.Status = StatusIdle
		s.ActiveMetricID = ""
		s.LastMessage = message
	})
}

// Fail marks the worker as unable to run
func (p *Publisher) Fail(message string) {
	p.update(func(s *Snapshot) {
		s.Status = StatusError
		s.ActiveMetricID = ""
		s.LastMessage = message
	})
}

// Message updates the status line without changing anything else
func (p *Publisher) Message(message string) {
	p.update(func(s *Snapshot) {
		s.LastMessage = message
	})
}

// update applies fn under the lock and notifies listeners with a copy
func (p *Publisher) update(fn func(*Snapshot)) {
	p.mu.Lock()
	fn(&p.current)
	p.current.UpdatedAt = p.clock.Now()
	snapshot := p.current.clone()
	subs := make([]subscription, len(p.subscriptions))
	copy(subs, p.subscriptions)
	p.mu.Unlock()

	for _, sub := range subs {
		p.notify(sub, snapshot.clone())
	}
}

func (p *Publisher) notify(sub subscription, snapshot Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("state listener panic recovered",
				"subscription", sub.id,
				"panic", r)
		}
	}()
	sub.listener(snapshot)
}
