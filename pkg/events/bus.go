// Package events fans job progress out to live observers.
//
// A Bus keeps, per job id, the set of observers that asked to follow that
// job. Publishing is best-effort: an observer that fails to receive an
// event is logged and skipped, and it stays registered until it is
// explicitly disconnected. Events published for one job id reach each
// observer in publish order.
package events

import (
	"fmt"
	"slices"
	"sync"

	"github.com/exploopio/streamguard/pkg/logger"
)

// Event names emitted by the job runner.
const (
	AuditStart       = "audit.start"
	AuditComplete    = "audit.complete"
	AuditError       = "audit.error"
	MitigateStart    = "mitigate.start"
	MitigateEvent    = "mitigate.event"
	MitigateComplete = "mitigate.complete"
	MitigateError    = "mitigate.error"
	JobComplete      = "job.complete"
)

// Event is one progress message: {"event": ..., "host": ..., "data": ...}.
type Event struct {
	Name string         `json:"event"`
	Host string         `json:"host,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Observer receives the events of the jobs it is connected to.
type Observer interface {
	Send(ev Event) error
}

// FuncObserver adapts a function to the Observer interface. Use the
// pointer as the registration identity for Disconnect.
type FuncObserver struct {
	fn func(ev Event) error
}

// NewFuncObserver wraps fn.
func NewFuncObserver(fn func(ev Event) error) *FuncObserver {
	return &FuncObserver{fn: fn}
}

// Send calls the wrapped function.
func (f *FuncObserver) Send(ev Event) error {
	return f.fn(ev)
}

// Publisher is the narrow interface the runner depends on.
type Publisher interface {
	Publish(jobID string, ev Event)
}

type topic struct {
	// sendMu serializes deliveries so every observer sees publish order.
	sendMu    sync.Mutex
	observers []Observer
}

// Bus is an in-memory registry of observers keyed by job id.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
	logger logger.Logger
}

// NewBus creates an empty Bus.
func NewBus(log logger.Logger) *Bus {
	return &Bus{
		topics: make(map[string]*topic),
		logger: logger.OrNop(log),
	}
}

// Connect registers o for events of jobID. Observers are matched by
// identity, so o must be comparable (typically a pointer).
func (b *Bus) Connect(jobID string, o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{}
		b.topics[jobID] = t
	}
	t.observers = append(t.observers, o)
}

// Disconnect removes o from jobID. The job id is forgotten once its last
// observer leaves. Disconnecting an unknown observer is a no-op.
func (b *Bus) Disconnect(jobID string, o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	t.observers = slices.DeleteFunc(t.observers, func(x Observer) bool { return x == o })
	if len(t.observers) == 0 {
		delete(b.topics, jobID)
	}
}

// Publish delivers ev to every observer of jobID. It never fails; with no
// observers it does nothing.
func (b *Bus) Publish(jobID string, ev Event) {
	b.mu.Lock()
	t := b.topics[jobID]
	b.mu.Unlock()
	if t == nil {
		return
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	b.mu.Lock()
	observers := slices.Clone(t.observers)
	b.mu.Unlock()

	for _, o := range observers {
		if err := b.deliver(o, ev); err != nil {
			b.logger.Debug("event %s for job %s not delivered: %v", ev.Name, jobID, err)
		}
	}
}

// deliver sends ev to o, turning a panic in the observer into an error.
func (b *Bus) deliver(o Observer, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Warn("observer panicked on event %s: %v", ev.Name, p)
			err = fmt.Errorf("observer panic: %v", p)
		}
	}()
	return o.Send(ev)
}

// Observers returns how many observers follow jobID.
func (b *Bus) Observers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[jobID]; ok {
		return len(t.observers)
	}
	return 0
}

// Jobs returns the number of job ids with at least one observer.
func (b *Bus) Jobs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

var _ Publisher = (*Bus)(nil)
