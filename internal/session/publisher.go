package session

import "sync"

// Lifecycle event names.
const (
	EventOpened   = "session_opened"
	EventClosed   = "session_closed"
	EventStarted  = "envelope_started"
	EventToken    = "envelope_token"
	EventFinished = "envelope_finished"
	EventRejected = "message_rejected"
)

// Envelope outcomes, carried in the "outcome" field of EventFinished.
const (
	OutcomeEnd       = "end"
	OutcomeError     = "error"
	OutcomeAbandoned = "abandoned"
)

// LifecycleEvent describes something that happened on a channel.
// Minimal and stable: name + session id and optional fields.
type LifecycleEvent struct {
	Name      string
	SessionID string
	Fields    map[string]any
}

// Publisher receives lifecycle events. Implementations must be cheap and
// non-blocking; Publish is called on the session's goroutine.
type Publisher interface {
	Publish(LifecycleEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(LifecycleEvent) {}

// Publishers fans out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) Publish(e LifecycleEvent) {
	for _, p := range ps {
		if p != nil {
			p.Publish(e)
		}
	}
}

// MemoryPublisher stores events in memory, for tests and debugging.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e LifecycleEvent) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LifecycleEvent, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the published event names in order.
func (p *MemoryPublisher) Names() []string {
	evts := p.Events()
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i] = e.Name
	}
	return out
}
