// Package session runs one streaming conversation per connection.
//
// Every inbound message is answered with one envelope: START, zero or more
// TOKEN, then END or ERROR. Envelopes on a channel never interleave. An empty
// or unreadable message is answered with a lone ERROR. Only a transport
// failure closes the channel.
package session

import "chatgw/pkg/types"

// Kind tags a stream event.
type Kind string

const (
	KindStart Kind = types.StreamStart
	KindToken Kind = types.StreamToken
	KindEnd   Kind = types.StreamEnd
	KindError Kind = types.StreamError
)

// Event is one server-to-client message. Data is set for TOKEN and ERROR.
type Event struct {
	Kind Kind
	Data string
}

func Start() Event               { return Event{Kind: KindStart} }
func Token(frag string) Event    { return Event{Kind: KindToken, Data: frag} }
func End() Event                 { return Event{Kind: KindEnd} }
func Error(message string) Event { return Event{Kind: KindError, Data: message} }

// Terminal reports whether e ends an envelope.
func (e Event) Terminal() bool { return e.Kind == KindEnd || e.Kind == KindError }

// Wire converts e to its JSON form.
func (e Event) Wire() types.StreamEvent {
	return types.StreamEvent{Type: string(e.Kind), Data: e.Data}
}

// FromWire is the inverse of Wire, for clients reading the stream.
func FromWire(w types.StreamEvent) Event {
	return Event{Kind: Kind(w.Type), Data: w.Data}
}

// Messages sent in ERROR events for rejected input.
const (
	MsgEmpty   = "Empty message"
	MsgInvalid = "Invalid message"
)

// State is the channel's position in its message cycle.
type State int32

const (
	StateOpen State = iota
	StateAwaitingResult
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateAwaitingResult:
		return "AWAITING_RESULT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
