package domain

import "time"

// SessionKey identifies one operator conversation (the operator's chat id).
type SessionKey int64

// State is the position of a Session in the operator conversation.
type State int

const (
	StateAwaitingOperatorIdentity State = iota
	StateAwaitingTargets
	StateAwaitingDestination
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAwaitingOperatorIdentity:
		return "awaiting_operator_identity"
	case StateAwaitingTargets:
		return "awaiting_targets"
	case StateAwaitingDestination:
		return "awaiting_destination"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a conversation.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// RateWindow holds the mutation bookkeeping consumed by the rate governor.
type RateWindow struct {
	AdditionsCount int
	WindowStart    time.Time
	LastMutationAt time.Time
}

// Session is the in-memory state of one operator conversation. It is never persisted.
type Session struct {
	Key             SessionKey
	State           State
	OperatorContact string
	Targets         []TargetHandle
	Destination     *Destination
	Rate            RateWindow
}

// NewSession returns a session waiting for the operator identity.
func NewSession(key SessionKey) *Session {
	return &Session{Key: key, State: StateAwaitingOperatorIdentity}
}

// Reset returns the session to a fresh AwaitingOperatorIdentity state. The rate
// window belongs to the conversation identity and survives the reset so the
// hourly cap holds across consecutive batches.
func (s *Session) Reset() {
	rate := s.Rate
	*s = Session{Key: s.Key, State: StateAwaitingOperatorIdentity, Rate: rate}
}

// Finish records the terminal state and then resets the session.
func (s *Session) Finish(terminal State) State {
	s.State = terminal
	s.Reset()
	return terminal
}
