// Package session drives one notarized TLS exchange end to end: render the
// manifest request, establish the notary channel and the TLS connection for
// the chosen proof mode, exchange and record application data, then
// finalize into a signed proof artifact.
package session

import "fmt"

// State is the session lifecycle position. Transitions are strictly
// forward; Failed is terminal and reachable from everywhere.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateHandshaking
	StateExchanging
	StateFinalizing
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateExchanging:
		return "exchanging"
	case StateFinalizing:
		return "finalizing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TransitionError reports a lifecycle bug: the machine was asked to move
// somewhere its current state does not allow.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

// next is the forward edge of the lifecycle. Failed is handled separately.
var next = map[State]State{
	StateInit:        StateConnecting,
	StateConnecting:  StateHandshaking,
	StateHandshaking: StateExchanging,
	StateExchanging:  StateFinalizing,
	StateFinalizing:  StateCommitted,
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateCommitted && from != StateFailed
	}
	return next[from] == to
}
