// Package state provides the finite state machine for the WhatsApp client lifecycle.
package state

// State represents a client status as reported to the hub and the HTTP surface.
type State string

const (
	// Startup states
	StateInitializing  State = "initializing"
	StateQRReady       State = "qr_ready"
	StateAuthenticated State = "authenticated"
	StateConnected     State = "connected"

	// Runtime failures
	StateDisconnected State = "disconnected"
	StateError        State = "error"

	// Failures that schedule a reinitialization
	StateAuthFailed  State = "auth_failed"
	StateInitFailed  State = "init_failed"
	StateSetupFailed State = "setup_failed"

	// Terminal state
	StateMaxAttemptsReached State = "max_attempts_reached"
)

// All lists every state in declaration order.
var All = []State{
	StateInitializing,
	StateQRReady,
	StateAuthenticated,
	StateConnected,
	StateDisconnected,
	StateError,
	StateAuthFailed,
	StateInitFailed,
	StateSetupFailed,
	StateMaxAttemptsReached,
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsFailure returns true if the state is one of the failure states.
func (s State) IsFailure() bool {
	switch s {
	case StateError, StateAuthFailed, StateInitFailed, StateSetupFailed, StateMaxAttemptsReached:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if only a manual restart can leave the state.
func (s State) IsTerminal() bool {
	return s == StateMaxAttemptsReached
}

// IsOperational returns true if messages can be sent in this state.
func (s State) IsOperational() bool {
	return s == StateConnected
}
