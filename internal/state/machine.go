package state

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// TransitionCallback is called when a state transition occurs.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// failureTargets are the transitions every non-terminal state accepts.
var failureTargets = []struct {
	trigger Trigger
	to      State
}{
	{TriggerInitialize, StateInitializing},
	{TriggerAuthFailure, StateAuthFailed},
	{TriggerDisconnected, StateDisconnected},
	{TriggerClientError, StateError},
	{TriggerInitFailure, StateInitFailed},
	{TriggerSetupFailure, StateSetupFailed},
	{TriggerAttemptsExhausted, StateMaxAttemptsReached},
}

// Machine wraps the stateless state machine with client lifecycle behavior.
type Machine struct {
	sm          *stateless.StateMachine
	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

// NewMachine creates a new state machine starting in Initializing state.
func NewMachine() *Machine {
	m := &Machine{
		callbacks: make([]TransitionCallback, 0),
	}

	sm := stateless.NewStateMachine(StateInitializing)

	for _, s := range All {
		if s.IsTerminal() {
			continue
		}
		cfg := sm.Configure(s)
		for _, ft := range failureTargets {
			if ft.to == s {
				cfg.PermitReentry(ft.trigger)
			} else {
				cfg.Permit(ft.trigger, ft.to)
			}
		}
	}

	sm.Configure(StateInitializing).
		Permit(TriggerQRReceived, StateQRReady).
		Permit(TriggerAuthenticated, StateAuthenticated)

	// Pairing codes rotate while waiting for a scan.
	sm.Configure(StateQRReady).
		PermitReentry(TriggerQRReceived).
		Permit(TriggerAuthenticated, StateAuthenticated)

	sm.Configure(StateAuthenticated).
		Permit(TriggerReady, StateConnected).
		Ignore(TriggerAuthenticated)

	sm.Configure(StateConnected).
		Ignore(TriggerAuthenticated).
		Ignore(TriggerReady)

	// The underlying client reconnects its own transport after a drop.
	sm.Configure(StateDisconnected).
		Permit(TriggerQRReceived, StateQRReady).
		Permit(TriggerAuthenticated, StateAuthenticated)

	sm.Configure(StateError).
		Permit(TriggerQRReceived, StateQRReady).
		Permit(TriggerAuthenticated, StateAuthenticated)

	// Only a manual restart leaves the terminal state.
	sm.Configure(StateMaxAttemptsReached).
		Permit(TriggerInitialize, StateInitializing).
		Ignore(TriggerQRReceived).
		Ignore(TriggerAuthenticated).
		Ignore(TriggerReady).
		Ignore(TriggerAuthFailure).
		Ignore(TriggerDisconnected).
		Ignore(TriggerClientError).
		Ignore(TriggerInitFailure).
		Ignore(TriggerSetupFailure).
		PermitReentry(TriggerAttemptsExhausted)

	sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)

		for _, cb := range callbacks {
			cb(ctx, from, to, trigger)
		}
	})

	m.sm = sm
	return m
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	state, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return state.(State), nil
}

// Fire triggers a state transition.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// IsInState returns true if the machine is in the specified state.
func (m *Machine) IsInState(ctx context.Context, state State) (bool, error) {
	currentState, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	return currentState == state, nil
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// MustState returns the current state, panicking on error.
func (m *Machine) MustState() State {
	state, err := m.State(context.Background())
	if err != nil {
		panic(err)
	}
	return state
}

// IsReady returns true if the client is connected.
func (m *Machine) IsReady() bool {
	return m.MustState().IsOperational()
}
