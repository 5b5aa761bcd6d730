package state

// Trigger represents an event that causes a state transition.
type Trigger string

const (
	TriggerInitialize        Trigger = "initialize"
	TriggerQRReceived        Trigger = "qr_received"
	TriggerAuthenticated     Trigger = "authenticated"
	TriggerReady             Trigger = "ready"
	TriggerAuthFailure       Trigger = "auth_failure"
	TriggerDisconnected      Trigger = "disconnected"
	TriggerClientError       Trigger = "client_error"
	TriggerInitFailure       Trigger = "init_failure"
	TriggerSetupFailure      Trigger = "setup_failure"
	TriggerAttemptsExhausted Trigger = "attempts_exhausted"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
