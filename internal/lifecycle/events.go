// Package lifecycle owns the WhatsApp client instance and drives its
// connection state machine from the events the client reports.
package lifecycle

import (
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
)

// Event is something the underlying client reports to the controller.
type Event interface {
	eventName() string
}

// QRCode carries a fresh pairing code.
type QRCode struct {
	Code string
}

// Authenticated reports that the session credentials were accepted.
type Authenticated struct{}

// Ready reports that the client can send and receive messages.
type Ready struct {
	AccountID string
}

// AuthFailure reports that the session was rejected or pairing failed.
type AuthFailure struct {
	Reason string
}

// Disconnected reports that the client lost its connection.
type Disconnected struct {
	Reason string
}

// ClientError reports a failure inside the running client.
type ClientError struct {
	Message string
}

// MessageReceived carries an inbound message.
type MessageReceived struct {
	Message *message.Message
}

// ButtonResponseReceived carries an answer to an interactive message.
type ButtonResponseReceived struct {
	Message *message.Message
}

// initCommand asks the event loop to (re)initialize the client.
// A non-zero retry marks a command posted by a retry timer.
type initCommand struct {
	resetAttempts bool
	retry         uint64
}

func (QRCode) eventName() string                 { return "qr" }
func (Authenticated) eventName() string          { return "authenticated" }
func (Ready) eventName() string                  { return "ready" }
func (AuthFailure) eventName() string            { return "auth_failure" }
func (Disconnected) eventName() string           { return "disconnected" }
func (ClientError) eventName() string            { return "error" }
func (MessageReceived) eventName() string        { return "message" }
func (ButtonResponseReceived) eventName() string { return "button_response" }
func (initCommand) eventName() string            { return "initialize" }

// Sink receives the events of one client instance.
type Sink func(Event)

// envelope tags an event with the client generation that produced it.
// Generation 0 marks controller commands, which are never stale.
type envelope struct {
	generation uint64
	event      Event
}
