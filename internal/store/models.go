// Package store provides data persistence for the WhatsApp service.
package store

import (
	"time"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/state"
)

// Message is a cached WhatsApp message, inbound or sent by this service.
type Message struct {
	ID           string    `json:"id"`
	ChatJID      string    `json:"chat_jid"`
	Sender       string    `json:"sender"`
	Recipient    string    `json:"recipient"`
	Content      string    `json:"content"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	IsFromMe     bool      `json:"is_from_me"`
	MediaType    string    `json:"media_type,omitempty"`
	QuotedID     string    `json:"quoted_id,omitempty"`
	QuotedSender string    `json:"quoted_sender,omitempty"`
	// Raw is the serialized protobuf payload, needed to quote the message later.
	Raw []byte `json:"-"`
}

// Chat represents a WhatsApp chat.
type Chat struct {
	JID             string    `json:"jid"`
	Name            string    `json:"name"`
	IsGroup         bool      `json:"is_group"`
	LastMessageTime time.Time `json:"last_message_time"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Transition represents a state machine transition record.
type Transition struct {
	ID        int64       `json:"id"`
	FromState state.State `json:"from_state"`
	ToState   state.State `json:"to_state"`
	Trigger   string      `json:"trigger"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}
