package lifecycle

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
)

// Client is one instance of the underlying WhatsApp client. An instance is
// discarded after every failed attempt and replaced by a fresh one.
type Client interface {
	// Initialize starts the client. Progress is reported through the
	// instance's Sink.
	Initialize(ctx context.Context) error
	Destroy()

	SendMessage(ctx context.Context, to string, msg *waE2E.Message) (*message.Message, error)
	Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error)

	GetMessageByID(ctx context.Context, id string) (*message.Message, error)
	GetChat(ctx context.Context, chatID string) (*message.Chat, error)
	GetContact(ctx context.Context, id string) (*message.Contact, error)
	GetChats(ctx context.Context) ([]message.Chat, error)
}

// ClientFactory constructs a client instance reporting to sink.
type ClientFactory func(sink Sink) (Client, error)

// Hub receives status, pairing and message events.
type Hub interface {
	SendQRCode(code string)
	SendStatus(accountID, status string)
	SendMessage(rec message.Record)
	SendButtonResponse(resp message.ButtonResponse)
}

// Scheduler owns the single pending reinitialization timer.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (cancel func())
	CancelPending()
	Delay(attempt int) time.Duration
}

// MessageCounter counts inbound messages.
type MessageCounter interface {
	RecordMessageReceived()
}
