package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
)

// Hub methods invoked by the service.
const (
	MethodUpdateQRCode          = "UpdateQrCode"
	MethodUpdateStatus          = "UpdateWhatsAppStatus"
	MethodReceiveMessage        = "ReceiveWhatsAppMessage"
	MethodReceiveButtonResponse = "ReceiveButtonResponse"
)

const (
	defaultQueueSize     = 256
	defaultInvokeTimeout = 30 * time.Second
)

// Invoker calls methods on a hub.
type Invoker interface {
	Connected() bool
	Invoke(ctx context.Context, target string, args ...any) error
}

type call struct {
	target string
	args   []any
}

// Forwarder pushes service events to the hub in the order they occur.
// Events raised while the hub is disconnected are dropped with a warning.
type Forwarder struct {
	conn    Invoker
	log     *slog.Logger
	queue   chan call
	timeout time.Duration
}

// NewForwarder creates a forwarder over conn. Call Run to start delivery.
func NewForwarder(conn Invoker, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		conn:    conn,
		log:     log.With("component", "forwarder"),
		queue:   make(chan call, defaultQueueSize),
		timeout: defaultInvokeTimeout,
	}
}

// Run delivers queued calls one at a time until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-f.queue:
			f.deliver(ctx, c)
		}
	}
}

// SendQRCode publishes a pairing code.
func (f *Forwarder) SendQRCode(code string) {
	f.enqueue(MethodUpdateQRCode, code)
}

// SendStatus publishes a lifecycle status together with the account id,
// which is null until the client has been ready once.
func (f *Forwarder) SendStatus(accountID, status string) {
	var id any
	if accountID != "" {
		id = accountID
	}
	f.enqueue(MethodUpdateStatus, id, status)
}

// SendMessage publishes an inbound message record.
func (f *Forwarder) SendMessage(rec message.Record) {
	f.enqueue(MethodReceiveMessage, rec)
}

// SendButtonResponse publishes an interactive reply.
func (f *Forwarder) SendButtonResponse(resp message.ButtonResponse) {
	f.enqueue(MethodReceiveButtonResponse, resp)
}

func (f *Forwarder) enqueue(target string, args ...any) {
	if !f.conn.Connected() {
		f.log.Warn("hub not connected, dropping event", "method", target)
		return
	}

	select {
	case f.queue <- call{target: target, args: args}:
	default:
		f.log.Warn("hub queue full, dropping event", "method", target)
	}
}

func (f *Forwarder) deliver(ctx context.Context, c call) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.conn.Invoke(ctx, c.target, c.args...); err != nil {
		f.log.Error("failed to invoke hub method", "method", c.target, "error", err)
		return
	}
	f.log.Debug("hub method invoked", "method", c.target)
}
