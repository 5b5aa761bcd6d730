package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/lifecycle"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
)

// Reasons reported for pairing and session failures.
const (
	reasonQRTimeout      = "QR pairing timed out"
	reasonStreamReplaced = "session replaced by another client"
	reasonConnectionLost = "connection lost"
)

// translate maps a whatsmeow connection event onto lifecycle events.
// accountID is the paired account's phone number. Events without a
// lifecycle meaning yield nil.
func translate(raw any, accountID string) []lifecycle.Event {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		return []lifecycle.Event{lifecycle.Authenticated{}}

	case *events.Connected:
		return []lifecycle.Event{lifecycle.Authenticated{}, lifecycle.Ready{AccountID: accountID}}

	case *events.LoggedOut:
		return []lifecycle.Event{lifecycle.AuthFailure{Reason: "logged out: " + evt.Reason.String()}}

	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			return []lifecycle.Event{lifecycle.AuthFailure{Reason: evt.Reason.String()}}
		}
		return []lifecycle.Event{lifecycle.ClientError{
			Message: fmt.Sprintf("Protocol error: connect failure %s: %s", evt.Reason, evt.Message),
		}}

	case *events.StreamError:
		return []lifecycle.Event{lifecycle.ClientError{Message: "Protocol error: stream error " + evt.Code}}

	case *events.TemporaryBan:
		return []lifecycle.Event{lifecycle.ClientError{
			Message: fmt.Sprintf("account temporarily banned (%s), expires in %s", evt.Code, evt.Expire),
		}}

	case *events.ClientOutdated:
		return []lifecycle.Event{lifecycle.ClientError{Message: "client version is outdated"}}

	case *events.StreamReplaced:
		return []lifecycle.Event{lifecycle.Disconnected{Reason: reasonStreamReplaced}}

	case *events.Disconnected:
		return []lifecycle.Event{lifecycle.Disconnected{Reason: reasonConnectionLost}}
	}
	return nil
}

// translateQR maps a pairing channel item. Successful pairing is reported
// by the PairSuccess event instead.
func translateQR(item whatsmeow.QRChannelItem) lifecycle.Event {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return lifecycle.QRCode{Code: item.Code}
	case whatsmeow.QRChannelSuccess.Event:
		return nil
	case whatsmeow.QRChannelTimeout.Event:
		return lifecycle.AuthFailure{Reason: reasonQRTimeout}
	case whatsmeow.QRChannelEventError:
		return lifecycle.ClientError{Message: fmt.Sprintf("Protocol error: pairing failed: %v", item.Error)}
	default:
		return lifecycle.AuthFailure{Reason: "pairing failed: " + item.Event}
	}
}

// inbound returns the lifecycle events for a received message.
func inbound(msg *message.Message) []lifecycle.Event {
	if msg.FromMe || msg.Type == message.TypeProtocol {
		return nil
	}
	out := []lifecycle.Event{lifecycle.MessageReceived{Message: msg}}
	if msg.IsButtonResponse() {
		out = append(out, lifecycle.ButtonResponseReceived{Message: msg})
	}
	return out
}

func (c *Client) handleEvent(raw any) {
	if evt, ok := raw.(*events.Message); ok {
		c.onMessage(evt)
		return
	}

	for _, e := range translate(raw, c.accountID()) {
		c.sink(e)
	}
}

func (c *Client) onMessage(evt *events.Message) {
	msg := fromEvent(evt, c.ownJID())
	c.log.Debug("message received", "id", msg.ID, "chat", msg.ChatID, "type", msg.Type)

	name := ""
	if !msg.FromMe && !evt.Info.IsGroup {
		name = evt.Info.PushName
	}
	c.persist(context.Background(), msg, name)

	for _, e := range inbound(msg) {
		c.sink(e)
	}
}

func (c *Client) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		c.log.Debug("pairing event", "event", item.Event)
		if e := translateQR(item); e != nil {
			c.sink(e)
		}
	}
}
