// Package message holds the message value types shared by the lifecycle,
// dispatch and client packages, and builds the canonical records that are
// forwarded to the hub.
package message

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
)

// Message types, named after the payload they carry.
const (
	TypeChat                = "chat"
	TypeImage               = "image"
	TypeVideo               = "video"
	TypeAudio               = "audio"
	TypeDocument            = "document"
	TypeSticker             = "sticker"
	TypeLocation            = "location"
	TypeContact             = "vcard"
	TypeContactsArray       = "multi_vcard"
	TypePoll                = "poll_creation"
	TypeButtons             = "buttons"
	TypeList                = "list"
	TypeButtonsResponse     = "buttons_response"
	TypeTemplateButtonReply = "template_button_reply"
	TypeListResponse        = "list_response"
	TypeProtocol            = "protocol"
	TypeUnknown             = "unknown"
)

// IsMedia reports whether messages of type t carry a downloadable file.
func IsMedia(t string) bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeDocument, TypeSticker:
		return true
	}
	return false
}

// Message is a message as known to the underlying client. Timestamp is a
// unix epoch in either seconds or milliseconds.
type Message struct {
	ID                string `json:"id"`
	ChatID            string `json:"chatId"`
	From              string `json:"from"`
	To                string `json:"to"`
	Author            string `json:"author,omitempty"`
	NotifyName        string `json:"notifyName,omitempty"`
	Body              string `json:"body"`
	Type              string `json:"type"`
	Timestamp         int64  `json:"timestamp"`
	FromMe            bool   `json:"fromMe"`
	HasMedia          bool   `json:"hasMedia"`
	HasQuotedMsg      bool   `json:"hasQuotedMsg"`
	QuotedMessageID   string `json:"quotedMessageId,omitempty"`
	QuotedParticipant string `json:"quotedParticipant,omitempty"`
	SelectedButtonID  string `json:"selectedButtonId,omitempty"`

	Raw *waE2E.Message `json:"-"`
}

// Sender returns the account that wrote the message: the author in a group,
// the sender otherwise.
func (m *Message) Sender() string {
	if m.Author != "" {
		return m.Author
	}
	return m.From
}

// IsButtonResponse reports whether the message answers an interactive
// buttons, template or list message.
func (m *Message) IsButtonResponse() bool {
	switch m.Type {
	case TypeButtonsResponse, TypeTemplateButtonReply, TypeListResponse:
		return true
	}
	return false
}

// Chat is a conversation, direct or group.
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsGroup bool   `json:"isGroup"`
}

// Contact is an account as known to the address book.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PushName string `json:"pushname"`
}

// DisplayName prefers the saved contact name over the pushname.
func (c *Contact) DisplayName() string {
	if c == nil {
		return ""
	}
	if c.Name != "" {
		return c.Name
	}
	return c.PushName
}
