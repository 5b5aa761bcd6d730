package message

import (
	"time"
)

// TimestampLayout is the local time format used in records.
const TimestampLayout = "2006-01-02T15:04:05"

// MessageTypeButtonResponse tags button response records.
const MessageTypeButtonResponse = "button_response"

// Record is the canonical message shape forwarded to the hub and returned
// from sends.
type Record struct {
	ID                 string  `json:"id"`
	Body               string  `json:"body"`
	From               string  `json:"from"`
	FromName           string  `json:"fromName"`
	To                 string  `json:"to"`
	IsGroup            bool    `json:"isGroup"`
	GroupName          *string `json:"groupName"`
	Timestamp          string  `json:"timestamp"`
	HasMedia           bool    `json:"hasMedia"`
	IsReply            bool    `json:"isReply"`
	RepliedToMessageID *string `json:"repliedToMessageId"`
}

// ButtonResponse is a Record for an answer to an interactive message.
type ButtonResponse struct {
	Record
	SelectedButton string `json:"selectedButton"`
	MessageType    string `json:"messageType"`
}

// Builder turns messages and their context into records.
type Builder struct {
	loc *time.Location
}

// NewBuilder creates a Builder rendering timestamps in loc. A nil loc
// renders UTC.
func NewBuilder(loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{loc: loc}
}

// Location returns the zone timestamps are rendered in.
func (b *Builder) Location() *time.Location {
	return b.loc
}

// NormalizeEpoch returns epoch in milliseconds. Ten digit values are
// seconds, anything else is already milliseconds.
func NormalizeEpoch(epoch int64) int64 {
	if epoch >= 1_000_000_000 && epoch < 10_000_000_000 {
		return epoch * 1000
	}
	return epoch
}

// FormatTimestamp renders a second or millisecond epoch as local time.
func (b *Builder) FormatTimestamp(epoch int64) string {
	return time.UnixMilli(NormalizeEpoch(epoch)).In(b.loc).Format(TimestampLayout)
}

// Build creates the record for msg. chat, contact and quoted may be nil
// when they could not be resolved.
func (b *Builder) Build(msg *Message, chat *Chat, contact *Contact, quoted *Message) Record {
	rec := Record{
		ID:        msg.ID,
		Body:      msg.Body,
		From:      msg.From,
		FromName:  contact.DisplayName(),
		To:        msg.To,
		Timestamp: b.FormatTimestamp(msg.Timestamp),
		HasMedia:  msg.HasMedia,
		IsReply:   msg.HasQuotedMsg,
	}

	if chat != nil && chat.IsGroup {
		name := chat.Name
		rec.IsGroup = true
		rec.GroupName = &name
	}

	if quoted != nil {
		id := quoted.ID
		rec.RepliedToMessageID = &id
	}

	return rec
}

// BuildButtonResponse creates the record for an interactive answer.
func (b *Builder) BuildButtonResponse(msg *Message, chat *Chat, contact *Contact, quoted *Message) ButtonResponse {
	return ButtonResponse{
		Record:         b.Build(msg, chat, contact, quoted),
		SelectedButton: msg.SelectedButtonID,
		MessageType:    MessageTypeButtonResponse,
	}
}
