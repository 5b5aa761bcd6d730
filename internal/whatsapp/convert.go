package whatsapp

import (
	"fmt"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/jid"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/store"
)

// messageType names the payload a message carries.
func messageType(m *waE2E.Message) string {
	switch {
	case m == nil:
		return message.TypeUnknown
	case m.Conversation != nil, m.ExtendedTextMessage != nil:
		return message.TypeChat
	case m.ImageMessage != nil:
		return message.TypeImage
	case m.VideoMessage != nil:
		return message.TypeVideo
	case m.AudioMessage != nil:
		return message.TypeAudio
	case m.DocumentMessage != nil:
		return message.TypeDocument
	case m.StickerMessage != nil:
		return message.TypeSticker
	case m.LocationMessage != nil:
		return message.TypeLocation
	case m.ContactMessage != nil:
		return message.TypeContact
	case m.ContactsArrayMessage != nil:
		return message.TypeContactsArray
	case m.PollCreationMessage != nil, m.PollCreationMessageV3 != nil:
		return message.TypePoll
	case m.ButtonsMessage != nil:
		return message.TypeButtons
	case m.ListMessage != nil:
		return message.TypeList
	case m.ButtonsResponseMessage != nil:
		return message.TypeButtonsResponse
	case m.TemplateButtonReplyMessage != nil:
		return message.TypeTemplateButtonReply
	case m.ListResponseMessage != nil:
		return message.TypeListResponse
	case m.ProtocolMessage != nil:
		return message.TypeProtocol
	default:
		return message.TypeUnknown
	}
}

// messageBody returns the user visible text of a message: the text itself,
// a caption, or the label of a selected option.
func messageBody(m *waE2E.Message) string {
	switch {
	case m == nil:
		return ""
	case m.Conversation != nil:
		return m.GetConversation()
	case m.ExtendedTextMessage != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.ImageMessage != nil:
		return m.GetImageMessage().GetCaption()
	case m.VideoMessage != nil:
		return m.GetVideoMessage().GetCaption()
	case m.DocumentMessage != nil:
		return m.GetDocumentMessage().GetCaption()
	case m.LocationMessage != nil:
		return m.GetLocationMessage().GetName()
	case m.ContactMessage != nil:
		return m.GetContactMessage().GetVcard()
	case m.PollCreationMessage != nil:
		return m.GetPollCreationMessage().GetName()
	case m.PollCreationMessageV3 != nil:
		return m.GetPollCreationMessageV3().GetName()
	case m.ButtonsMessage != nil:
		return m.GetButtonsMessage().GetContentText()
	case m.ListMessage != nil:
		return m.GetListMessage().GetDescription()
	case m.ButtonsResponseMessage != nil:
		return m.GetButtonsResponseMessage().GetSelectedDisplayText()
	case m.TemplateButtonReplyMessage != nil:
		return m.GetTemplateButtonReplyMessage().GetSelectedDisplayText()
	case m.ListResponseMessage != nil:
		return m.GetListResponseMessage().GetTitle()
	}
	return ""
}

// selectedButtonID returns the id of the option an interactive response
// picked, or "" for any other message.
func selectedButtonID(m *waE2E.Message) string {
	switch {
	case m.GetButtonsResponseMessage() != nil:
		return m.GetButtonsResponseMessage().GetSelectedButtonID()
	case m.GetTemplateButtonReplyMessage() != nil:
		return m.GetTemplateButtonReplyMessage().GetSelectedID()
	case m.GetListResponseMessage() != nil:
		return m.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
	}
	return ""
}

// contextInfo returns the reply and mention context of whichever payload m
// carries.
func contextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case m == nil:
		return nil
	case m.ExtendedTextMessage != nil:
		return m.GetExtendedTextMessage().GetContextInfo()
	case m.ImageMessage != nil:
		return m.GetImageMessage().GetContextInfo()
	case m.VideoMessage != nil:
		return m.GetVideoMessage().GetContextInfo()
	case m.AudioMessage != nil:
		return m.GetAudioMessage().GetContextInfo()
	case m.DocumentMessage != nil:
		return m.GetDocumentMessage().GetContextInfo()
	case m.StickerMessage != nil:
		return m.GetStickerMessage().GetContextInfo()
	case m.LocationMessage != nil:
		return m.GetLocationMessage().GetContextInfo()
	case m.ContactMessage != nil:
		return m.GetContactMessage().GetContextInfo()
	case m.ContactsArrayMessage != nil:
		return m.GetContactsArrayMessage().GetContextInfo()
	case m.PollCreationMessage != nil:
		return m.GetPollCreationMessage().GetContextInfo()
	case m.ButtonsMessage != nil:
		return m.GetButtonsMessage().GetContextInfo()
	case m.ListMessage != nil:
		return m.GetListMessage().GetContextInfo()
	case m.ButtonsResponseMessage != nil:
		return m.GetButtonsResponseMessage().GetContextInfo()
	case m.TemplateButtonReplyMessage != nil:
		return m.GetTemplateButtonReplyMessage().GetContextInfo()
	case m.ListResponseMessage != nil:
		return m.GetListResponseMessage().GetContextInfo()
	}
	return nil
}

// addressing fills From, To and Author. Inbound messages come from the chat
// and are addressed to the own account; in groups the author is the member
// who wrote it. Own messages go from the account to the chat.
func addressing(msg *message.Message, sender, own string) {
	switch {
	case msg.FromMe:
		msg.From = sender
		msg.To = msg.ChatID
	case jid.IsGroup(msg.ChatID):
		msg.From = msg.ChatID
		msg.Author = sender
		msg.To = own
	default:
		msg.From = msg.ChatID
		msg.To = own
	}
}

// fillPayload derives every field that comes from the protobuf payload.
func fillPayload(msg *message.Message, raw *waE2E.Message) {
	msg.Raw = raw
	msg.Body = messageBody(raw)
	msg.Type = messageType(raw)
	msg.HasMedia = message.IsMedia(msg.Type)
	msg.SelectedButtonID = selectedButtonID(raw)

	if ci := contextInfo(raw); ci.GetStanzaID() != "" {
		msg.HasQuotedMsg = true
		msg.QuotedMessageID = ci.GetStanzaID()
		msg.QuotedParticipant = ci.GetParticipant()
	}
}

// fromEvent converts a whatsmeow message event. own is the account's
// address.
func fromEvent(evt *events.Message, own string) *message.Message {
	info := evt.Info
	msg := &message.Message{
		ID:         info.ID,
		ChatID:     info.Chat.ToNonAD().String(),
		NotifyName: info.PushName,
		Timestamp:  info.Timestamp.Unix(),
		FromMe:     info.IsFromMe,
	}
	fillPayload(msg, evt.Message)
	addressing(msg, info.Sender.ToNonAD().String(), own)
	return msg
}

// toStored converts a message for the message cache.
func toStored(msg *message.Message) (*store.Message, error) {
	var raw []byte
	if msg.Raw != nil {
		var err error
		raw, err = proto.Marshal(msg.Raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
		}
	}

	stored := &store.Message{
		ID:           msg.ID,
		ChatJID:      msg.ChatID,
		Sender:       msg.Sender(),
		Recipient:    msg.To,
		Content:      msg.Body,
		Type:         msg.Type,
		Timestamp:    time.UnixMilli(message.NormalizeEpoch(msg.Timestamp)),
		IsFromMe:     msg.FromMe,
		QuotedID:     msg.QuotedMessageID,
		QuotedSender: msg.QuotedParticipant,
		Raw:          raw,
	}
	if msg.HasMedia {
		stored.MediaType = msg.Type
	}
	return stored, nil
}

// fromStored rebuilds a message from the message cache.
func fromStored(stored *store.Message, own string) (*message.Message, error) {
	msg := &message.Message{
		ID:        stored.ID,
		ChatID:    stored.ChatJID,
		Timestamp: stored.Timestamp.Unix(),
		FromMe:    stored.IsFromMe,
	}

	if len(stored.Raw) > 0 {
		raw := &waE2E.Message{}
		if err := proto.Unmarshal(stored.Raw, raw); err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", stored.ID, err)
		}
		fillPayload(msg, raw)
	} else {
		msg.Body = stored.Content
		msg.Type = stored.Type
		msg.HasMedia = stored.MediaType != ""
		msg.HasQuotedMsg = stored.QuotedID != ""
		msg.QuotedMessageID = stored.QuotedID
		msg.QuotedParticipant = stored.QuotedSender
	}

	addressing(msg, stored.Sender, own)
	if !msg.FromMe && stored.Recipient != "" {
		msg.To = stored.Recipient
	}
	return msg, nil
}
