package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/jid"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
)

// Defaults applied when the request leaves a field empty.
const (
	DefaultMimeType      = "image/jpeg"
	DefaultFilename      = "file.jpg"
	DefaultListButton    = "Lihat Opsi"
	DefaultButtonsFooter = "Silakan pilih salah satu opsi"
)

// ErrQuotedNotFound is returned when a reply targets an unknown message.
var ErrQuotedNotFound = errors.New("Message not found or not in cache")

var dataURIPrefix = regexp.MustCompile(`^data:.*?;base64,`)

// Client is the part of the WhatsApp client a send needs.
type Client interface {
	SendMessage(ctx context.Context, to string, msg *waE2E.Message) (*message.Message, error)
	Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	GetMessageByID(ctx context.Context, id string) (*message.Message, error)
	GetChat(ctx context.Context, chatID string) (*message.Chat, error)
	GetContact(ctx context.Context, id string) (*message.Contact, error)
}

// Result is the outcome of a send.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    *message.Record `json:"data,omitempty"`
}

// Failed builds an unsuccessful result for err.
func Failed(err error) Result {
	return Result{Message: "Failed to send message: " + err.Error()}
}

// Dispatcher resolves a request into a single outgoing message and sends it.
type Dispatcher struct {
	builder *message.Builder
	log     *slog.Logger
}

// NewDispatcher creates a dispatcher rendering records with builder.
func NewDispatcher(builder *message.Builder, log *slog.Logger) *Dispatcher {
	if builder == nil {
		builder = message.NewBuilder(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		builder: builder,
		log:     log.With("component", "dispatch"),
	}
}

// Send builds and sends req through client. The request is expected to be
// validated. Payloads are chosen in a fixed order: media, location, poll,
// contacts, list, buttons, then plain text.
func (d *Dispatcher) Send(ctx context.Context, client Client, req *SendRequest) Result {
	rec, err := d.send(ctx, client, req)
	var verr *ValidationError
	if errors.As(err, &verr) {
		d.log.Warn("rejected message payload", "to", req.To, "type", req.MessageType, "error", err)
		return Result{Message: verr.Message}
	}
	if err != nil {
		d.log.Error("error sending message", "to", req.To, "type", req.MessageType, "error", err)
		return Failed(err)
	}
	return Result{Success: true, Message: "Message sent successfully", Data: rec}
}

func (d *Dispatcher) send(ctx context.Context, client Client, req *SendRequest) (*message.Record, error) {
	sendType := req.SendType
	if sendType == "" {
		sendType = string(jid.Chat)
	}
	target := jid.Format(req.To, jid.Shape(sendType))

	msg, err := d.build(ctx, client, req)
	if err != nil {
		return nil, err
	}

	var ci *waE2E.ContextInfo
	if req.Options != nil && len(req.Options.Mentions) > 0 {
		ci = &waE2E.ContextInfo{MentionedJID: mentionJIDs(req.Options.Mentions)}
	}

	var quoted *message.Message
	if req.Options != nil && req.Options.QuotedMessageID != "" {
		quoted, err = client.GetMessageByID(ctx, req.Options.QuotedMessageID)
		if err != nil || quoted == nil {
			return nil, ErrQuotedNotFound
		}
		if ci == nil {
			ci = &waE2E.ContextInfo{}
		}
		ci.StanzaID = proto.String(quoted.ID)
		ci.Participant = proto.String(quoted.Sender())
		ci.QuotedMessage = quoted.Raw
		target = quoted.ChatID
	}

	if ci != nil {
		attachContextInfo(msg, ci)
	}

	sent, err := client.SendMessage(ctx, target, msg)
	if err != nil {
		return nil, err
	}

	chat, err := client.GetChat(ctx, sent.ChatID)
	if err != nil {
		d.log.Warn("failed to resolve chat of sent message", "chat", sent.ChatID, "error", err)
		chat = &message.Chat{ID: sent.ChatID, IsGroup: jid.IsGroup(sent.ChatID)}
	}
	contact, err := client.GetContact(ctx, sent.From)
	if err != nil {
		d.log.Debug("failed to resolve own contact", "error", err)
	}

	rec := d.builder.Build(sent, chat, contact, quoted)
	return &rec, nil
}

func (d *Dispatcher) build(ctx context.Context, client Client, req *SendRequest) (*waE2E.Message, error) {
	c := req.contents()

	switch {
	case c.MessageMedia != nil && c.MessageMedia.Media != "":
		return buildMedia(ctx, client, c.MessageMedia, req.Message)
	case c.Location != nil:
		return buildLocation(c.Location)
	case c.Poll != nil:
		return buildPoll(c.Poll)
	case len(c.Contacts) > 0:
		return buildContacts(c.Contacts), nil
	case c.List != nil:
		return buildList(c.List, req.Message), nil
	case len(c.Buttons) > 0:
		return buildButtons(c.Buttons, req.Message, c.Footer), nil
	default:
		return &waE2E.Message{Conversation: proto.String(req.Message)}, nil
	}
}

// MediaKind picks the upload class for a mime type.
func MediaKind(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMedia(ctx context.Context, client Client, m *Media, body string) (*waE2E.Message, error) {
	if !m.IsBase64 {
		return nil, errors.New("media must be base64 encoded")
	}

	data, err := base64.StdEncoding.DecodeString(dataURIPrefix.ReplaceAllString(m.Media, ""))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 media: %w", err)
	}

	mimeType := m.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	filename := m.Filename
	if filename == "" {
		filename = DefaultFilename
	}

	kind := MediaKind(mimeType)
	uploaded, err := client.Upload(ctx, data, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	var caption *string
	if body != "" {
		caption = proto.String(body)
	}
	size := proto.Uint64(uint64(len(data)))

	switch kind {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       caption,
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
		}}, nil
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       caption,
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
		}}, nil
	case whatsmeow.MediaAudio:
		// Audio messages carry no caption.
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
		}}, nil
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       caption,
			FileName:      proto.String(filename),
			Title:         proto.String(filename),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    size,
		}}, nil
	}
}

func buildLocation(l *Location) (*waE2E.Message, error) {
	if l.Latitude == nil || l.Longitude == nil {
		return nil, invalid(msgLocationCoordinates)
	}
	loc := &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(*l.Latitude),
		DegreesLongitude: proto.Float64(*l.Longitude),
	}

	name := l.Name
	if name == "" {
		name = l.Description
	}
	if name != "" {
		loc.Name = proto.String(name)
	}
	if l.Address != "" {
		loc.Address = proto.String(l.Address)
	}
	return &waE2E.Message{LocationMessage: loc}, nil
}

func buildPoll(p *Poll) (*waE2E.Message, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate poll secret: %w", err)
	}

	options := make([]*waE2E.PollCreationMessage_Option, 0, len(p.Options))
	for _, opt := range p.Options {
		options = append(options, &waE2E.PollCreationMessage_Option{OptionName: proto.String(opt)})
	}

	// Zero lets voters pick any number of options.
	selectable := uint32(1)
	if p.AllowMultipleAnswers {
		selectable = 0
	}

	return &waE2E.Message{
		PollCreationMessage: &waE2E.PollCreationMessage{
			Name:                   proto.String(p.Title),
			Options:                options,
			SelectableOptionsCount: proto.Uint32(selectable),
		},
		MessageContextInfo: &waE2E.MessageContextInfo{
			MessageSecret: secret,
		},
	}, nil
}

func buildContacts(contacts Contacts) *waE2E.Message {
	cards := make([]*waE2E.ContactMessage, 0, len(contacts))
	for _, c := range contacts {
		name, card := vCard(c)
		cards = append(cards, &waE2E.ContactMessage{
			DisplayName: proto.String(name),
			Vcard:       proto.String(card),
		})
	}

	if len(cards) == 1 {
		return &waE2E.Message{ContactMessage: cards[0]}
	}
	return &waE2E.Message{ContactsArrayMessage: &waE2E.ContactsArrayMessage{
		DisplayName: proto.String(fmt.Sprintf("%d contacts", len(cards))),
		Contacts:    cards,
	}}
}

// vCard returns the display name and vCard for a contact.
func vCard(c Contact) (string, string) {
	if c.VCard != "" {
		name := c.Name
		if name == "" {
			name = vCardName(c.VCard)
		}
		return name, c.VCard
	}

	user := strings.TrimSuffix(jid.Format(c.Number, jid.Chat), jid.Chat.Suffix())
	name := c.Name
	if name == "" {
		name = "+" + user
	}
	card := fmt.Sprintf("BEGIN:VCARD\nVERSION:3.0\nFN:%s\nTEL;type=CELL;type=VOICE;waid=%s:+%s\nEND:VCARD",
		name, user, user)
	return name, card
}

func vCardName(card string) string {
	for _, line := range strings.Split(card, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "FN:") {
			return strings.TrimPrefix(line, "FN:")
		}
	}
	return ""
}

func buildList(l *List, fallbackBody string) *waE2E.Message {
	body := l.Body
	if body == "" {
		body = fallbackBody
	}
	buttonText := l.ButtonText
	if buttonText == "" {
		buttonText = DefaultListButton
	}

	sections := make([]*waE2E.ListMessage_Section, 0, len(l.Sections))
	for _, s := range l.Sections {
		rows := make([]*waE2E.ListMessage_Row, 0, len(s.Rows))
		for i, r := range s.Rows {
			id := r.ID
			if id == "" {
				id = fmt.Sprintf("row-%d", i)
			}
			row := &waE2E.ListMessage_Row{
				RowID: proto.String(id),
				Title: proto.String(r.Title),
			}
			if r.Description != "" {
				row.Description = proto.String(r.Description)
			}
			rows = append(rows, row)
		}
		sections = append(sections, &waE2E.ListMessage_Section{
			Title: proto.String(s.Title),
			Rows:  rows,
		})
	}

	return &waE2E.Message{ListMessage: &waE2E.ListMessage{
		Title:       proto.String(l.Title),
		Description: proto.String(body),
		ButtonText:  proto.String(buttonText),
		ListType:    waE2E.ListMessage_SINGLE_SELECT.Enum(),
		Sections:    sections,
		FooterText:  proto.String(l.Footer),
	}}
}

func buildButtons(buttons []Button, body, footer string) *waE2E.Message {
	if footer == "" {
		footer = DefaultButtonsFooter
	}

	out := make([]*waE2E.ButtonsMessage_Button, 0, len(buttons))
	for i, b := range buttons {
		id := b.ID
		if id == "" {
			id = fmt.Sprintf("btn-%d", i)
		}
		out = append(out, &waE2E.ButtonsMessage_Button{
			ButtonID:   proto.String(id),
			ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(b.Body)},
			Type:       waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}

	return &waE2E.Message{ButtonsMessage: &waE2E.ButtonsMessage{
		ContentText: proto.String(body),
		FooterText:  proto.String(footer),
		HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
		Buttons:     out,
	}}
}

// attachContextInfo sets ci on whichever payload msg carries. Plain text is
// promoted to an extended text message, which can hold context.
func attachContextInfo(msg *waE2E.Message, ci *waE2E.ContextInfo) {
	switch {
	case msg.Conversation != nil:
		msg.ExtendedTextMessage = &waE2E.ExtendedTextMessage{Text: msg.Conversation, ContextInfo: ci}
		msg.Conversation = nil
	case msg.ExtendedTextMessage != nil:
		msg.ExtendedTextMessage.ContextInfo = ci
	case msg.ImageMessage != nil:
		msg.ImageMessage.ContextInfo = ci
	case msg.VideoMessage != nil:
		msg.VideoMessage.ContextInfo = ci
	case msg.AudioMessage != nil:
		msg.AudioMessage.ContextInfo = ci
	case msg.DocumentMessage != nil:
		msg.DocumentMessage.ContextInfo = ci
	case msg.LocationMessage != nil:
		msg.LocationMessage.ContextInfo = ci
	case msg.PollCreationMessage != nil:
		msg.PollCreationMessage.ContextInfo = ci
	case msg.ContactMessage != nil:
		msg.ContactMessage.ContextInfo = ci
	case msg.ContactsArrayMessage != nil:
		msg.ContactsArrayMessage.ContextInfo = ci
	case msg.ListMessage != nil:
		msg.ListMessage.ContextInfo = ci
	case msg.ButtonsMessage != nil:
		msg.ButtonsMessage.ContextInfo = ci
	}
}

// mentionJIDs normalizes mention targets given as addresses or bare numbers.
func mentionJIDs(mentions []string) []string {
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		if strings.Contains(m, "@") {
			if parsed, err := jid.Parse(m); err == nil {
				out = append(out, parsed.String())
				continue
			}
		}
		out = append(out, jid.Format(m, jid.Chat))
	}
	return out
}
