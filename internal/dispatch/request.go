// Package dispatch validates send requests and turns them into WhatsApp
// message payloads.
package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Content shapes selected by SendRequest.MessageType.
const (
	ShapeText     = "text"
	ShapeMedia    = "media"
	ShapeLocation = "location"
	ShapePoll     = "poll"
	ShapeButtons  = "buttons"
	ShapeList     = "list"
	ShapeContacts = "contacts"
)

// SendRequest is the body of a send call.
type SendRequest struct {
	To          string    `json:"to"`
	Message     string    `json:"message"`
	SendType    string    `json:"sendType"`
	MessageType string    `json:"messageType"`
	Contents    *Contents `json:"contents,omitempty"`
	Options     *Options  `json:"options,omitempty"`
}

// Contents holds the shape specific payload. At most one shape is used; see
// Dispatcher.Send for the precedence.
type Contents struct {
	MessageMedia *Media    `json:"messageMedia,omitempty"`
	Location     *Location `json:"location,omitempty"`
	Poll         *Poll     `json:"poll,omitempty"`
	Contacts     Contacts  `json:"contacts,omitempty"`
	List         *List     `json:"list,omitempty"`
	Buttons      []Button  `json:"buttons,omitempty"`
	Footer       string    `json:"footer,omitempty"`
}

// Media is a file to send, base64 encoded. A data URI prefix is allowed.
type Media struct {
	IsBase64 bool   `json:"isBase64"`
	Media    string `json:"media"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
}

// Location is a map pin.
type Location struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Description string   `json:"description,omitempty"`
	Name        string   `json:"name,omitempty"`
	Address     string   `json:"address,omitempty"`
}

// Poll is a single or multiple choice poll.
type Poll struct {
	Title                string   `json:"title"`
	Options              []string `json:"options"`
	AllowMultipleAnswers bool     `json:"allowMultipleAnswers"`
}

// List is an interactive list message.
type List struct {
	Body       string        `json:"body,omitempty"`
	ButtonText string        `json:"buttonText,omitempty"`
	Title      string        `json:"title,omitempty"`
	Footer     string        `json:"footer,omitempty"`
	Sections   []ListSection `json:"sections"`
}

// ListSection groups list rows under a title.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ListRow is one selectable list entry.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Button is one quick reply button.
type Button struct {
	ID   string `json:"id,omitempty"`
	Body string `json:"body"`
}

// Contact is a contact card, given either as name and number or as a
// complete vCard.
type Contact struct {
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
	VCard  string `json:"vcard,omitempty"`
}

// Contacts accepts either a single contact object or an array of them.
type Contacts []Contact

// UnmarshalJSON implements json.Unmarshaler.
func (c *Contacts) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []Contact
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*c = list
		return nil
	}

	var single Contact
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("contacts must be an object or an array: %w", err)
	}
	*c = Contacts{single}
	return nil
}

// Options are send options independent of the content shape.
type Options struct {
	Mentions        []string `json:"mentions,omitempty"`
	QuotedMessageID string   `json:"quotedMessageId,omitempty"`
}

// ValidationError is a malformed or incomplete send request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

const msgLocationCoordinates = "Location must include latitude and longitude"

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// Validate checks the request against the requirements of its message type.
func (r *SendRequest) Validate() error {
	if r.To == "" {
		return invalid(`"to" field is required`)
	}

	c := r.contents()

	switch r.MessageType {
	case ShapeText:
		if r.Message == "" {
			return invalid("Message body is required for text messages")
		}

	case ShapeMedia:
		m := c.MessageMedia
		if m == nil || !m.IsBase64 || m.Media == "" || m.MimeType == "" || m.Filename == "" {
			return invalid("Media content is required for media messages")
		}

	case ShapeLocation:
		if c.Location == nil || c.Location.Latitude == nil || c.Location.Longitude == nil {
			return invalid(msgLocationCoordinates)
		}

	case ShapePoll:
		if c.Poll == nil || c.Poll.Title == "" || len(c.Poll.Options) < 2 {
			return invalid("Poll must include a title and at least 2 options")
		}

	case ShapeButtons:
		if r.Message == "" {
			return invalid("Message body is required for button messages")
		}
		if len(c.Buttons) < 1 {
			return invalid("At least one button must be provided")
		}

	case ShapeList:
		if c.List == nil || len(c.List.Sections) < 1 {
			return invalid("List must include at least one section")
		}

	case ShapeContacts:
		if len(c.Contacts) == 0 {
			return invalid("Contact information is required for contact messages")
		}

	default:
		if r.Message == "" {
			return invalid("Message content is required")
		}
	}

	return nil
}

func (r *SendRequest) contents() *Contents {
	if r.Contents == nil {
		return &Contents{}
	}
	return r.Contents
}
