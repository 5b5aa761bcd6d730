// Package jid normalizes user supplied destinations into WhatsApp addresses.
package jid

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// Shape is the kind of chat a destination addresses.
type Shape string

const (
	// Chat addresses an individual account.
	Chat Shape = "chat"
	// Group addresses a group chat.
	Group Shape = "group"
)

// CountryPrefix replaces a leading trunk zero.
const CountryPrefix = "62"

var (
	chatSuffix  = "@" + types.DefaultUserServer
	groupSuffix = "@" + types.GroupServer
)

// Suffix returns the address suffix for a shape. Anything other than
// Group is treated as Chat.
func (s Shape) Suffix() string {
	if s == Group {
		return groupSuffix
	}
	return chatSuffix
}

// Format strips every non-digit from raw, swaps a leading 0 for the country
// prefix and appends the suffix for shape. Any suffix already present in raw
// is dropped along with the other non-digits.
func Format(raw string, shape Shape) string {
	var b strings.Builder
	b.Grow(len(raw) + len(chatSuffix))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if strings.HasPrefix(digits, "0") {
		digits = CountryPrefix + digits[1:]
	}

	return digits + shape.Suffix()
}

// IsGroup reports whether an address points at a group chat.
func IsGroup(address string) bool {
	return strings.HasSuffix(address, groupSuffix)
}

// Parse converts a formatted address into a whatsmeow JID. The legacy
// "@c.us" user suffix is accepted as an alias of the default user server.
func Parse(address string) (types.JID, error) {
	if strings.HasSuffix(address, "@c.us") {
		address = strings.TrimSuffix(address, "@c.us") + chatSuffix
	}
	return types.ParseJID(address)
}
