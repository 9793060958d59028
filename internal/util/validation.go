package util

import (
	"regexp"
	"strings"
)

const (
	userJIDSuffix  = "@s.whatsapp.net"
	groupJIDSuffix = "@g.us"
	statusJID      = "status@broadcast"
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizePhone strips everything but digits from a phone number.
func NormalizePhone(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

// IsValidPhone reports whether a normalized phone number is plausible
// as an international number without the plus sign.
func IsValidPhone(phone string) bool {
	n := len(phone)
	return n >= 8 && n <= 15
}

// PhoneToJID converts a normalized phone number into a direct-recipient
// address on the remote network.
func PhoneToJID(phone string) string {
	return phone + userJIDSuffix
}

// GroupToJID converts a group identifier into a group address. Identifiers
// already carrying the group suffix pass through unchanged.
func GroupToJID(groupID string) string {
	if strings.HasSuffix(groupID, groupJIDSuffix) {
		return groupID
	}
	return groupID + groupJIDSuffix
}

func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, groupJIDSuffix)
}

func IsStatusJID(jid string) bool {
	return jid == statusJID
}

// JIDToPhone extracts the bare phone number from a direct-recipient address.
func JIDToPhone(jid string) string {
	if i := strings.IndexAny(jid, ":@"); i >= 0 {
		return jid[:i]
	}
	return jid
}
