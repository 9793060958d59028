package model

import "time"

// Chat is a denormalized per-conversation summary derived from the message
// stream. It is never independently authoritative.
type Chat struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	IsGroup       bool      `json:"isGroup"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
}

// Group is remote group metadata, replaced wholesale on each successful
// reconnection and patched on subject-change events.
type Group struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	Participants int    `json:"participants"`
	IsAdmin      bool   `json:"isAdmin"`
}
