package transport

import (
	"encoding/json"
	"time"

	"github.com/stayline/whatsapp-bridge-go/internal/model"
)

// Event is a tagged union of everything the gateway can notify us about.
type Event interface {
	event()
}

type ConnState string

const (
	ConnStateConnecting ConnState = "connecting"
	ConnStateOpen       ConnState = "open"
	ConnStateClose      ConnState = "close"
)

// ConnectionEvent reports a lifecycle change on the underlying protocol
// connection. QR is set when the handshake produced a pairing challenge
// before authentication completed. Code and Reason are set on close.
type ConnectionEvent struct {
	State    ConnState
	QR       string
	Code     int
	Reason   string
	Identity *model.Identity
}

// MessageEvent is one inbound or echoed outbound message. Content is the
// raw kind-specific payload as the protocol library shapes it; the
// projection classifies it at the ingestion boundary.
type MessageEvent struct {
	ChatID    string
	ChatName  string
	Sender    string
	ID        string
	FromMe    bool
	Timestamp time.Time
	Content   json.RawMessage
}

// ReceiptEvent reports a delivery-status change for messages in a chat.
type ReceiptEvent struct {
	ChatID     string
	MessageIDs []string
	Status     model.DeliveryStatus
}

// GroupsEvent carries the full group roster, sent by the gateway after each
// successful connection.
type GroupsEvent struct {
	Groups []model.Group
}

// GroupPatchEvent is an incremental subject-change notification.
type GroupPatchEvent struct {
	ID      string
	Subject string
}

// CredentialEvent reports updated credential material for one file of the
// protocol library's auth state.
type CredentialEvent struct {
	Filename string
	Content  []byte
}

func (ConnectionEvent) event() {}
func (MessageEvent) event()    {}
func (ReceiptEvent) event()    {}
func (GroupsEvent) event()     {}
func (GroupPatchEvent) event() {}
func (CredentialEvent) event() {}
