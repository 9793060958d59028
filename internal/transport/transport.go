// Package transport speaks to the protocol gateway: the sidecar that owns
// the messaging network's wire cryptography and exposes its event stream
// over a single WebSocket connection.
package transport

import "context"

// Close codes carried by connection-close events, following the protocol
// library's DisconnectReason numbering.
const (
	CodeLoggedOut       = 401
	CodeRestartRequired = 515
)

// CloseCause is the lifecycle classification of a transport closure.
type CloseCause int

const (
	// CauseRecoverable closures are eligible for bounded automatic retry.
	CauseRecoverable CloseCause = iota
	// CauseLoggedOut means the remote explicitly revoked the session.
	CauseLoggedOut
	// CauseRestartRequired is the protocol-level renegotiation signal.
	CauseRestartRequired
)

func (c CloseCause) String() string {
	switch c {
	case CauseLoggedOut:
		return "logged_out"
	case CauseRestartRequired:
		return "restart_required"
	default:
		return "recoverable"
	}
}

// ClassifyClose maps a close code onto the reconnection policy's causes.
func ClassifyClose(code int) CloseCause {
	switch code {
	case CodeLoggedOut:
		return CauseLoggedOut
	case CodeRestartRequired:
		return CauseRestartRequired
	default:
		return CauseRecoverable
	}
}

// Transport is one live connection to the protocol gateway. Events delivers
// lifecycle, message, receipt, group and credential notifications until the
// connection dies, after which the channel is closed. All operations are
// bounded by the transport's own timeouts.
type Transport interface {
	Events() <-chan Event

	// SendText submits a text message and returns the remote-assigned
	// message id on local acceptance.
	SendText(ctx context.Context, jid, text string) (string, error)

	// MarkRead requests read receipts for the given messages.
	MarkRead(ctx context.Context, chatJID string, messageIDs []string) error

	// SendPresence publishes a presence state (available, composing, paused)
	// for the given recipient.
	SendPresence(ctx context.Context, jid, state string) error

	// Logout asks the gateway to revoke the session with the remote network.
	Logout(ctx context.Context) error

	// Close tears down the connection without touching the remote session.
	Close() error
}

// Dialer establishes a fresh Transport. The session manager dials once per
// connection attempt.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}
