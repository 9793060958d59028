package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stayline/whatsapp-bridge-go/internal/model"
)

const eventBuffer = 256

// inbound frame from the gateway
type frame struct {
	Type     string          `json:"type"`
	State    string          `json:"state,omitempty"`
	QR       string          `json:"qr,omitempty"`
	Code     int             `json:"code,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Identity *model.Identity `json:"identity,omitempty"`

	Message    *messageFrame `json:"message,omitempty"`
	Receipt    *receiptFrame `json:"receipt,omitempty"`
	Groups     []model.Group `json:"groups,omitempty"`
	GroupPatch *patchFrame   `json:"groupPatch,omitempty"`
	Creds      *credsFrame   `json:"creds,omitempty"`

	// ack fields
	ID        string `json:"id,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type messageFrame struct {
	Chat      string          `json:"chat"`
	ChatName  string          `json:"chatName,omitempty"`
	Sender    string          `json:"sender"`
	ID        string          `json:"id"`
	FromMe    bool            `json:"fromMe"`
	Timestamp int64           `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

type receiptFrame struct {
	Chat   string   `json:"chat"`
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

type patchFrame struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
}

type credsFrame struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
}

// outbound command to the gateway
type command struct {
	Op         string   `json:"op"`
	ID         string   `json:"id"`
	To         string   `json:"to,omitempty"`
	Text       string   `json:"text,omitempty"`
	Chat       string   `json:"chat,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
	Presence   string   `json:"presence,omitempty"`
}

type ack struct {
	messageID string
	err       string
}

// GatewayDialer dials the protocol gateway over WebSocket.
type GatewayDialer struct {
	URL            string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

func (d *GatewayDialer) Dial(ctx context.Context) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	c := &GatewayClient{
		conn:         conn,
		events:       make(chan Event, eventBuffer),
		pending:      make(map[string]chan ack),
		queryTimeout: d.QueryTimeout,
		readCtx:      readCtx,
		readCancel:   readCancel,
	}
	go c.readLoop()
	return c, nil
}

// GatewayClient is the live WebSocket connection to the protocol gateway.
type GatewayClient struct {
	conn         *websocket.Conn
	events       chan Event
	queryTimeout time.Duration

	readCtx    context.Context
	readCancel context.CancelFunc

	mu       sync.Mutex
	pending  map[string]chan ack
	sawClose bool
	closed   bool
}

func (c *GatewayClient) Events() <-chan Event {
	return c.events
}

func (c *GatewayClient) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.Read(c.readCtx)
		if err != nil {
			c.handleReadError(err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Msg("gateway: malformed frame dropped")
			continue
		}
		c.route(f)
	}
}

// handleReadError synthesizes a close event when the socket dies without the
// gateway having sent an explicit connection-close frame, so the session
// manager always observes a closure.
func (c *GatewayClient) handleReadError(err error) {
	c.mu.Lock()
	sawClose := c.sawClose
	c.failPendingLocked("connection lost")
	c.mu.Unlock()

	if sawClose {
		return
	}

	code := 0
	if status := websocket.CloseStatus(err); status != -1 {
		code = int(status)
	}
	c.emit(ConnectionEvent{
		State:  ConnStateClose,
		Code:   code,
		Reason: err.Error(),
	})
}

func (c *GatewayClient) route(f frame) {
	switch f.Type {
	case "connection":
		if f.State == string(ConnStateClose) {
			c.mu.Lock()
			c.sawClose = true
			c.mu.Unlock()
		}
		c.emit(ConnectionEvent{
			State:    ConnState(f.State),
			QR:       f.QR,
			Code:     f.Code,
			Reason:   f.Reason,
			Identity: f.Identity,
		})

	case "message":
		if f.Message == nil {
			return
		}
		c.emit(MessageEvent{
			ChatID:    f.Message.Chat,
			ChatName:  f.Message.ChatName,
			Sender:    f.Message.Sender,
			ID:        f.Message.ID,
			FromMe:    f.Message.FromMe,
			Timestamp: time.Unix(f.Message.Timestamp, 0),
			Content:   f.Message.Content,
		})

	case "receipt":
		if f.Receipt == nil {
			return
		}
		c.emit(ReceiptEvent{
			ChatID:     f.Receipt.Chat,
			MessageIDs: f.Receipt.IDs,
			Status:     mapReceiptStatus(f.Receipt.Status),
		})

	case "groups":
		c.emit(GroupsEvent{Groups: f.Groups})

	case "groupPatch":
		if f.GroupPatch == nil {
			return
		}
		c.emit(GroupPatchEvent{ID: f.GroupPatch.ID, Subject: f.GroupPatch.Subject})

	case "creds":
		if f.Creds == nil {
			return
		}
		content, err := base64.StdEncoding.DecodeString(f.Creds.Content)
		if err != nil {
			log.Warn().Err(err).Str("filename", f.Creds.Filename).Msg("gateway: undecodable credential frame dropped")
			return
		}
		c.emit(CredentialEvent{Filename: f.Creds.Filename, Content: content})

	case "ack":
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- ack{messageID: f.MessageID, err: f.Error}
		}

	default:
		log.Debug().Str("type", f.Type).Msg("gateway: unknown frame type")
	}
}

func (c *GatewayClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Msg("gateway: event buffer full, dropping event")
	}
}

func (c *GatewayClient) roundTrip(ctx context.Context, cmd command) (ack, error) {
	cmd.ID = uuid.NewString()

	ch := make(chan ack, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ack{}, fmt.Errorf("transport closed")
	}
	c.pending[cmd.ID] = ch
	c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		c.dropPending(cmd.ID)
		return ack{}, err
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		c.dropPending(cmd.ID)
		return ack{}, fmt.Errorf("write %s command: %w", cmd.Op, err)
	}

	select {
	case a := <-ch:
		if a.err != "" {
			return ack{}, fmt.Errorf("gateway rejected %s: %s", cmd.Op, a.err)
		}
		return a, nil
	case <-writeCtx.Done():
		c.dropPending(cmd.ID)
		return ack{}, fmt.Errorf("%s command: %w", cmd.Op, writeCtx.Err())
	}
}

func (c *GatewayClient) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *GatewayClient) failPendingLocked(reason string) {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- ack{err: reason}
	}
}

func (c *GatewayClient) SendText(ctx context.Context, jid, text string) (string, error) {
	a, err := c.roundTrip(ctx, command{Op: "send", To: jid, Text: text})
	if err != nil {
		return "", err
	}
	return a.messageID, nil
}

func (c *GatewayClient) MarkRead(ctx context.Context, chatJID string, messageIDs []string) error {
	_, err := c.roundTrip(ctx, command{Op: "read", Chat: chatJID, MessageIDs: messageIDs})
	return err
}

func (c *GatewayClient) SendPresence(ctx context.Context, jid, state string) error {
	_, err := c.roundTrip(ctx, command{Op: "presence", To: jid, Presence: state})
	return err
}

func (c *GatewayClient) Logout(ctx context.Context) error {
	_, err := c.roundTrip(ctx, command{Op: "logout"})
	return err
}

func (c *GatewayClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.readCancel()
	return c.conn.Close(websocket.StatusNormalClosure, "teardown")
}

func mapReceiptStatus(s string) model.DeliveryStatus {
	switch s {
	case "sent":
		return model.StatusSent
	case "delivery", "delivered":
		return model.StatusDelivered
	case "read":
		return model.StatusRead
	case "played":
		return model.StatusPlayed
	default:
		return model.StatusPending
	}
}
