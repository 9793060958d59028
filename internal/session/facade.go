package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/stayline/whatsapp-bridge-go/internal/errors"
	"github.com/stayline/whatsapp-bridge-go/internal/model"
	"github.com/stayline/whatsapp-bridge-go/internal/projection"
	"github.com/stayline/whatsapp-bridge-go/internal/transport"
	"github.com/stayline/whatsapp-bridge-go/internal/util"
)

// Status is the public session snapshot plus projection counters.
type Status struct {
	Phase             model.SessionPhase `json:"phase"`
	PairingCode       string             `json:"pairingCode,omitempty"`
	Identity          *model.Identity    `json:"connectedAs,omitempty"`
	LastError         string             `json:"lastError,omitempty"`
	ReconnectAttempts int                `json:"reconnectAttempts"`
	Projection        projection.Counts  `json:"projection"`
}

// Target names the single recipient of an outbound message: exactly one of
// Phone or GroupID must be set.
type Target struct {
	Phone   string `json:"phone,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

func (m *Manager) Status() Status {
	sess := m.snapshot()
	return Status{
		Phase:             sess.Phase,
		PairingCode:       sess.PairingCode,
		Identity:          sess.Identity,
		LastError:         sess.LastError,
		ReconnectAttempts: sess.ReconnectAttempts,
		Projection:        m.proj.Counts(),
	}
}

// liveTransport returns the transport only while the session is connected.
func (m *Manager) liveTransport() (transport.Transport, *model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.Phase != model.PhaseConnected || m.tr == nil {
		return nil, nil, apperrors.NotConnected()
	}
	return m.tr, m.sess.Identity, nil
}

// Send submits a text message to a single phone or group target, records
// the outbound echo in the projection and returns the projected record.
func (m *Manager) Send(ctx context.Context, target Target, message string) (model.Message, error) {
	if message == "" {
		return model.Message{}, apperrors.MissingRequired("message")
	}
	jid, err := resolveTarget(target)
	if err != nil {
		return model.Message{}, err
	}

	tr, identity, err := m.liveTransport()
	if err != nil {
		return model.Message{}, err
	}

	id, err := tr.SendText(ctx, jid, message)
	if err != nil {
		log.Error().Err(err).Str("jid", jid).Msg("send rejected by transport")
		return model.Message{}, apperrors.SendFailed(err)
	}

	sender := "me"
	if identity != nil && identity.Phone != "" {
		sender = util.PhoneToJID(identity.Phone)
	}
	content, _ := json.Marshal(map[string]string{"conversation": message})
	msg := m.proj.ApplyMessage(projection.MessageInput{
		ChatID:    jid,
		Sender:    sender,
		ID:        id,
		FromMe:    true,
		Timestamp: time.Now(),
		Content:   content,
	})

	log.Info().Str("jid", jid).Str("message_id", id).Msg("message sent")
	m.notify(EventMessage, msg)
	return msg, nil
}

// MarkRead requests read receipts for the given messages and settles the
// local unread count. The remote request is best-effort: a rejected receipt
// does not undo the local marking.
func (m *Manager) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	if chatID == "" {
		return apperrors.MissingRequired("chatId")
	}
	if len(messageIDs) == 0 {
		return apperrors.MissingRequired("messageIds")
	}

	tr, _, err := m.liveTransport()
	if err != nil {
		return err
	}

	if err := tr.MarkRead(ctx, chatID, messageIDs); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("read receipt request failed, marking locally anyway")
	}

	marked := m.proj.MarkRead(chatID, messageIDs)
	if marked > 0 {
		m.notify(EventReceipt, transport.ReceiptEvent{ChatID: chatID, MessageIDs: messageIDs, Status: model.StatusRead})
	}
	return nil
}

// SendPresence publishes a typing indicator or availability state for a
// phone or group target.
func (m *Manager) SendPresence(ctx context.Context, target Target, state string) error {
	switch state {
	case "available", "unavailable", "composing", "paused":
	default:
		return apperrors.InvalidArgument("state", "must be one of available, unavailable, composing, paused")
	}
	jid, err := resolveTarget(target)
	if err != nil {
		return err
	}

	tr, _, err := m.liveTransport()
	if err != nil {
		return err
	}
	if err := tr.SendPresence(ctx, jid, state); err != nil {
		return apperrors.SendFailed(err)
	}
	return nil
}

func (m *Manager) Messages(limit int) []model.Message {
	return m.proj.Messages(limit)
}

func (m *Manager) MessagesByChat(chatID string, limit int) []model.Message {
	return m.proj.MessagesByChat(chatID, limit)
}

func (m *Manager) Chats() []model.Chat {
	return m.proj.Chats()
}

func (m *Manager) Groups() []model.Group {
	return m.proj.Groups()
}

func (m *Manager) Statuses(limit int) []model.Message {
	return m.proj.Statuses(limit)
}

// resolveTarget validates the exactly-one-target rule and maps the target
// to its wire address.
func resolveTarget(target Target) (string, error) {
	switch {
	case target.Phone != "" && target.GroupID != "":
		return "", apperrors.InvalidArgument("target", "provide either phone or groupId, not both")

	case target.Phone != "":
		phone := util.NormalizePhone(target.Phone)
		if !util.IsValidPhone(phone) {
			return "", apperrors.InvalidArgument("phone", "must be 8 to 15 digits")
		}
		return util.PhoneToJID(phone), nil

	case target.GroupID != "":
		return util.GroupToJID(target.GroupID), nil

	default:
		return "", apperrors.MissingRequired("target")
	}
}
