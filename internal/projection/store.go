// Package projection maintains the bounded in-memory view of recent
// conversations: messages, per-chat summaries, group metadata and status
// updates. It is a presentation cache rebuilt from live transport events,
// never a system of record.
package projection

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/stayline/whatsapp-bridge-go/internal/model"
	"github.com/stayline/whatsapp-bridge-go/internal/util"
)

// MessageInput is one raw message event at the ingestion boundary.
type MessageInput struct {
	ChatID    string
	ChatName  string
	Sender    string
	ID        string
	FromMe    bool
	Timestamp time.Time
	Content   json.RawMessage
}

// Counts summarizes the projection for status reporting.
type Counts struct {
	Messages int `json:"messages"`
	Chats    int `json:"chats"`
	Groups   int `json:"groups"`
	Statuses int `json:"statuses"`
}

// Store holds the projection under a single mutex. Only the session
// manager's event path mutates it; facade reads return copies.
type Store struct {
	mu         sync.RWMutex
	messages   []model.Message // most-recent-first
	statuses   []model.Message // most-recent-first, broadcast channel only
	chats      map[string]*model.Chat
	groups     map[string]model.Group
	messageCap int
	statusCap  int
}

func NewStore(messageCap, statusCap int) *Store {
	return &Store{
		chats:      make(map[string]*model.Chat),
		groups:     make(map[string]model.Group),
		messageCap: messageCap,
		statusCap:  statusCap,
	}
}

// ApplyMessage normalizes one message event into the projection and returns
// the resulting record. Events repeating an already-known (chat, id) pair
// merge into the existing record instead of duplicating it.
func (s *Store) ApplyMessage(in MessageInput) model.Message {
	classified := Classify(in.Content)

	msg := model.Message{
		ID:        in.ID,
		ChatID:    in.ChatID,
		Sender:    in.Sender,
		Direction: model.DirectionInbound,
		Kind:      classified.Kind,
		Text:      classified.Text,
		Media:     classified.Media,
		Location:  classified.Location,
		Contact:   classified.Contact,
		Timestamp: in.Timestamp,
		Status:    model.StatusDelivered,
	}
	if in.FromMe {
		msg.Direction = model.DirectionOutbound
		msg.Status = model.StatusSent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if util.IsStatusJID(in.ChatID) {
		s.statuses = upsert(s.statuses, msg, s.statusCap)
		return msg
	}

	seq, merged := upsertMerged(s.messages, msg, s.messageCap)
	s.messages = seq
	if !merged {
		s.upsertChatLocked(in, msg)
	}
	return msg
}

// ApplyReceipt merges a delivery-status change into matching messages,
// promoting to read once the status reaches the read threshold. Returns how
// many records changed. Linear scan: the cache is small by design.
func (s *Store) ApplyReceipt(chatID string, messageIDs []string, status model.DeliveryStatus) int {
	if status.AtLeastRead() {
		status = model.StatusRead
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for i := range s.messages {
		if s.messages[i].ChatID != chatID || !contains(messageIDs, s.messages[i].ID) {
			continue
		}
		if s.messages[i].Status != status {
			s.messages[i].Status = status
			changed++
		}
	}
	return changed
}

// MarkRead flags the given messages as read and settles the owning chat's
// unread count, independent of any remote acknowledgement.
func (s *Store) MarkRead(chatID string, messageIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for i := range s.messages {
		m := &s.messages[i]
		if m.ChatID != chatID || !contains(messageIDs, m.ID) {
			continue
		}
		if m.Status == model.StatusRead {
			continue
		}
		m.Status = model.StatusRead
		if m.Direction == model.DirectionInbound {
			marked++
		}
	}

	if chat, ok := s.chats[chatID]; ok && marked > 0 {
		chat.UnreadCount -= marked
		if chat.UnreadCount < 0 {
			chat.UnreadCount = 0
		}
	}
	return marked
}

// ReplaceGroups swaps in the full roster from a reconnect-driven bulk fetch.
func (s *Store) ReplaceGroups(groups []model.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups = make(map[string]model.Group, len(groups))
	for _, g := range groups {
		s.groups[g.ID] = g
	}
}

// PatchGroupSubject applies an incremental subject-change notification. The
// patch also renames the matching chat so both views stay consistent.
func (s *Store) PatchGroupSubject(id, subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.groups[id]; ok {
		g.Subject = subject
		s.groups[id] = g
	}
	if chat, ok := s.chats[id]; ok {
		chat.Name = subject
	}
}

// Clear drops the whole projection. Used on logout; the view is rebuilt
// from the transport on the next connection.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.statuses = nil
	s.chats = make(map[string]*model.Chat)
	s.groups = make(map[string]model.Group)
}

func (s *Store) Messages(limit int) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMessages(s.messages, limit)
}

func (s *Store) Statuses(limit int) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMessages(s.statuses, limit)
}

// MessagesByChat filters the message sequence to one conversation.
func (s *Store) MessagesByChat(chatID string, limit int) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.ChatID != chatID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Chats returns per-chat summaries, most recently active first.
func (s *Store) Chats() []model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Chat, 0, len(s.chats))
	for _, chat := range s.chats {
		out = append(out, *chat)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

func (s *Store) Groups() []model.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Subject < out[j].Subject
	})
	return out
}

func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Counts{
		Messages: len(s.messages),
		Chats:    len(s.chats),
		Groups:   len(s.groups),
		Statuses: len(s.statuses),
	}
}

// upsertChatLocked maintains the denormalized chat summary for a newly
// inserted message. Callers hold s.mu.
func (s *Store) upsertChatLocked(in MessageInput, msg model.Message) {
	chat, ok := s.chats[in.ChatID]
	if !ok {
		chat = &model.Chat{
			ID:      in.ChatID,
			Name:    chatName(in),
			IsGroup: util.IsGroupJID(in.ChatID),
		}
		s.chats[in.ChatID] = chat
	} else if in.ChatName != "" {
		chat.Name = in.ChatName
	}

	chat.LastMessage = preview(msg)
	chat.LastMessageAt = msg.Timestamp
	if msg.Direction == model.DirectionInbound {
		chat.UnreadCount++
	}
}

func chatName(in MessageInput) string {
	if in.ChatName != "" {
		return in.ChatName
	}
	return util.JIDToPhone(in.ChatID)
}

// preview is the last-message text shown in chat lists.
func preview(msg model.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Kind == model.KindUnknown {
		return "[unsupported]"
	}
	return "[" + string(msg.Kind) + "]"
}

// upsert prepends a record or merges it into an existing one, evicting the
// oldest entries beyond cap.
func upsert(seq []model.Message, msg model.Message, capacity int) []model.Message {
	seq, _ = upsertMerged(seq, msg, capacity)
	return seq
}

func upsertMerged(seq []model.Message, msg model.Message, capacity int) ([]model.Message, bool) {
	for i := range seq {
		if seq[i].ChatID == msg.ChatID && seq[i].ID == msg.ID {
			// later events for the same id merge content but keep any
			// delivery status already observed for the record
			status := seq[i].Status
			if msg.Status.Rank() > status.Rank() {
				status = msg.Status
			}
			seq[i] = msg
			seq[i].Status = status
			return seq, true
		}
	}

	seq = append([]model.Message{msg}, seq...)
	if len(seq) > capacity {
		seq = seq[:capacity]
	}
	return seq, false
}

func copyMessages(seq []model.Message, limit int) []model.Message {
	n := len(seq)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Message, n)
	copy(out, seq[:n])
	return out
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
