package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/stayline/whatsapp-bridge-go/internal/httputil"
	"github.com/stayline/whatsapp-bridge-go/internal/model"
	"github.com/stayline/whatsapp-bridge-go/internal/session"
)

// SessionController is the slice of the session manager the HTTP surface
// needs. *session.Manager satisfies it.
type SessionController interface {
	Status() session.Status
	Restart()
	Logout()
	Send(ctx context.Context, target session.Target, message string) (model.Message, error)
	MarkRead(ctx context.Context, chatID string, messageIDs []string) error
	SendPresence(ctx context.Context, target session.Target, state string) error
	Messages(limit int) []model.Message
	MessagesByChat(chatID string, limit int) []model.Message
	Chats() []model.Chat
	Groups() []model.Group
	Statuses(limit int) []model.Message
}

type BridgeHandler struct {
	session   SessionController
	sendLimit func(http.Handler) http.Handler
}

// NewBridgeHandler builds the session API. sendLimit, when non-nil, wraps
// the outbound-send endpoint with a rate limiter.
func NewBridgeHandler(sessionCtl SessionController, sendLimit func(http.Handler) http.Handler) *BridgeHandler {
	return &BridgeHandler{
		session:   sessionCtl,
		sendLimit: sendLimit,
	}
}

func (h *BridgeHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Post("/restart", h.Restart)
	r.Post("/logout", h.Logout)
	r.Post("/presence", h.Presence)
	r.Get("/messages", h.Messages)
	r.Post("/messages/read", h.MarkRead)
	r.Get("/chats", h.Chats)
	r.Get("/groups", h.Groups)
	r.Get("/statuses", h.Statuses)

	if h.sendLimit != nil {
		r.With(h.sendLimit).Post("/send", h.Send)
	} else {
		r.Post("/send", h.Send)
	}

	return r
}

// GET /status
func (h *BridgeHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

// POST /restart
// Tears down the connection and reconnects with the stored credentials.
func (h *BridgeHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.session.Restart()

	log.Info().Msg("session restart requested")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  h.session.Status(),
	})
}

// POST /logout
// Revokes the remote session and wipes credentials. The next restart runs
// a fresh pairing flow.
func (h *BridgeHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()

	log.Info().Msg("session logout requested")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  h.session.Status(),
	})
}

// POST /send
func (h *BridgeHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone   string `json:"phone"`
		GroupID string `json:"groupId"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	msg, err := h.session.Send(r.Context(), session.Target{Phone: req.Phone, GroupID: req.GroupID}, req.Message)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": msg,
	})
}

// POST /presence
func (h *BridgeHandler) Presence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone   string `json:"phone"`
		GroupID string `json:"groupId"`
		State   string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if err := h.session.SendPresence(r.Context(), session.Target{Phone: req.Phone, GroupID: req.GroupID}, req.State); err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /messages?chat=<jid>&limit=<n>
func (h *BridgeHandler) Messages(w http.ResponseWriter, r *http.Request) {
	limit := ParseLimit(r)

	var messages []model.Message
	if chatID := r.URL.Query().Get("chat"); chatID != "" {
		messages = h.session.MessagesByChat(chatID, limit)
	} else {
		messages = h.session.Messages(limit)
	}
	if messages == nil {
		messages = []model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    len(messages),
	})
}

// POST /messages/read
func (h *BridgeHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID     string   `json:"chatId"`
		MessageIDs []string `json:"messageIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if err := h.session.MarkRead(r.Context(), req.ChatID, req.MessageIDs); err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /chats
func (h *BridgeHandler) Chats(w http.ResponseWriter, r *http.Request) {
	chats := h.session.Chats()
	if chats == nil {
		chats = []model.Chat{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chats": chats,
		"total": len(chats),
	})
}

// GET /groups
func (h *BridgeHandler) Groups(w http.ResponseWriter, r *http.Request) {
	groups := h.session.Groups()
	if groups == nil {
		groups = []model.Group{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"total":  len(groups),
	})
}

// GET /statuses
func (h *BridgeHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	statuses := h.session.Statuses(ParseLimit(r))
	if statuses == nil {
		statuses = []model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"statuses": statuses,
		"total":    len(statuses),
	})
}
