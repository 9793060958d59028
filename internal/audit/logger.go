// Package audit emits structured lifecycle audit events. The session's
// phase transitions are the security-relevant history of this service:
// who paired, when credentials were wiped, why the connection dropped.
package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventPairingStarted   EventType = "pairing_started"
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventReconnectSched   EventType = "reconnect_scheduled"
	EventBudgetExhausted  EventType = "retry_budget_exhausted"
	EventLoggedOut        EventType = "logged_out"
	EventCredentialWipe   EventType = "credential_wipe"
	EventRestartRequested EventType = "restart_requested"
	EventLogoutRequested  EventType = "logout_requested"
)

type Event struct {
	Type    EventType
	Phase   string
	Attempt int
	Code    int
	Details map[string]interface{}
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "session").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.Phase != "" {
		logger = logger.With().Str("phase", event.Phase).Logger()
	}
	if event.Attempt > 0 {
		logger = logger.With().Int("attempt", event.Attempt).Logger()
	}
	if event.Code != 0 {
		logger = logger.With().Int("close_code", event.Code).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("session audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
