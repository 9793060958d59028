// Package session owns the singleton connection lifecycle: pairing,
// credential restore, the reconnection policy and the read-side facade.
// One manager runs per process; everything else observes it.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stayline/whatsapp-bridge-go/internal/audit"
	"github.com/stayline/whatsapp-bridge-go/internal/config"
	"github.com/stayline/whatsapp-bridge-go/internal/credential"
	"github.com/stayline/whatsapp-bridge-go/internal/model"
	"github.com/stayline/whatsapp-bridge-go/internal/projection"
	"github.com/stayline/whatsapp-bridge-go/internal/transport"
)

// Options tunes the reconnection policy. Zero values fall back to the
// deployment defaults.
type Options struct {
	SessionID             string
	MaxReconnectAttempts  int
	ReconnectBaseDelay    time.Duration
	PostPairingRetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionID == "" {
		o.SessionID = "main_session"
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 3
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = 5 * time.Second
	}
	if o.PostPairingRetryDelay <= 0 {
		o.PostPairingRetryDelay = config.PostPairingRetryDelay
	}
	return o
}

// Manager drives the session state machine. All mutation happens under mu;
// a generation counter fences the dial goroutine, the event dispatch loop
// and every scheduled retry, so anything superseded by a restart, logout or
// later closure goes inert instead of racing the current attempt.
type Manager struct {
	opts     Options
	dialer   transport.Dialer
	mirror   *credential.Mirror
	proj     *projection.Store
	notifier Notifier

	mu              sync.Mutex
	sess            model.Session
	tr              transport.Transport
	generation      uint64
	connecting      bool
	retryTimer      *time.Timer
	lastCloseReason string
	recentlyPaired  bool
}

func NewManager(opts Options, dialer transport.Dialer, mirror *credential.Mirror, proj *projection.Store, notifier Notifier) *Manager {
	return &Manager{
		opts:     opts.withDefaults(),
		dialer:   dialer,
		mirror:   mirror,
		proj:     proj,
		notifier: notifier,
		sess:     model.Session{Phase: model.PhaseDisconnected},
	}
}

// Start begins a connection attempt unless one is already in flight, in
// which case the call is absorbed without stacking a second attempt. When
// the retry budget is already spent the session settles in the error phase
// until an explicit restart.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		log.Debug().Msg("start ignored: connection attempt already in flight")
		return
	}
	if m.sess.ReconnectAttempts >= m.opts.MaxReconnectAttempts {
		m.sess.Phase = model.PhaseError
		m.sess.PairingCode = ""
		m.sess.Identity = nil
		if m.lastCloseReason != "" {
			m.sess.LastError = m.lastCloseReason
		} else {
			m.sess.LastError = "reconnect attempts exhausted"
		}
		attempts := m.sess.ReconnectAttempts
		m.mu.Unlock()

		log.Error().Int("attempts", attempts).Msg("reconnect budget exhausted, manual restart required")
		audit.Log(audit.Event{Type: audit.EventBudgetExhausted, Phase: string(model.PhaseError), Attempt: attempts})
		m.notifyPhase()
		return
	}

	m.connecting = true
	m.generation++
	gen := m.generation
	m.cancelRetryTimerLocked()
	m.sess.Phase = model.PhaseInitializing
	m.sess.PairingCode = ""
	m.sess.Identity = nil
	m.sess.LastError = ""
	attempt := m.sess.ReconnectAttempts
	m.mu.Unlock()

	m.notifyPhase()
	go m.connect(gen, attempt)
}

// Restart tears down whatever is in flight, resets the retry budget and
// begins a fresh attempt. Credentials are untouched; a restored session
// reconnects without pairing.
func (m *Manager) Restart() {
	m.mu.Lock()
	m.generation++
	m.cancelRetryTimerLocked()
	tr := m.tr
	m.tr = nil
	m.connecting = false
	m.sess = model.Session{Phase: model.PhaseInitializing}
	m.lastCloseReason = ""
	m.recentlyPaired = false
	m.mu.Unlock()

	closeTransport(tr)
	audit.Log(audit.Event{Type: audit.EventRestartRequested, Phase: string(model.PhaseInitializing)})
	m.Start()
}

// Logout revokes the remote session best-effort, wipes credential material
// everywhere and drops the projection. The session rests in the
// disconnected phase; the next start runs a fresh pairing flow.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.generation++
	m.cancelRetryTimerLocked()
	tr := m.tr
	m.tr = nil
	m.connecting = false
	m.sess = model.Session{Phase: model.PhaseDisconnected}
	m.lastCloseReason = ""
	m.recentlyPaired = false
	m.mu.Unlock()

	if tr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), config.CredentialWipeTimeout)
		if err := tr.Logout(ctx); err != nil {
			log.Warn().Err(err).Msg("remote logout failed, proceeding with local wipe")
		}
		cancel()
		closeTransport(tr)
	}

	m.wipeCredentials()
	m.proj.Clear()

	audit.Log(audit.Event{Type: audit.EventLogoutRequested, Phase: string(model.PhaseDisconnected)})
	m.notifyPhase()
}

// Stop tears down the live transport and cancels pending retries without
// touching credentials. Used on process shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.generation++
	m.cancelRetryTimerLocked()
	tr := m.tr
	m.tr = nil
	m.connecting = false
	if m.sess.Phase != model.PhaseError {
		m.sess.Phase = model.PhaseDisconnected
	}
	m.sess.PairingCode = ""
	m.sess.Identity = nil
	m.mu.Unlock()

	closeTransport(tr)
}

// connect runs one attempt end to end: restore credentials, dial the
// gateway, then pump its event stream until the connection dies or the
// attempt is superseded.
func (m *Manager) connect(gen uint64, attempt int) {
	log.Info().Int("attempt", attempt+1).Str("session_id", m.opts.SessionID).Msg("initializing session")

	restoreCtx, cancel := context.WithTimeout(context.Background(), config.CredentialRestoreTimeout)
	restored, err := m.mirror.Restore(restoreCtx)
	cancel()
	if err != nil {
		// A failed restore degrades to a fresh pairing flow rather than
		// blocking the attempt.
		log.Error().Err(err).Msg("credential restore failed, continuing without stored credentials")
	} else if restored > 0 {
		log.Info().Int("files", restored).Msg("credentials restored from durable store")
	}

	tr, err := m.dialer.Dial(context.Background())
	if err != nil {
		m.handleConnectError(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		closeTransport(tr)
		return
	}
	m.tr = tr
	m.mu.Unlock()

	for ev := range tr.Events() {
		if !m.isCurrent(gen) {
			return
		}
		switch e := ev.(type) {
		case transport.ConnectionEvent:
			m.handleConnection(gen, e)
		case transport.MessageEvent:
			m.handleMessage(e)
		case transport.ReceiptEvent:
			if changed := m.proj.ApplyReceipt(e.ChatID, e.MessageIDs, e.Status); changed > 0 {
				m.notify(EventReceipt, e)
			}
		case transport.GroupsEvent:
			m.proj.ReplaceGroups(e.Groups)
			log.Info().Int("groups", len(e.Groups)).Msg("group roster refreshed")
			m.notify(EventGroups, e.Groups)
		case transport.GroupPatchEvent:
			m.proj.PatchGroupSubject(e.ID, e.Subject)
		case transport.CredentialEvent:
			m.handleCredential(e)
		}
	}
}

func (m *Manager) handleConnection(gen uint64, e transport.ConnectionEvent) {
	if e.QR != "" {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.sess.Phase = model.PhasePairing
		m.sess.PairingCode = e.QR
		m.sess.ReconnectAttempts = 0
		m.connecting = false
		m.mu.Unlock()

		log.Info().Msg("pairing challenge received, waiting for scan")
		audit.Log(audit.Event{Type: audit.EventPairingStarted, Phase: string(model.PhasePairing)})
		m.notify(EventPairing, nil)
		m.notifyPhase()
	}

	switch e.State {
	case transport.ConnStateConnecting:
		m.mu.Lock()
		if gen != m.generation || m.sess.Phase == model.PhasePairing {
			m.mu.Unlock()
			return
		}
		m.sess.Phase = model.PhaseConnecting
		m.mu.Unlock()
		m.notifyPhase()

	case transport.ConnStateOpen:
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.recentlyPaired = m.sess.Phase == model.PhasePairing
		m.sess.Phase = model.PhaseConnected
		m.sess.PairingCode = ""
		m.sess.LastError = ""
		m.sess.ReconnectAttempts = 0
		m.sess.Identity = e.Identity
		m.connecting = false
		identity := e.Identity
		m.mu.Unlock()

		phone := ""
		if identity != nil {
			phone = identity.Phone
		}
		log.Info().Str("phone", phone).Msg("session connected")
		audit.Log(audit.Event{Type: audit.EventConnected, Phase: string(model.PhaseConnected), Details: map[string]interface{}{"phone": phone}})
		m.notifyPhase()

	case transport.ConnStateClose:
		m.handleClose(gen, e)
	}
}

// handleClose classifies the closure and applies the reconnection policy:
// logged-out wipes and rests, restart-required re-initializes immediately
// without consuming the budget, everything else retries on a linearly
// growing delay until the budget runs out.
func (m *Manager) handleClose(gen uint64, e transport.ConnectionEvent) {
	cause := transport.ClassifyClose(e.Code)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	newGen := m.generation
	m.connecting = false
	tr := m.tr
	m.tr = nil

	reason := e.Reason
	if reason == "" {
		reason = fmt.Sprintf("connection closed (code %d)", e.Code)
	}
	m.lastCloseReason = reason

	log.Warn().Int("code", e.Code).Str("cause", cause.String()).Str("reason", reason).Msg("connection closed")
	audit.Log(audit.Event{Type: audit.EventDisconnected, Code: e.Code, Details: map[string]interface{}{"cause": cause.String()}})

	switch cause {
	case transport.CauseLoggedOut:
		m.sess = model.Session{Phase: model.PhaseDisconnected}
		m.lastCloseReason = ""
		m.recentlyPaired = false
		m.mu.Unlock()

		closeTransport(tr)
		log.Info().Msg("session revoked by remote, wiping credentials")
		m.wipeCredentials()
		m.proj.Clear()
		audit.Log(audit.Event{Type: audit.EventLoggedOut, Phase: string(model.PhaseDisconnected), Code: e.Code})
		m.notifyPhase()

	case transport.CauseRestartRequired:
		m.sess.Phase = model.PhaseInitializing
		m.sess.LastError = ""
		m.scheduleStartLocked(newGen, 0)
		m.mu.Unlock()

		closeTransport(tr)
		log.Info().Msg("protocol restart required, re-initializing")
		m.notifyPhase()

	default:
		if m.sess.ReconnectAttempts < m.opts.MaxReconnectAttempts {
			m.sess.ReconnectAttempts++
			attempt := m.sess.ReconnectAttempts
			m.sess.Phase = model.PhaseReconnecting
			m.sess.LastError = reason
			m.sess.Identity = nil

			delay := time.Duration(attempt) * m.opts.ReconnectBaseDelay
			if attempt == 1 && m.recentlyPaired {
				delay = m.opts.PostPairingRetryDelay
			}
			m.recentlyPaired = false
			m.scheduleStartLocked(newGen, delay)
			m.mu.Unlock()

			closeTransport(tr)
			log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
			audit.Log(audit.Event{Type: audit.EventReconnectSched, Phase: string(model.PhaseReconnecting), Attempt: attempt})
			m.notifyPhase()
			return
		}

		m.sess.Phase = model.PhaseError
		m.sess.LastError = reason
		m.sess.Identity = nil
		attempts := m.sess.ReconnectAttempts
		m.mu.Unlock()

		closeTransport(tr)
		log.Error().Int("attempts", attempts).Msg("reconnect budget exhausted, manual restart required")
		audit.Log(audit.Event{Type: audit.EventBudgetExhausted, Phase: string(model.PhaseError), Attempt: attempts})
		m.notifyPhase()
	}
}

// handleConnectError covers dial failures, which never had a close code.
// They count against the same budget as recoverable closures.
func (m *Manager) handleConnectError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	newGen := m.generation
	m.connecting = false
	m.sess.ReconnectAttempts++
	attempts := m.sess.ReconnectAttempts
	m.sess.LastError = fmt.Sprintf("handshake failed: %v", err)
	m.lastCloseReason = m.sess.LastError

	if attempts < m.opts.MaxReconnectAttempts {
		m.sess.Phase = model.PhaseReconnecting
		m.scheduleStartLocked(newGen, m.opts.ReconnectBaseDelay)
		m.mu.Unlock()

		log.Warn().Err(err).Int("attempt", attempts).Msg("gateway dial failed, reconnect scheduled")
		audit.Log(audit.Event{Type: audit.EventReconnectSched, Phase: string(model.PhaseReconnecting), Attempt: attempts})
		m.notifyPhase()
		return
	}

	m.sess.Phase = model.PhaseError
	m.mu.Unlock()

	log.Error().Err(err).Int("attempts", attempts).Msg("gateway dial failed, reconnect budget exhausted")
	audit.Log(audit.Event{Type: audit.EventBudgetExhausted, Phase: string(model.PhaseError), Attempt: attempts})
	m.notifyPhase()
}

func (m *Manager) handleMessage(e transport.MessageEvent) {
	msg := m.proj.ApplyMessage(projection.MessageInput{
		ChatID:    e.ChatID,
		ChatName:  e.ChatName,
		Sender:    e.Sender,
		ID:        e.ID,
		FromMe:    e.FromMe,
		Timestamp: e.Timestamp,
		Content:   e.Content,
	})

	log.Debug().
		Str("chat_id", msg.ChatID).
		Str("message_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Msg("message projected")
	m.notify(EventMessage, msg)
}

// handleCredential persists updated credential material on the dispatch
// path. Failures are logged, not fatal: the session keeps running, but a
// restart may need a fresh pairing.
func (m *Manager) handleCredential(e transport.CredentialEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), config.CredentialBackupTimeout)
	defer cancel()

	if err := m.mirror.Save(ctx, e.Filename, e.Content); err != nil {
		log.Error().Err(err).Str("filename", e.Filename).Msg("credential persistence failed, continuity after restart at risk")
	}
}

func (m *Manager) wipeCredentials() {
	ctx, cancel := context.WithTimeout(context.Background(), config.CredentialWipeTimeout)
	defer cancel()

	if err := m.mirror.Wipe(ctx); err != nil {
		log.Error().Err(err).Msg("credential wipe incomplete")
	}
	audit.Log(audit.Event{Type: audit.EventCredentialWipe})
}

// scheduleStartLocked arms the single retry timer. Callers hold m.mu. The
// fired callback re-checks the generation so a timer that lost a race with
// restart, logout or a newer closure does nothing.
func (m *Manager) scheduleStartLocked(gen uint64, delay time.Duration) {
	m.cancelRetryTimerLocked()
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.retryTimer = nil
		m.mu.Unlock()
		m.Start()
	})
}

func (m *Manager) cancelRetryTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) snapshot() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sess
	if m.sess.Identity != nil {
		identity := *m.sess.Identity
		sess.Identity = &identity
	}
	return sess
}

func (m *Manager) notify(eventType string, data any) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(Event{Type: eventType, Data: data})
}

func (m *Manager) notifyPhase() {
	m.notify(EventPhase, m.snapshot())
}

func closeTransport(tr transport.Transport) {
	if tr == nil {
		return
	}
	if err := tr.Close(); err != nil {
		log.Debug().Err(err).Msg("transport close")
	}
}
