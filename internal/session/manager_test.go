package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayline/whatsapp-bridge-go/internal/credential"
	apperrors "github.com/stayline/whatsapp-bridge-go/internal/errors"
	"github.com/stayline/whatsapp-bridge-go/internal/model"
	"github.com/stayline/whatsapp-bridge-go/internal/projection"
	"github.com/stayline/whatsapp-bridge-go/internal/repository"
	"github.com/stayline/whatsapp-bridge-go/internal/transport"
)

const closeCodeLost = 428

// fakeTransport is a scriptable stand-in for the gateway connection. Tests
// drive the session by emitting events on it.
type fakeTransport struct {
	mu          sync.Mutex
	events      chan transport.Event
	closed      bool
	loggedOut   bool
	sendErr     error
	markReadErr error
	sentJIDs    []string
	readChats   []string
	nextID      int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 32)}
}

func (t *fakeTransport) Events() <-chan transport.Event { return t.events }

func (t *fakeTransport) SendText(ctx context.Context, jid, text string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return "", t.sendErr
	}
	t.nextID++
	t.sentJIDs = append(t.sentJIDs, jid)
	return fmt.Sprintf("WAMID-%d", t.nextID), nil
}

func (t *fakeTransport) MarkRead(ctx context.Context, chatJID string, messageIDs []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.markReadErr != nil {
		return t.markReadErr
	}
	t.readChats = append(t.readChats, chatJID)
	return nil
}

func (t *fakeTransport) SendPresence(ctx context.Context, jid, state string) error {
	return nil
}

func (t *fakeTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loggedOut = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}

func (t *fakeTransport) emit(ev transport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.events <- ev
}

// fakeDialer hands out fake transports and signals each dial so tests can
// synchronize with reconnect attempts.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	dialed   chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeTransport, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Transport, error) {
	d.mu.Lock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("gateway unreachable")
	}
	d.mu.Unlock()

	tr := newFakeTransport()
	d.dialed <- tr
	return tr, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// memRepo is an in-memory credential store for lifecycle tests.
type memRepo struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemRepo() *memRepo {
	return &memRepo{blobs: make(map[string][]byte)}
}

func (r *memRepo) GetAll(ctx context.Context, prefix string) ([]repository.CredentialBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.CredentialBlob
	for k, v := range r.blobs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, repository.CredentialBlob{Key: k, Content: v})
		}
	}
	return out, nil
}

func (r *memRepo) Get(ctx context.Context, key string) (*repository.CredentialBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if content, ok := r.blobs[key]; ok {
		return &repository.CredentialBlob{Key: key, Content: content}, nil
	}
	return nil, nil
}

func (r *memRepo) Set(ctx context.Context, key string, content []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[key] = content
	return nil
}

func (r *memRepo) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, key)
	return nil
}

func (r *memRepo) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k := range r.blobs {
		if strings.HasPrefix(k, prefix) {
			delete(r.blobs, k)
			n++
		}
	}
	return n, nil
}

func (r *memRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

type fixture struct {
	m      *Manager
	dialer *fakeDialer
	repo   *memRepo
	cache  *credential.Cache
	proj   *projection.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cache, err := credential.NewCache(t.TempDir())
	require.NoError(t, err)
	repo := newMemRepo()
	proj := projection.NewStore(500, 100)
	dialer := newFakeDialer()

	m := NewManager(Options{
		SessionID:             "main_session",
		MaxReconnectAttempts:  3,
		ReconnectBaseDelay:    10 * time.Millisecond,
		PostPairingRetryDelay: 5 * time.Millisecond,
	}, dialer, credential.NewMirror("main_session", cache, repo), proj, nil)
	t.Cleanup(m.Stop)

	return &fixture{m: m, dialer: dialer, repo: repo, cache: cache, proj: proj}
}

func waitDial(t *testing.T, d *fakeDialer) *fakeTransport {
	t.Helper()
	select {
	case tr := <-d.dialed:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func waitPhase(t *testing.T, m *Manager, phase model.SessionPhase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status().Phase == phase
	}, 2*time.Second, 2*time.Millisecond, "waiting for phase %s, at %s", phase, m.Status().Phase)
}

func openEvent() transport.ConnectionEvent {
	return transport.ConnectionEvent{
		State:    transport.ConnStateOpen,
		Identity: &model.Identity{Phone: "8801712345678", Name: "Front Desk"},
	}
}

func closeEvent(code int, reason string) transport.ConnectionEvent {
	return transport.ConnectionEvent{State: transport.ConnStateClose, Code: code, Reason: reason}
}

func inboundMessage(id, text string) transport.MessageEvent {
	content, _ := json.Marshal(map[string]string{"conversation": text})
	return transport.MessageEvent{
		ChatID:    "8801999999999@s.whatsapp.net",
		Sender:    "8801999999999@s.whatsapp.net",
		ID:        id,
		Timestamp: time.Now(),
		Content:   content,
	}
}

func TestPairingFlow(t *testing.T) {
	f := newFixture(t)

	f.m.Start()
	tr := waitDial(t, f.dialer)

	tr.emit(transport.ConnectionEvent{QR: "2@pairing-challenge"})
	waitPhase(t, f.m, model.PhasePairing)
	assert.Equal(t, "2@pairing-challenge", f.m.Status().PairingCode)

	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	status := f.m.Status()
	assert.Empty(t, status.PairingCode)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 0, status.ReconnectAttempts)
	require.NotNil(t, status.Identity)
	assert.Equal(t, "8801712345678", status.Identity.Phone)
}

func TestStartAbsorbsConcurrentCalls(t *testing.T) {
	f := newFixture(t)

	f.m.Start()
	f.m.Start()
	f.m.Start()

	tr := waitDial(t, f.dialer)
	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	assert.Equal(t, 1, f.dialer.dialCount())
}

func TestRecoverableClosureRetriesUntilBudgetExhausted(t *testing.T) {
	f := newFixture(t)

	f.m.Start()
	tr := waitDial(t, f.dialer)
	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	tr.emit(closeEvent(closeCodeLost, "connection lost"))
	tr2 := waitDial(t, f.dialer)
	assert.Equal(t, 1, f.m.Status().ReconnectAttempts)

	tr2.emit(closeEvent(closeCodeLost, "connection lost"))
	tr3 := waitDial(t, f.dialer)
	assert.Equal(t, 2, f.m.Status().ReconnectAttempts)

	tr3.emit(closeEvent(closeCodeLost, "connection lost"))
	waitPhase(t, f.m, model.PhaseError)

	status := f.m.Status()
	assert.Equal(t, 3, status.ReconnectAttempts)
	assert.Equal(t, "connection lost", status.LastError)

	// settled in error phase, no further dial
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, f.dialer.dialCount())
}

func TestDialFailuresConsumeRetryBudget(t *testing.T) {
	f := newFixture(t)
	f.dialer.failures = 3

	f.m.Start()
	waitPhase(t, f.m, model.PhaseError)

	status := f.m.Status()
	assert.Equal(t, 3, status.ReconnectAttempts)
	assert.Contains(t, status.LastError, "handshake failed")
	assert.Equal(t, 3, f.dialer.dialCount())
}

func TestRestartRequiredReinitializesWithoutCounting(t *testing.T) {
	f := newFixture(t)

	f.m.Start()
	tr := waitDial(t, f.dialer)
	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	tr.emit(closeEvent(transport.CodeRestartRequired, "restart required"))
	tr2 := waitDial(t, f.dialer)

	assert.Equal(t, 0, f.m.Status().ReconnectAttempts)

	tr2.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)
	assert.Equal(t, 0, f.m.Status().ReconnectAttempts)
}

func TestLoggedOutWipesCredentialsAndRests(t *testing.T) {
	f := newFixture(t)

	f.m.Start()
	tr := waitDial(t, f.dialer)
	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	tr.emit(transport.CredentialEvent{Filename: "creds.json", Content: []byte(`{"registered":true}`)})
	tr.emit(inboundMessage("M1", "hello"))
	require.Eventually(t, func() bool { return f.repo.size() == 1 }, 2*time.Second, 2*time.Millisecond)

	tr.emit(closeEvent(transport.CodeLoggedOut, "logged out"))
	waitPhase(t, f.m, model.PhaseDisconnected)

	status := f.m.Status()
	assert.Equal(t, 0, status.ReconnectAttempts)
	assert.Empty(t, status.LastError)
	assert.Nil(t, status.Identity)

	assert.Equal(t, 0, f.repo.size())
	files, err := f.cache.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, projection.Counts{}, f.proj.Counts())

	// logged-out never reconnects on its own
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.dialCount())
}

func TestRestoreRehydratesCacheBeforeDial(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Set(context.Background(), "main_session_file_creds.json", []byte("v1")))

	f.m.Start()
	waitDial(t, f.dialer)

	files, err := f.cache.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), files["creds.json"])
}

func TestRestartResetsBudgetAndCredentialsSurvive(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.Set(context.Background(), "main_session_file_creds.json", []byte("v1")))
	f.dialer.failures = 3

	f.m.Start()
	waitPhase(t, f.m, model.PhaseError)

	f.m.Restart()
	tr := waitDial(t, f.dialer)
	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	assert.Equal(t, 0, f.m.Status().ReconnectAttempts)
	assert.Equal(t, 1, f.repo.size())
}

func TestLogout(t *testing.T) {
	f := newFixture(t)

	f.m.Start()
	tr := waitDial(t, f.dialer)
	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	tr.emit(transport.CredentialEvent{Filename: "creds.json", Content: []byte("v1")})
	tr.emit(inboundMessage("M1", "hello"))
	require.Eventually(t, func() bool { return f.repo.size() == 1 }, 2*time.Second, 2*time.Millisecond)

	f.m.Logout()
	waitPhase(t, f.m, model.PhaseDisconnected)

	assert.True(t, tr.loggedOut)
	assert.Equal(t, 0, f.repo.size())
	assert.Equal(t, projection.Counts{}, f.proj.Counts())

	// stays down until an explicit start
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.dialCount())
}

func TestInboundMessageReachesProjection(t *testing.T) {
	f := newFixture(t)

	f.m.Start()
	tr := waitDial(t, f.dialer)
	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	tr.emit(inboundMessage("M1", "is the pool open?"))
	require.Eventually(t, func() bool { return len(f.m.Messages(0)) == 1 }, 2*time.Second, 2*time.Millisecond)

	msgs := f.m.Messages(0)
	assert.Equal(t, "is the pool open?", msgs[0].Text)
	assert.Equal(t, model.DirectionInbound, msgs[0].Direction)

	chats := f.m.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, 1, chats[0].UnreadCount)
}

func TestSend(t *testing.T) {
	connect := func(t *testing.T) (*fixture, *fakeTransport) {
		f := newFixture(t)
		f.m.Start()
		tr := waitDial(t, f.dialer)
		tr.emit(openEvent())
		waitPhase(t, f.m, model.PhaseConnected)
		return f, tr
	}

	t.Run("sends to phone target and projects outbound echo", func(t *testing.T) {
		f, tr := connect(t)

		msg, err := f.m.Send(context.Background(), Target{Phone: "+880 1999-999999"}, "your room is ready")
		require.NoError(t, err)
		assert.Equal(t, "WAMID-1", msg.ID)
		assert.Equal(t, model.DirectionOutbound, msg.Direction)

		tr.mu.Lock()
		sent := append([]string(nil), tr.sentJIDs...)
		tr.mu.Unlock()
		require.Len(t, sent, 1)
		assert.Equal(t, "8801999999999@s.whatsapp.net", sent[0])

		msgs := f.m.Messages(0)
		require.Len(t, msgs, 1)
		assert.Equal(t, model.StatusSent, msgs[0].Status)
		assert.Equal(t, 0, f.m.Chats()[0].UnreadCount)
	})

	t.Run("sends to group target", func(t *testing.T) {
		f, tr := connect(t)

		_, err := f.m.Send(context.Background(), Target{GroupID: "120363041234567890"}, "staff meeting at 5")
		require.NoError(t, err)

		tr.mu.Lock()
		defer tr.mu.Unlock()
		assert.Equal(t, "120363041234567890@g.us", tr.sentJIDs[0])
	})

	t.Run("rejects both targets", func(t *testing.T) {
		f, _ := connect(t)
		_, err := f.m.Send(context.Background(), Target{Phone: "8801999999999", GroupID: "g1"}, "hi")
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
	})

	t.Run("rejects missing target", func(t *testing.T) {
		f, _ := connect(t)
		_, err := f.m.Send(context.Background(), Target{}, "hi")
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
	})

	t.Run("rejects invalid phone", func(t *testing.T) {
		f, _ := connect(t)
		_, err := f.m.Send(context.Background(), Target{Phone: "12345"}, "hi")
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
	})

	t.Run("rejects empty message", func(t *testing.T) {
		f, _ := connect(t)
		_, err := f.m.Send(context.Background(), Target{Phone: "8801999999999"}, "")
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
	})

	t.Run("wraps transport rejection", func(t *testing.T) {
		f, tr := connect(t)
		tr.mu.Lock()
		tr.sendErr = errors.New("rate limited")
		tr.mu.Unlock()

		_, err := f.m.Send(context.Background(), Target{Phone: "8801999999999"}, "hi")
		assert.Equal(t, apperrors.ErrCodeSendFailed, apperrors.GetCode(err))
		assert.Empty(t, f.m.Messages(0))
	})
}

func TestFacadeRequiresConnectedPhase(t *testing.T) {
	t.Run("while disconnected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.m.Send(context.Background(), Target{Phone: "8801999999999"}, "hi")
		assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))

		err = f.m.MarkRead(context.Background(), "8801999999999@s.whatsapp.net", []string{"M1"})
		assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))

		err = f.m.SendPresence(context.Background(), Target{Phone: "8801999999999"}, "composing")
		assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))
	})

	t.Run("while pairing", func(t *testing.T) {
		f := newFixture(t)
		f.m.Start()
		tr := waitDial(t, f.dialer)
		tr.emit(transport.ConnectionEvent{QR: "2@pairing-challenge"})
		waitPhase(t, f.m, model.PhasePairing)

		_, err := f.m.Send(context.Background(), Target{Phone: "8801999999999"}, "hi")
		assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))
	})

	t.Run("while in error phase", func(t *testing.T) {
		f := newFixture(t)
		f.dialer.failures = 3
		f.m.Start()
		waitPhase(t, f.m, model.PhaseError)

		_, err := f.m.Send(context.Background(), Target{Phone: "8801999999999"}, "hi")
		assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))
	})
}

func TestMarkRead(t *testing.T) {
	t.Run("settles unread count", func(t *testing.T) {
		f := newFixture(t)
		f.m.Start()
		tr := waitDial(t, f.dialer)
		tr.emit(openEvent())
		waitPhase(t, f.m, model.PhaseConnected)

		tr.emit(inboundMessage("M1", "hello"))
		require.Eventually(t, func() bool { return len(f.m.Messages(0)) == 1 }, 2*time.Second, 2*time.Millisecond)

		err := f.m.MarkRead(context.Background(), "8801999999999@s.whatsapp.net", []string{"M1"})
		require.NoError(t, err)
		assert.Equal(t, 0, f.m.Chats()[0].UnreadCount)
	})

	t.Run("marks locally even when remote receipt fails", func(t *testing.T) {
		f := newFixture(t)
		f.m.Start()
		tr := waitDial(t, f.dialer)
		tr.emit(openEvent())
		waitPhase(t, f.m, model.PhaseConnected)

		tr.emit(inboundMessage("M1", "hello"))
		require.Eventually(t, func() bool { return len(f.m.Messages(0)) == 1 }, 2*time.Second, 2*time.Millisecond)

		tr.mu.Lock()
		tr.markReadErr = errors.New("gateway busy")
		tr.mu.Unlock()

		err := f.m.MarkRead(context.Background(), "8801999999999@s.whatsapp.net", []string{"M1"})
		require.NoError(t, err)
		assert.Equal(t, 0, f.m.Chats()[0].UnreadCount)
	})

	t.Run("validates arguments", func(t *testing.T) {
		f := newFixture(t)
		err := f.m.MarkRead(context.Background(), "", []string{"M1"})
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))

		err = f.m.MarkRead(context.Background(), "chat", nil)
		assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
	})
}

func TestSendPresenceValidatesState(t *testing.T) {
	f := newFixture(t)
	err := f.m.SendPresence(context.Background(), Target{Phone: "8801999999999"}, "dancing")
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, apperrors.GetCode(err))
}

func TestGroupRosterEvents(t *testing.T) {
	f := newFixture(t)
	f.m.Start()
	tr := waitDial(t, f.dialer)
	tr.emit(openEvent())
	waitPhase(t, f.m, model.PhaseConnected)

	tr.emit(transport.GroupsEvent{Groups: []model.Group{
		{ID: "g1@g.us", Subject: "Housekeeping", Participants: 5},
	}})
	require.Eventually(t, func() bool { return len(f.m.Groups()) == 1 }, 2*time.Second, 2*time.Millisecond)

	tr.emit(transport.GroupPatchEvent{ID: "g1@g.us", Subject: "Housekeeping Team"})
	require.Eventually(t, func() bool {
		groups := f.m.Groups()
		return len(groups) == 1 && groups[0].Subject == "Housekeeping Team"
	}, 2*time.Second, 2*time.Millisecond)
}

func TestNotifierReceivesPhaseEvents(t *testing.T) {
	cache, err := credential.NewCache(t.TempDir())
	require.NoError(t, err)
	dialer := newFakeDialer()

	var mu sync.Mutex
	var types []string
	notifier := NotifierFunc(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, ev.Type)
	})

	m := NewManager(Options{
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   10 * time.Millisecond,
	}, dialer, credential.NewMirror("main_session", cache, newMemRepo()), projection.NewStore(500, 100), notifier)
	t.Cleanup(m.Stop)

	m.Start()
	tr := waitDial(t, dialer)
	tr.emit(transport.ConnectionEvent{QR: "2@challenge"})
	tr.emit(openEvent())
	waitPhase(t, m, model.PhaseConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, types, EventPhase)
	assert.Contains(t, types, EventPairing)
}
