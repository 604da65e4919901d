package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
	"github.com/promptforge/promptforge-chat/internal/dispatch"
	"github.com/promptforge/promptforge-chat/internal/notify"
	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
	"github.com/promptforge/promptforge-chat/internal/transport"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testConfig() Config {
	return Config{
		ServerURL:            "fake://agents",
		Persistence:          "memory",
		MessageCap:           100,
		MaxReconnectAttempts: 3,
		BaseReconnectDelay:   5 * time.Millisecond,
		HeartbeatInterval:    time.Hour,
		HeartbeatTimeout:     time.Hour,
		ResponseTimeout:      2 * time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestUnknownPersistenceBackendFails(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence = "punchcards"
	if _, err := NewWithDialer(context.Background(), cfg, transport.NewFakeDialer(), mustTestLogger(t)); err == nil {
		t.Fatalf("unknown backend accepted")
	}
}

func TestFilePersistenceRequiresPath(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence = "file"
	cfg.StatePath = ""
	if _, err := NewWithDialer(context.Background(), cfg, transport.NewFakeDialer(), mustTestLogger(t)); err == nil {
		t.Fatalf("file backend without a path accepted")
	}
}

// End-to-end smoke over the wired subsystem: send, observe the wire,
// deliver a reply, watch the bridge settle.
func TestSendRoundTripThroughWiredApp(t *testing.T) {
	dialer := transport.NewFakeDialer()
	a, err := NewWithDialer(context.Background(), testConfig(), dialer, mustTestLogger(t))
	if err != nil {
		t.Fatalf("NewWithDialer: %v", err)
	}
	t.Cleanup(a.Stop)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "connection", func() bool { return a.Conn.State() == transport.StateConnected })
	if a.Bridge.Snapshot().Banner != notify.BannerNone {
		t.Fatalf("banner shown while connected: %q", a.Bridge.Snapshot().Banner)
	}

	events := make(chan dispatch.Event, 64)
	unsubscribe := a.Dispatcher.Subscribe(func(ev dispatch.Event) { events <- ev })
	defer unsubscribe()

	id, err := a.Dispatcher.Send(context.Background(), "write me a code review prompt", dispatch.SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	user, sessionID, ok := a.Store.FindUserMessage(id)
	if !ok {
		t.Fatalf("sent message missing from store")
	}
	if user.Mode != chat.ModeCreate {
		t.Fatalf("default mode: want=create got=%s", user.Mode)
	}

	waitFor(t, "envelope on the wire", func() bool {
		conn := dialer.LastConn()
		return conn != nil && len(conn.Sent()) == 1
	})
	wire := dialer.LastConn().Sent()[0]
	if wire.Type != transport.EnvelopeUserMessage || wire.Data.SessionID != sessionID.String() {
		t.Fatalf("wire envelope: %+v", wire)
	}

	derr := dialer.LastConn().Deliver(transport.Envelope{
		Type: transport.EnvelopeAgentResponse,
		Data: transport.EnvelopeData{
			Message:   "Review prompt, as requested.",
			Agent:     chat.AgentCreation,
			Mode:      chat.ModeCreate,
			Timestamp: time.Now().UnixMilli(),
			SessionID: sessionID.String(),
		},
	})
	if derr != nil {
		t.Fatalf("deliver: %v", derr)
	}

	deadline := time.After(2 * time.Second)
waitResolved:
	for {
		select {
		case ev := <-events:
			if ev.Type == dispatch.EventMessageResolved && ev.MessageID == id {
				break waitResolved
			}
		case <-deadline:
			t.Fatalf("reply never resolved the send")
		}
	}
	sess, _ := a.Store.Session(sessionID)
	if len(sess.Messages) != 2 {
		t.Fatalf("conversation length: want=2 got=%d", len(sess.Messages))
	}
	waitFor(t, "typing cleared", func() bool {
		return len(a.Bridge.Snapshot().TypingSessions) == 0
	})
}

func TestSessionsSurviveRestartWithSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.Persistence = "sqlite"
	cfg.StatePath = filepath.Join(t.TempDir(), "chat.db")

	a, err := NewWithDialer(context.Background(), cfg, transport.NewFakeDialer(), mustTestLogger(t))
	if err != nil {
		t.Fatalf("first boot: %v", err)
	}
	sess, err := a.Store.CreateSession(chat.AgentQuality, chat.ModeOptimize)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	a.Stop()

	b, err := NewWithDialer(context.Background(), cfg, transport.NewFakeDialer(), mustTestLogger(t))
	if err != nil {
		t.Fatalf("second boot: %v", err)
	}
	t.Cleanup(b.Stop)
	active, ok := b.Store.ActiveSession()
	if !ok || active.ID != sess.ID {
		t.Fatalf("session did not survive restart: ok=%v", ok)
	}
	if active.Agent != chat.AgentQuality || active.Mode != chat.ModeOptimize {
		t.Fatalf("rehydrated session: agent=%s mode=%s", active.Agent, active.Mode)
	}
}
