package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/promptforge/promptforge-chat/internal/pkg/errors"
	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
	"github.com/promptforge/promptforge-chat/internal/pkg/timeutil"
)

// State is the connection lifecycle state. The manager is its single
// writer.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

type EventType string

const (
	// EventStateChanged carries the new state and, for failures, the
	// reconnect attempt count.
	EventStateChanged EventType = "state_changed"
	// EventEnvelope is an inbound envelope, dispatched in arrival order.
	EventEnvelope EventType = "envelope"
	// EventEnvelopeSent confirms an envelope was handed to the transport,
	// either directly or from the offline outbox.
	EventEnvelopeSent EventType = "envelope_sent"
	// EventDiagnostic reports dropped malformed frames.
	EventDiagnostic EventType = "diagnostic"
)

type Event struct {
	Type     EventType
	State    State
	Attempt  int
	Envelope *Envelope
	Err      error
}

type Config struct {
	URL                  string
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.BaseReconnectDelay <= 0 {
		c.BaseReconnectDelay = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	return c
}

// Manager owns a single bidirectional connection: connect, heartbeat,
// reconnect with exponential backoff, and an in-memory FIFO outbox for
// envelopes submitted while offline. One instance per client process,
// injected where needed; lifecycle is Connect/Dispose, not package init.
type Manager struct {
	cfg    Config
	dialer Dialer
	log    *logger.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	conn      Conn
	connGen   int
	outbox    []Envelope
	subs      map[int]func(Event)
	nextSubID int
	disposed  bool

	reconnectTimer *timeutil.Timer
	heartbeatTimer *timeutil.Timer
	ackTimer       *timeutil.Timer
}

func NewManager(cfg Config, dialer Dialer, log *logger.Logger) *Manager {
	return &Manager{
		cfg:            cfg.withDefaults(),
		dialer:         dialer,
		log:            log.With("component", "ConnectionManager"),
		state:          StateDisconnected,
		subs:           make(map[int]func(Event)),
		reconnectTimer: timeutil.NewTimer(),
		heartbeatTimer: timeutil.NewTimer(),
		ackTimer:       timeutil.NewTimer(),
	}
}

// Subscribe registers an observer for manager events and returns its
// unsubscribe function. Unsubscribing is synchronous and immediate.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) QueuedEnvelopes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbox)
}

// Connect starts dialing asynchronously. It is a no-op while already
// connecting or connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return apperrors.ErrDisposed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	attempt := m.attempts
	m.mu.Unlock()

	m.emit(Event{Type: EventStateChanged, State: StateConnecting, Attempt: attempt})
	go m.dial(ctx)
	return nil
}

// Reconnect resets the attempt counter and connects again. Required
// after the backoff cap leaves the manager in a terminal error state.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return apperrors.ErrDisposed
	}
	m.attempts = 0
	m.mu.Unlock()
	return m.Connect(ctx)
}

func (m *Manager) dial(ctx context.Context) {
	conn, err := m.dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.dialFailed(ctx, err)
		return
	}

	m.mu.Lock()
	if m.disposed || m.state != StateConnecting {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.connGen++
	gen := m.connGen
	m.state = StateConnected
	m.attempts = 0

	// Flush the outbox in original order before releasing the lock, so
	// sends racing the flush queue behind it rather than jumping ahead.
	var flushed []Envelope
	var writeErr error
	for len(m.outbox) > 0 {
		env := m.outbox[0]
		if writeErr = writeConn(conn, env); writeErr != nil {
			break
		}
		m.outbox = m.outbox[1:]
		flushed = append(flushed, env)
	}
	m.mu.Unlock()

	m.log.Info("Connected", "url", m.cfg.URL, "flushed", len(flushed))
	m.emit(Event{Type: EventStateChanged, State: StateConnected})
	for i := range flushed {
		m.emit(Event{Type: EventEnvelopeSent, Envelope: &flushed[i]})
	}
	if writeErr != nil {
		m.connectionLost(gen, writeErr)
		return
	}
	m.scheduleHeartbeat(gen)
	go m.readLoop(conn, gen)
}

func (m *Manager) dialFailed(ctx context.Context, err error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	m.state = StateError
	terminal := attempt >= m.cfg.MaxReconnectAttempts
	m.mu.Unlock()

	connErr := &apperrors.ConnectionError{Attempt: attempt, Err: err}
	m.emit(Event{Type: EventStateChanged, State: StateError, Attempt: attempt, Err: connErr})
	if terminal {
		m.log.Error("Reconnect attempts exhausted", "attempts", attempt, "error", err)
		return
	}
	delay := m.cfg.BaseReconnectDelay << (attempt - 1)
	m.log.Warn("Connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	m.reconnectTimer.Start(delay, func() {
		_ = m.Connect(ctx)
	})
}

// connectionLost handles unexpected drops: read errors, write errors
// and missed heartbeat acks. Stale generations are ignored so a dead
// read loop cannot tear down its successor.
func (m *Manager) connectionLost(gen int, err error) {
	m.mu.Lock()
	if m.disposed || gen != m.connGen || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.connGen++
	m.state = StateDisconnected
	m.mu.Unlock()

	_ = conn.Close()
	m.heartbeatTimer.Cancel()
	m.ackTimer.Cancel()

	m.log.Warn("Connection lost", "error", err)
	m.emit(Event{Type: EventStateChanged, State: StateDisconnected, Err: err})
	m.reconnectTimer.Start(m.cfg.BaseReconnectDelay, func() {
		_ = m.Connect(context.Background())
	})
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(gen, err)
			return
		}
		m.mu.Lock()
		stale := gen != m.connGen
		m.mu.Unlock()
		if stale {
			return
		}

		env, derr := DecodeEnvelope(data)
		if derr != nil {
			m.log.Warn("Dropping malformed frame", "error", derr)
			m.emit(Event{Type: EventDiagnostic, Err: derr})
			continue
		}
		switch env.Type {
		case EnvelopePong:
			m.ackTimer.Cancel()
		case EnvelopePing:
			_ = m.Send(Envelope{Type: EnvelopePong, Data: EnvelopeData{Timestamp: time.Now().UnixMilli()}})
		default:
			e := env
			m.emit(Event{Type: EventEnvelope, Envelope: &e})
		}
	}
}

func (m *Manager) scheduleHeartbeat(gen int) {
	m.heartbeatTimer.Start(m.cfg.HeartbeatInterval, func() {
		m.heartbeat(gen)
	})
}

func (m *Manager) heartbeat(gen int) {
	m.mu.Lock()
	if m.disposed || gen != m.connGen || m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	err := writeConn(conn, Envelope{Type: EnvelopePing, Data: EnvelopeData{Timestamp: time.Now().UnixMilli()}})
	m.mu.Unlock()
	if err != nil {
		m.connectionLost(gen, err)
		return
	}
	m.ackTimer.Start(m.cfg.HeartbeatTimeout, func() {
		m.connectionLost(gen, fmt.Errorf("heartbeat: no ack within %s", m.cfg.HeartbeatTimeout))
	})
	m.scheduleHeartbeat(gen)
}

// Send transmits an envelope, or queues it FIFO if the connection is
// not up. It never fails on connection state; queued envelopes are
// flushed in order on the next successful connect.
func (m *Manager) Send(env Envelope) error {
	if !env.Type.Valid() {
		return fmt.Errorf("send: unknown envelope type %q", env.Type)
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return apperrors.ErrDisposed
	}
	if m.state != StateConnected || m.conn == nil {
		m.outbox = append(m.outbox, env)
		queued := len(m.outbox)
		m.mu.Unlock()
		m.log.Debug("Envelope queued while offline", "type", env.Type, "queued", queued)
		return nil
	}
	conn := m.conn
	gen := m.connGen
	err := writeConn(conn, env)
	if err != nil {
		m.outbox = append(m.outbox, env)
		m.mu.Unlock()
		m.connectionLost(gen, err)
		return nil
	}
	m.mu.Unlock()
	m.emit(Event{Type: EventEnvelopeSent, Envelope: &env})
	return nil
}

func writeConn(conn Conn, env Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	return conn.WriteMessage(raw)
}

// Disconnect closes the connection and cancels all timers. No
// automatic reconnect follows; the outbox is retained.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.connGen++
	prev := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	m.reconnectTimer.Cancel()
	m.heartbeatTimer.Cancel()
	m.ackTimer.Cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if prev != StateDisconnected {
		m.emit(Event{Type: EventStateChanged, State: StateDisconnected})
	}
}

// Dispose tears the manager down permanently.
func (m *Manager) Dispose() {
	m.Disconnect()
	m.mu.Lock()
	m.disposed = true
	m.subs = make(map[int]func(Event))
	m.mu.Unlock()
}
