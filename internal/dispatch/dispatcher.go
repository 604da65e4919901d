package dispatch

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
	apperrors "github.com/promptforge/promptforge-chat/internal/pkg/errors"
	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
	"github.com/promptforge/promptforge-chat/internal/pkg/timeutil"
	"github.com/promptforge/promptforge-chat/internal/router"
	"github.com/promptforge/promptforge-chat/internal/session"
	"github.com/promptforge/promptforge-chat/internal/transport"
)

type Config struct {
	// ResponseTimeout bounds the wait for an agent reply after a message
	// was handed to the transport. Default 30s.
	ResponseTimeout time.Duration
	// DefaultAgent/DefaultMode seed the session auto-created on a first
	// send with no active session.
	DefaultAgent chat.AgentType
	DefaultMode  chat.Mode
}

func (c Config) withDefaults() Config {
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 30 * time.Second
	}
	if c.DefaultAgent == "" {
		c.DefaultAgent = chat.AgentCreation
	}
	if c.DefaultMode == "" {
		c.DefaultMode = chat.ModeCreate
	}
	return c
}

type EventType string

const (
	// EventTypingChanged tracks the per-session agent-typing indicator.
	EventTypingChanged EventType = "typing_changed"
	// EventMessageResolved fires when an agent reply lands for a send.
	EventMessageResolved EventType = "message_resolved"
	// EventMessageFailed fires when a send reaches failed status.
	EventMessageFailed EventType = "message_failed"
	// EventSuggestions surfaces follow-up suggestions from a reply.
	EventSuggestions EventType = "suggestions"
)

type Event struct {
	Type        EventType
	SessionID   uuid.UUID
	MessageID   uuid.UUID
	Typing      bool
	Err         error
	Suggestions []string
}

// SendOptions override the active session's agent/mode for one send.
type SendOptions struct {
	Agent chat.AgentType
	Mode  chat.Mode
}

type pendingSend struct {
	messageID   uuid.UUID
	sessionID   uuid.UUID
	transmitted bool
	timer       *timeutil.Timer
}

// Dispatcher orchestrates a send: optimistic store entry, routing,
// transmission, status tracking, and retry. Sends for distinct sessions
// run concurrently; completion order is whatever the network delivers.
type Dispatcher struct {
	log    *logger.Logger
	store  *session.Store
	router *router.Router
	conn   *transport.Manager
	cfg    Config
	now    func() time.Time

	mu        sync.Mutex
	pending   map[uuid.UUID]*pendingSend
	order     map[uuid.UUID][]uuid.UUID // session id -> outstanding message ids, send order
	typing    map[uuid.UUID]bool
	subs      map[int]func(Event)
	nextSubID int
	disposed  bool

	unsubscribe func()
}

func New(store *session.Store, rt *router.Router, conn *transport.Manager, cfg Config, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		log:     log.With("component", "MessageDispatcher"),
		store:   store,
		router:  rt,
		conn:    conn,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		pending: make(map[uuid.UUID]*pendingSend),
		order:   make(map[uuid.UUID][]uuid.UUID),
		typing:  make(map[uuid.UUID]bool),
		subs:    make(map[int]func(Event)),
	}
	d.unsubscribe = conn.Subscribe(d.onConnEvent)
	return d
}

func (d *Dispatcher) Subscribe(fn func(Event)) func() {
	d.mu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) emit(ev Event) {
	d.mu.Lock()
	ids := make([]int, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, d.subs[id])
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Send records the user message optimistically and hands it to the
// transport. Validation failures reject before any store mutation; the
// call returns once the message is pending, not once it is delivered.
func (d *Dispatcher) Send(ctx context.Context, content string, opts SendOptions) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return uuid.Nil, &apperrors.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	active, ok := d.store.ActiveSession()
	if !ok {
		agent := opts.Agent
		mode := opts.Mode
		if agent == "" {
			agent = d.cfg.DefaultAgent
		}
		if mode == "" {
			mode = d.cfg.DefaultMode
		}
		created, err := d.store.CreateSession(agent, mode)
		if err != nil {
			return uuid.Nil, err
		}
		active = created
	}

	agent := active.Agent
	mode := active.Mode
	if opts.Agent != "" {
		agent = opts.Agent
	}
	if opts.Mode != "" {
		mode = opts.Mode
	}
	if !d.router.IsSupported(agent, mode) {
		return uuid.Nil, &apperrors.ValidationError{
			Field:  "mode",
			Reason: "agent " + string(agent) + " does not support mode " + string(mode),
		}
	}

	msg := &chat.UserMessage{
		ID:        uuid.New(),
		Content:   trimmed,
		Timestamp: d.now(),
		Status:    chat.StatusPending,
		Mode:      mode,
	}
	if err := d.store.AppendMessage(active.ID, msg); err != nil {
		return uuid.Nil, err
	}
	if err := d.transmit(msg.ID, active.ID, agent, mode, trimmed); err != nil {
		return msg.ID, err
	}
	return msg.ID, nil
}

// Retry re-enters sending for a failed message, reusing its id so the
// session's message count never changes however often it is retried.
func (d *Dispatcher) Retry(ctx context.Context, messageID uuid.UUID) error {
	user, sessionID, ok := d.store.FindUserMessage(messageID)
	if !ok {
		return apperrors.ErrMessageNotFound
	}
	if user.Status != chat.StatusFailed {
		return &apperrors.ValidationError{Field: "message", Reason: "only failed messages can be retried"}
	}
	sess, ok := d.store.Session(sessionID)
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	return d.transmit(messageID, sessionID, sess.Agent, user.Mode, user.Content)
}

// Delete drops a message and any outstanding delivery tracking for it.
func (d *Dispatcher) Delete(messageID uuid.UUID) error {
	d.mu.Lock()
	if p, ok := d.pending[messageID]; ok {
		p.timer.Cancel()
		d.removeLocked(p)
	}
	d.mu.Unlock()
	d.refreshTyping()
	return d.store.RemoveMessage(messageID)
}

func (d *Dispatcher) transmit(messageID, sessionID uuid.UUID, agent chat.AgentType, mode chat.Mode, content string) error {
	env, err := d.router.BuildEnvelope(agent, mode, content, sessionID)
	if err != nil {
		return err
	}
	if err := d.store.UpdateMessageStatus(messageID, chat.StatusSending); err != nil {
		return err
	}

	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return apperrors.ErrDisposed
	}
	p := &pendingSend{
		messageID: messageID,
		sessionID: sessionID,
		timer:     timeutil.NewTimer(),
	}
	d.pending[messageID] = p
	d.order[sessionID] = append(d.order[sessionID], messageID)
	d.mu.Unlock()

	// Send never fails on connection state; offline envelopes queue FIFO
	// and the sent transition arrives with the flush.
	if err := d.conn.Send(env); err != nil {
		d.failMessage(messageID, "connection", "Could not hand the message to the transport.", err)
		return nil
	}
	return nil
}

func (d *Dispatcher) onConnEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventEnvelopeSent:
		if ev.Envelope != nil && ev.Envelope.Type == transport.EnvelopeUserMessage {
			d.onTransmitted(*ev.Envelope)
		}
	case transport.EventEnvelope:
		if ev.Envelope != nil {
			d.onInbound(*ev.Envelope)
		}
	}
}

// onTransmitted marks the oldest not-yet-transmitted send for the
// envelope's session as sent and starts its response clock.
func (d *Dispatcher) onTransmitted(env transport.Envelope) {
	sessionID, err := uuid.Parse(env.Data.SessionID)
	if err != nil {
		return
	}
	d.mu.Lock()
	var p *pendingSend
	for _, id := range d.order[sessionID] {
		candidate := d.pending[id]
		if candidate != nil && !candidate.transmitted {
			p = candidate
			break
		}
	}
	if p == nil {
		d.mu.Unlock()
		return
	}
	p.transmitted = true
	messageID := p.messageID
	timeout := d.cfg.ResponseTimeout
	p.timer.Start(timeout, func() {
		d.onTimeout(messageID, timeout)
	})
	d.mu.Unlock()

	if err := d.store.UpdateMessageStatus(messageID, chat.StatusSent); err != nil {
		d.log.Warn("Sent message vanished from store", "message_id", messageID, "error", err)
	}
	d.refreshTyping()
}

func (d *Dispatcher) onInbound(env transport.Envelope) {
	switch env.Type {
	case transport.EnvelopeAgentResponse, transport.EnvelopeError:
		d.onResponse(env)
	case transport.EnvelopeTypingStart, transport.EnvelopeTypingStop:
		if sessionID, err := uuid.Parse(env.Data.SessionID); err == nil {
			d.emit(Event{
				Type:      EventTypingChanged,
				SessionID: sessionID,
				Typing:    env.Type == transport.EnvelopeTypingStart,
			})
		}
	case transport.EnvelopeSystem:
		d.onSystem(env)
	}
}

func (d *Dispatcher) onResponse(env transport.Envelope) {
	sessionID, err := uuid.Parse(env.Data.SessionID)
	if err != nil {
		d.log.Warn("Response without usable session id", "type", env.Type, "error", err)
		return
	}

	d.mu.Lock()
	var p *pendingSend
	for _, id := range d.order[sessionID] {
		candidate := d.pending[id]
		if candidate != nil && candidate.transmitted {
			p = candidate
			break
		}
	}
	if p != nil {
		p.timer.Cancel()
		d.removeLocked(p)
	}
	d.mu.Unlock()

	msg, perr := d.router.ParseResponse(env)
	if perr != nil {
		d.log.Warn("Undecodable response envelope", "error", perr)
		return
	}
	if err := d.store.AppendMessage(sessionID, msg); err != nil {
		d.log.Warn("Response for unknown session", "session_id", sessionID, "error", err)
		return
	}

	switch v := msg.(type) {
	case *chat.AgentMessage:
		if p != nil {
			d.emit(Event{Type: EventMessageResolved, SessionID: sessionID, MessageID: p.messageID})
		}
		if len(v.Suggestions) > 0 {
			d.emit(Event{Type: EventSuggestions, SessionID: sessionID, Suggestions: v.Suggestions})
		}
	case *chat.ErrorMessage:
		if p != nil {
			_ = d.store.UpdateMessageStatus(p.messageID, chat.StatusFailed)
			d.emit(Event{
				Type:      EventMessageFailed,
				SessionID: sessionID,
				MessageID: p.messageID,
				Err:       &apperrors.AgentUnavailableError{Code: v.Code, Message: v.Content},
			})
		}
	}
	d.refreshTyping()
}

func (d *Dispatcher) onSystem(env transport.Envelope) {
	sessionID, err := uuid.Parse(env.Data.SessionID)
	if err != nil {
		return
	}
	level := "info"
	if l, ok := env.Data.Metadata["level"].(string); ok && l != "" {
		level = l
	}
	msg := &chat.SystemMessage{
		ID:        uuid.New(),
		Content:   env.Data.Message,
		Timestamp: d.now(),
		Status:    chat.StatusDelivered,
		Level:     level,
	}
	if err := d.store.AppendMessage(sessionID, msg); err != nil {
		d.log.Debug("System envelope for unknown session", "session_id", sessionID)
	}
}

func (d *Dispatcher) onTimeout(messageID uuid.UUID, timeout time.Duration) {
	d.mu.Lock()
	p, ok := d.pending[messageID]
	if !ok {
		d.mu.Unlock()
		return
	}
	d.removeLocked(p)
	d.mu.Unlock()

	err := &apperrors.SendTimeoutError{MessageID: messageID.String(), Timeout: timeout}
	d.failMessage(messageID, "send_timeout", "The agent did not respond in time. Retry to send again.", err)
}

func (d *Dispatcher) failMessage(messageID uuid.UUID, code, text string, cause error) {
	d.mu.Lock()
	if p, ok := d.pending[messageID]; ok {
		p.timer.Cancel()
		d.removeLocked(p)
	}
	d.mu.Unlock()

	_, sessionID, ok := d.store.FindUserMessage(messageID)
	if !ok {
		return
	}
	_ = d.store.UpdateMessageStatus(messageID, chat.StatusFailed)
	companion := &chat.ErrorMessage{
		ID:        uuid.New(),
		Content:   text,
		Timestamp: d.now(),
		Status:    chat.StatusDelivered,
		Code:      code,
	}
	if err := d.store.AppendMessage(sessionID, companion); err != nil {
		d.log.Warn("Could not append error companion", "session_id", sessionID, "error", err)
	}
	d.emit(Event{Type: EventMessageFailed, SessionID: sessionID, MessageID: messageID, Err: cause})
	d.refreshTyping()
}

// removeLocked drops a pending send from both indexes.
func (d *Dispatcher) removeLocked(p *pendingSend) {
	delete(d.pending, p.messageID)
	ids := d.order[p.sessionID]
	for i, id := range ids {
		if id == p.messageID {
			d.order[p.sessionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(d.order[p.sessionID]) == 0 {
		delete(d.order, p.sessionID)
	}
}

// refreshTyping recomputes the per-session typing indicator: typing is
// true from successful transmission until the reply, a failure, or the
// timeout, whichever lands first.
func (d *Dispatcher) refreshTyping() {
	d.mu.Lock()
	current := make(map[uuid.UUID]bool)
	for _, p := range d.pending {
		if p.transmitted {
			current[p.sessionID] = true
		}
	}
	var changes []Event
	for sessionID := range current {
		if !d.typing[sessionID] {
			d.typing[sessionID] = true
			changes = append(changes, Event{Type: EventTypingChanged, SessionID: sessionID, Typing: true})
		}
	}
	for sessionID := range d.typing {
		if !current[sessionID] {
			delete(d.typing, sessionID)
			changes = append(changes, Event{Type: EventTypingChanged, SessionID: sessionID, Typing: false})
		}
	}
	d.mu.Unlock()
	for _, ev := range changes {
		d.emit(ev)
	}
}

// Typing reports the agent-typing indicator for a session.
func (d *Dispatcher) Typing(sessionID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing[sessionID]
}

// Dispose cancels all outstanding timers and detaches from the
// connection manager.
func (d *Dispatcher) Dispose() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	d.mu.Lock()
	for _, p := range d.pending {
		p.timer.Cancel()
	}
	d.pending = make(map[uuid.UUID]*pendingSend)
	d.order = make(map[uuid.UUID][]uuid.UUID)
	d.typing = make(map[uuid.UUID]bool)
	d.subs = make(map[int]func(Event))
	d.disposed = true
	d.mu.Unlock()
}
