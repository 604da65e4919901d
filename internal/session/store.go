package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
	"github.com/promptforge/promptforge-chat/internal/persistence"
	apperrors "github.com/promptforge/promptforge-chat/internal/pkg/errors"
	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
)

const defaultTitle = "New chat"

type Config struct {
	// MessageCap bounds each session's message list; the oldest entries
	// are evicted first. Default 100.
	MessageCap int
	// TitleLimit caps auto-derived titles, in runes. Default 30.
	TitleLimit int
}

func (c Config) withDefaults() Config {
	if c.MessageCap <= 0 {
		c.MessageCap = 100
	}
	if c.TitleLimit <= 0 {
		c.TitleLimit = 30
	}
	return c
}

// Store owns every chat session and its ordered message list. It is the
// single writer of session data; other components mutate only through
// this API. Every mutation synchronously mirrors to the persistence
// port.
type Store struct {
	log  *logger.Logger
	port persistence.Port
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*chat.Session
	activeID uuid.UUID
}

// New rehydrates from the persistence port. Missing or malformed state
// falls back to an empty store rather than failing init.
func New(ctx context.Context, port persistence.Port, cfg Config, log *logger.Logger) *Store {
	s := &Store{
		log:      log.With("component", "SessionStore"),
		port:     port,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		sessions: make(map[uuid.UUID]*chat.Session),
	}
	state, err := port.LoadState(ctx)
	if err != nil {
		s.log.Warn("Stored state unreadable, starting empty", "error", err)
		return s
	}
	if state == nil {
		return s
	}
	for i := range state.Sessions {
		sess := state.Sessions[i].Clone()
		if !sess.Agent.Valid() || !sess.Mode.Valid() {
			s.log.Warn("Skipping stored session with unknown agent/mode", "session_id", sess.ID, "agent", sess.Agent, "mode", sess.Mode)
			continue
		}
		s.sessions[sess.ID] = &sess
	}
	if id, err := uuid.Parse(state.CurrentSessionID); err == nil {
		if _, ok := s.sessions[id]; ok {
			s.activeID = id
		}
	}
	if s.activeID == uuid.Nil && len(s.sessions) > 0 {
		s.activeID = s.mostRecentLocked()
	}
	s.log.Info("Rehydrated sessions", "count", len(s.sessions))
	return s
}

// CreateSession adds a session for the given agent/mode pair and makes
// it active.
func (s *Store) CreateSession(agent chat.AgentType, mode chat.Mode) (chat.Session, error) {
	if !agent.Valid() {
		return chat.Session{}, &apperrors.ValidationError{Field: "agent", Reason: fmt.Sprintf("unknown agent %q", agent)}
	}
	if !mode.Valid() {
		return chat.Session{}, &apperrors.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.createLocked(agent, mode)
	s.persistLocked()
	return sess.Clone(), nil
}

func (s *Store) createLocked(agent chat.AgentType, mode chat.Mode) *chat.Session {
	now := s.now()
	sess := &chat.Session{
		ID:        uuid.New(),
		Title:     defaultTitle,
		Agent:     agent,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  chat.SessionMetadata{LastActivity: now},
	}
	s.sessions[sess.ID] = sess
	s.activeID = sess.ID
	s.log.Debug("Session created", "session_id", sess.ID, "agent", agent, "mode", mode)
	return sess
}

func (s *Store) SwitchSession(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return apperrors.ErrSessionNotFound
	}
	s.activeID = id
	s.persistLocked()
	return nil
}

// DeleteSession removes a session. Deleting the active one promotes the
// most recently updated remaining session, or creates a fresh default
// if none remain; the store never ends up without an active session.
func (s *Store) DeleteSession(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return apperrors.ErrSessionNotFound
	}
	delete(s.sessions, id)
	if s.activeID == id {
		if len(s.sessions) > 0 {
			s.activeID = s.mostRecentLocked()
		} else {
			s.createLocked(chat.AgentCreation, chat.ModeCreate)
		}
	}
	s.persistLocked()
	return nil
}

// AppendMessage pushes to the session's list, derives the title from
// the first user message, and evicts from the head past the cap.
func (s *Store) AppendMessage(sessionID uuid.UUID, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	if user, ok := msg.(*chat.UserMessage); ok && len(sess.Messages) == 0 {
		sess.Title = deriveTitle(user.Content, s.cfg.TitleLimit)
	}
	sess.Messages = append(sess.Messages, chat.CloneMessage(msg))
	if over := len(sess.Messages) - s.cfg.MessageCap; over > 0 {
		sess.Messages = append(chat.Messages(nil), sess.Messages[over:]...)
		s.log.Debug("Evicted oldest messages", "session_id", sessionID, "evicted", over)
	}
	sess.Metadata.TotalMessages = len(sess.Messages)
	sess.Metadata.LastActivity = msg.SentAt()
	sess.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// UpdateMessageStatus replaces a message's status in place, keeping its
// id stable so a retried send never grows a second bubble.
func (s *Store) UpdateMessageStatus(messageID uuid.UUID, status chat.Status) error {
	if !status.Valid() {
		return &apperrors.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		for _, m := range sess.Messages {
			if m.MessageID() != messageID {
				continue
			}
			switch v := m.(type) {
			case *chat.UserMessage:
				v.Status = status
			case *chat.AgentMessage:
				v.Status = status
			case *chat.SystemMessage:
				v.Status = status
			case *chat.ErrorMessage:
				v.Status = status
			}
			sess.UpdatedAt = s.now()
			s.persistLocked()
			return nil
		}
	}
	return apperrors.ErrMessageNotFound
}

// RemoveMessage deletes a single message from whichever session holds it.
func (s *Store) RemoveMessage(messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		for i, m := range sess.Messages {
			if m.MessageID() != messageID {
				continue
			}
			sess.Messages = append(sess.Messages[:i], sess.Messages[i+1:]...)
			sess.Metadata.TotalMessages = len(sess.Messages)
			sess.UpdatedAt = s.now()
			s.persistLocked()
			return nil
		}
	}
	return apperrors.ErrMessageNotFound
}

func (s *Store) ClearMessages(sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	sess.Messages = nil
	sess.Metadata.TotalMessages = 0
	sess.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

func (s *Store) RenameSession(id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	sess.Title = title
	sess.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// SetAgentMode rebinds an existing session to a new agent/mode pair
// (the UI's mode switcher).
func (s *Store) SetAgentMode(id uuid.UUID, agent chat.AgentType, mode chat.Mode) error {
	if !agent.Valid() || !mode.Valid() {
		return &apperrors.ValidationError{Field: "agent/mode", Reason: fmt.Sprintf("unknown pair (%q, %q)", agent, mode)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return apperrors.ErrSessionNotFound
	}
	sess.Agent = agent
	sess.Mode = mode
	sess.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// ActiveSession returns a copy of the active session, if any.
func (s *Store) ActiveSession() (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[s.activeID]
	if !ok {
		return chat.Session{}, false
	}
	return sess.Clone(), true
}

func (s *Store) Session(id uuid.UUID) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, false
	}
	return sess.Clone(), true
}

// Sessions returns copies ordered by most recent activity first.
func (s *Store) Sessions() []chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// FindUserMessage locates a user message and its owning session.
func (s *Store) FindUserMessage(messageID uuid.UUID) (chat.UserMessage, uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		for _, m := range sess.Messages {
			if user, ok := m.(*chat.UserMessage); ok && user.ID == messageID {
				return *user, id, true
			}
		}
	}
	return chat.UserMessage{}, uuid.Nil, false
}

func (s *Store) mostRecentLocked() uuid.UUID {
	var best uuid.UUID
	var bestAt time.Time
	for id, sess := range s.sessions {
		if best == uuid.Nil || sess.UpdatedAt.After(bestAt) {
			best = id
			bestAt = sess.UpdatedAt
		}
	}
	return best
}

func (s *Store) persistLocked() {
	state := &persistence.State{CurrentSessionID: ""}
	if s.activeID != uuid.Nil {
		state.CurrentSessionID = s.activeID.String()
	}
	sessions := make([]chat.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	state.Sessions = sessions
	if err := s.port.SaveState(context.Background(), state); err != nil {
		// Persistence is a mirror; a failed save must not fail the mutation.
		s.log.Warn("Failed to mirror state", "error", err)
	}
}

func deriveTitle(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
