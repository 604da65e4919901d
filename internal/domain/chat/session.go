package chat

import (
	"time"

	"github.com/google/uuid"
)

// SessionMetadata is derived bookkeeping maintained on every append.
type SessionMetadata struct {
	TotalMessages int       `json:"total_messages"`
	LastActivity  time.Time `json:"last_activity"`
}

// Session is one named thread of messages bound to an agent/mode pair.
// It is owned by the session store and mutated only through its API.
type Session struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Agent     AgentType       `json:"agent"`
	Mode      Mode            `json:"mode"`
	Messages  Messages        `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Metadata  SessionMetadata `json:"metadata"`
}

// Clone returns a deep copy safe to hand outside the owning store.
func (s *Session) Clone() Session {
	c := *s
	c.Messages = make(Messages, 0, len(s.Messages))
	for _, m := range s.Messages {
		c.Messages = append(c.Messages, CloneMessage(m))
	}
	return c
}
