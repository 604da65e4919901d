package persistence

import (
	"context"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
)

// State is the durable snapshot the session store mirrors on every
// mutation: the session list plus the active session id.
type State struct {
	Sessions         []chat.Session `json:"chat_sessions"`
	CurrentSessionID string         `json:"current_session_id"`
}

// Port is the injectable persistence boundary. LoadState returns
// (nil, nil) when no state has been saved yet; a non-nil error means
// the stored state exists but could not be read, which callers degrade
// on rather than failing init.
type Port interface {
	LoadState(ctx context.Context) (*State, error)
	SaveState(ctx context.Context, state *State) error
}
