package transport

import (
	"encoding/json"
	"fmt"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
)

// EnvelopeType is the wire-level frame discriminator.
type EnvelopeType string

const (
	EnvelopeUserMessage   EnvelopeType = "user_message"
	EnvelopeAgentResponse EnvelopeType = "agent_response"
	EnvelopeTypingStart   EnvelopeType = "typing_start"
	EnvelopeTypingStop    EnvelopeType = "typing_stop"
	EnvelopeError         EnvelopeType = "error"
	EnvelopeSystem        EnvelopeType = "system"
	EnvelopePing          EnvelopeType = "ping"
	EnvelopePong          EnvelopeType = "pong"
)

func (t EnvelopeType) Valid() bool {
	switch t {
	case EnvelopeUserMessage, EnvelopeAgentResponse, EnvelopeTypingStart,
		EnvelopeTypingStop, EnvelopeError, EnvelopeSystem, EnvelopePing, EnvelopePong:
		return true
	}
	return false
}

// EnvelopeData is the frame payload. Timestamp is epoch milliseconds.
// SessionID correlates asynchronous responses back to the originating
// session when several sessions are in flight at once.
type EnvelopeData struct {
	Message   string         `json:"message,omitempty"`
	Agent     chat.AgentType `json:"agent,omitempty"`
	Mode      chat.Mode      `json:"mode,omitempty"`
	Timestamp int64          `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Envelope is the typed wrapper exchanged over the transport.
type Envelope struct {
	Type EnvelopeType `json:"type"`
	Data EnvelopeData `json:"data"`
}

func (e Envelope) Encode() ([]byte, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("encode envelope: unknown type %q", e.Type)
	}
	return json.Marshal(e)
}

// DecodeEnvelope parses a raw frame. Malformed frames are the caller's
// problem to report as diagnostics, never as connection failures.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("decode envelope: unknown type %q", env.Type)
	}
	return env, nil
}
