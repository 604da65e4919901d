package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
	apperrors "github.com/promptforge/promptforge-chat/internal/pkg/errors"
	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
	"github.com/promptforge/promptforge-chat/internal/transport"
)

// supportMatrix fixes which modes each agent accepts. The creation
// engineer drafts and optimizes; the quality assessor reviews and
// optimizes. Not configurable at runtime.
var supportMatrix = map[chat.AgentType]map[chat.Mode]bool{
	chat.AgentCreation: {
		chat.ModeCreate:   true,
		chat.ModeOptimize: true,
	},
	chat.AgentQuality: {
		chat.ModeQualityCheck: true,
		chat.ModeOptimize:     true,
	},
}

// Router validates (agent, mode) pairs and normalizes the wire
// envelopes exchanged with the remote agent capability.
type Router struct {
	log *logger.Logger
	now func() time.Time
}

func New(log *logger.Logger) *Router {
	return &Router{
		log: log.With("component", "AgentRouter"),
		now: time.Now,
	}
}

func (r *Router) IsSupported(agent chat.AgentType, mode chat.Mode) bool {
	return supportMatrix[agent][mode]
}

// BuildEnvelope validates the request and wraps it for transmission.
// Rejections happen here, before any transport round-trip is wasted.
func (r *Router) BuildEnvelope(agent chat.AgentType, mode chat.Mode, content string, sessionID uuid.UUID) (transport.Envelope, error) {
	if strings.TrimSpace(content) == "" {
		return transport.Envelope{}, &apperrors.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if !agent.Valid() {
		return transport.Envelope{}, &apperrors.ValidationError{Field: "agent", Reason: fmt.Sprintf("unknown agent %q", agent)}
	}
	if !mode.Valid() {
		return transport.Envelope{}, &apperrors.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if !r.IsSupported(agent, mode) {
		return transport.Envelope{}, &apperrors.ValidationError{
			Field:  "mode",
			Reason: fmt.Sprintf("agent %q does not support mode %q", agent, mode),
		}
	}
	return transport.Envelope{
		Type: transport.EnvelopeUserMessage,
		Data: transport.EnvelopeData{
			Message:   content,
			Agent:     agent,
			Mode:      mode,
			Timestamp: r.now().UnixMilli(),
			SessionID: sessionID.String(),
		},
	}, nil
}

// ParseResponse maps an inbound agent_response or error envelope to the
// message to append. Optional metadata (processing time, confidence,
// sources, suggestions) degrades to zero values when absent.
func (r *Router) ParseResponse(env transport.Envelope) (chat.Message, error) {
	switch env.Type {
	case transport.EnvelopeAgentResponse:
		if env.Data.Error != "" {
			return r.errorMessage(env), nil
		}
		msg := &chat.AgentMessage{
			ID:        uuid.New(),
			Content:   env.Data.Message,
			Timestamp: r.envelopeTime(env),
			Status:    chat.StatusDelivered,
			Agent:     env.Data.Agent,
			Mode:      env.Data.Mode,
			Metadata: chat.AgentMetadata{
				ProcessingTimeMS: intField(env.Data.Metadata, "processingTime"),
				Confidence:       floatField(env.Data.Metadata, "confidence"),
				Sources:          stringsField(env.Data.Metadata, "sources"),
			},
			Suggestions: stringsField(env.Data.Metadata, "suggestions"),
		}
		return msg, nil
	case transport.EnvelopeError:
		return r.errorMessage(env), nil
	default:
		return nil, fmt.Errorf("parse response: envelope type %q is not a response", env.Type)
	}
}

func (r *Router) errorMessage(env transport.Envelope) *chat.ErrorMessage {
	code := stringField(env.Data.Metadata, "code")
	if code == "" {
		code = "agent_unavailable"
	}
	content := env.Data.Error
	if content == "" {
		content = env.Data.Message
	}
	if content == "" {
		content = "The agent reported a failure without details."
	}
	return &chat.ErrorMessage{
		ID:        uuid.New(),
		Content:   content,
		Timestamp: r.envelopeTime(env),
		Status:    chat.StatusDelivered,
		Code:      code,
	}
}

func (r *Router) envelopeTime(env transport.Envelope) time.Time {
	if env.Data.Timestamp > 0 {
		return time.UnixMilli(env.Data.Timestamp)
	}
	return r.now()
}

func floatField(meta map[string]any, key string) float64 {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func intField(meta map[string]any, key string) int64 {
	return int64(floatField(meta, key))
}

func stringField(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

func stringsField(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	items, ok := meta[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
