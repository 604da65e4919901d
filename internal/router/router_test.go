package router

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
	apperrors "github.com/promptforge/promptforge-chat/internal/pkg/errors"
	"github.com/promptforge/promptforge-chat/internal/pkg/logger"
	"github.com/promptforge/promptforge-chat/internal/transport"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func TestSupportMatrix(t *testing.T) {
	r := New(mustTestLogger(t))
	cases := []struct {
		agent chat.AgentType
		mode  chat.Mode
		want  bool
	}{
		{chat.AgentCreation, chat.ModeCreate, true},
		{chat.AgentCreation, chat.ModeOptimize, true},
		{chat.AgentCreation, chat.ModeQualityCheck, false},
		{chat.AgentQuality, chat.ModeQualityCheck, true},
		{chat.AgentQuality, chat.ModeOptimize, true},
		{chat.AgentQuality, chat.ModeCreate, false},
	}
	for _, tc := range cases {
		if got := r.IsSupported(tc.agent, tc.mode); got != tc.want {
			t.Fatalf("IsSupported(%s, %s): want=%v got=%v", tc.agent, tc.mode, tc.want, got)
		}
	}
}

func TestBuildEnvelopeRejectsUnsupportedPair(t *testing.T) {
	r := New(mustTestLogger(t))
	_, err := r.BuildEnvelope(chat.AgentQuality, chat.ModeCreate, "do it", uuid.New())
	var verr *apperrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestBuildEnvelopeRejectsEmptyContent(t *testing.T) {
	r := New(mustTestLogger(t))
	_, err := r.BuildEnvelope(chat.AgentCreation, chat.ModeCreate, "   ", uuid.New())
	var verr *apperrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestBuildEnvelopeCarriesCorrelationFields(t *testing.T) {
	r := New(mustTestLogger(t))
	sessionID := uuid.New()
	env, err := r.BuildEnvelope(chat.AgentQuality, chat.ModeQualityCheck, "review this", sessionID)
	if err != nil {
		t.Fatalf("BuildEnvelope: %v", err)
	}
	if env.Type != transport.EnvelopeUserMessage {
		t.Fatalf("envelope type: want=%s got=%s", transport.EnvelopeUserMessage, env.Type)
	}
	if env.Data.SessionID != sessionID.String() {
		t.Fatalf("session id: want=%s got=%s", sessionID, env.Data.SessionID)
	}
	if env.Data.Agent != chat.AgentQuality || env.Data.Mode != chat.ModeQualityCheck {
		t.Fatalf("agent/mode not carried: %+v", env.Data)
	}
	if env.Data.Timestamp == 0 {
		t.Fatalf("client timestamp missing")
	}
}

func TestParseResponseWithFullMetadata(t *testing.T) {
	r := New(mustTestLogger(t))
	env := transport.Envelope{
		Type: transport.EnvelopeAgentResponse,
		Data: transport.EnvelopeData{
			Message:   "here is your prompt",
			Agent:     chat.AgentCreation,
			Mode:      chat.ModeCreate,
			Timestamp: time.Now().UnixMilli(),
			SessionID: uuid.New().String(),
			Metadata: map[string]any{
				"processingTime": float64(1200),
				"confidence":     0.87,
				"sources":        []any{"prompt-library", "style-guide"},
				"suggestions":    []any{"add examples", "state the audience"},
			},
		},
	}
	msg, err := r.ParseResponse(env)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	agent, ok := msg.(*chat.AgentMessage)
	if !ok {
		t.Fatalf("want *chat.AgentMessage, got %T", msg)
	}
	if agent.Status != chat.StatusDelivered {
		t.Fatalf("status: want=%s got=%s", chat.StatusDelivered, agent.Status)
	}
	if agent.Metadata.ProcessingTimeMS != 1200 || agent.Metadata.Confidence != 0.87 {
		t.Fatalf("metadata: %+v", agent.Metadata)
	}
	if len(agent.Metadata.Sources) != 2 || len(agent.Suggestions) != 2 {
		t.Fatalf("sources/suggestions: %v / %v", agent.Metadata.Sources, agent.Suggestions)
	}
}

func TestParseResponseToleratesMissingOptionalFields(t *testing.T) {
	r := New(mustTestLogger(t))
	env := transport.Envelope{
		Type: transport.EnvelopeAgentResponse,
		Data: transport.EnvelopeData{
			Message: "bare reply",
			Agent:   chat.AgentQuality,
			Mode:    chat.ModeQualityCheck,
		},
	}
	msg, err := r.ParseResponse(env)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	agent, ok := msg.(*chat.AgentMessage)
	if !ok {
		t.Fatalf("want *chat.AgentMessage, got %T", msg)
	}
	if agent.Metadata.ProcessingTimeMS != 0 || agent.Metadata.Confidence != 0 || agent.Metadata.Sources != nil {
		t.Fatalf("optional metadata should degrade to zero values: %+v", agent.Metadata)
	}
	if agent.Suggestions != nil {
		t.Fatalf("suggestions should be nil when absent: %v", agent.Suggestions)
	}
	if agent.Timestamp.IsZero() {
		t.Fatalf("timestamp should default to the parse time")
	}
}

func TestParseResponseMapsRemoteFailure(t *testing.T) {
	r := New(mustTestLogger(t))
	env := transport.Envelope{
		Type: transport.EnvelopeAgentResponse,
		Data: transport.EnvelopeData{
			Error:    "model overloaded",
			Metadata: map[string]any{"code": "capacity"},
		},
	}
	msg, err := r.ParseResponse(env)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	errMsg, ok := msg.(*chat.ErrorMessage)
	if !ok {
		t.Fatalf("want *chat.ErrorMessage, got %T", msg)
	}
	if errMsg.Code != "capacity" || errMsg.Content != "model overloaded" {
		t.Fatalf("remote failure mapping: %+v", errMsg)
	}
}

func TestParseResponseDefaultsErrorCode(t *testing.T) {
	r := New(mustTestLogger(t))
	env := transport.Envelope{
		Type: transport.EnvelopeError,
		Data: transport.EnvelopeData{Error: "boom"},
	}
	msg, err := r.ParseResponse(env)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	errMsg := msg.(*chat.ErrorMessage)
	if errMsg.Code != "agent_unavailable" {
		t.Fatalf("default code: want=agent_unavailable got=%s", errMsg.Code)
	}
}

func TestParseResponseRejectsNonResponseEnvelope(t *testing.T) {
	r := New(mustTestLogger(t))
	if _, err := r.ParseResponse(transport.Envelope{Type: transport.EnvelopePing}); err == nil {
		t.Fatalf("expected error for non-response envelope")
	}
}
