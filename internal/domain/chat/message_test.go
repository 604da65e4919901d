package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMessagesRoundTripAllKinds(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	original := Messages{
		&UserMessage{ID: uuid.New(), Content: "draft me a prompt", Timestamp: at, Status: StatusSent, Mode: ModeCreate},
		&AgentMessage{
			ID: uuid.New(), Content: "here you go", Timestamp: at, Status: StatusDelivered,
			Agent: AgentCreation, Mode: ModeCreate,
			Metadata:    AgentMetadata{ProcessingTimeMS: 420, Confidence: 0.93, Sources: []string{"library"}},
			Suggestions: []string{"tighten the tone"},
		},
		&SystemMessage{ID: uuid.New(), Content: "session resumed", Timestamp: at, Status: StatusDelivered, Level: "info"},
		&ErrorMessage{ID: uuid.New(), Content: "agent offline", Timestamp: at, Status: StatusDelivered, Code: "agent_unavailable"},
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Messages
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("decoded %d messages, want %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i].Kind() != original[i].Kind() {
			t.Fatalf("message %d: kind want=%s got=%s", i, original[i].Kind(), decoded[i].Kind())
		}
		if decoded[i].MessageID() != original[i].MessageID() {
			t.Fatalf("message %d: id changed across round trip", i)
		}
	}
	agent, ok := decoded[1].(*AgentMessage)
	if !ok {
		t.Fatalf("message 1 decoded as %T, want *AgentMessage", decoded[1])
	}
	if agent.Metadata.ProcessingTimeMS != 420 || agent.Metadata.Confidence != 0.93 {
		t.Fatalf("agent metadata lost: %+v", agent.Metadata)
	}
	if len(agent.Suggestions) != 1 || agent.Suggestions[0] != "tighten the tone" {
		t.Fatalf("suggestions lost: %v", agent.Suggestions)
	}
}

func TestUnmarshalMessageRejectsUnknownKind(t *testing.T) {
	if _, err := UnmarshalMessage([]byte(`{"type":"carrier_pigeon","data":{}}`)); err == nil {
		t.Fatalf("expected error for unknown message kind")
	}
}

func TestCloneMessageIsIndependent(t *testing.T) {
	msg := &AgentMessage{ID: uuid.New(), Suggestions: []string{"a"}, Metadata: AgentMetadata{Sources: []string{"s"}}}
	clone := CloneMessage(msg).(*AgentMessage)
	clone.Suggestions[0] = "b"
	clone.Metadata.Sources[0] = "x"
	if msg.Suggestions[0] != "a" || msg.Metadata.Sources[0] != "s" {
		t.Fatalf("clone shares slices with the original")
	}
}
