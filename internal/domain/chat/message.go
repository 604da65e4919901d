package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageKind discriminates the closed set of message variants. Adding
// a kind means touching every exhaustive switch below, so a new variant
// cannot ship half-handled.
type MessageKind string

const (
	KindUser   MessageKind = "user"
	KindAgent  MessageKind = "agent"
	KindSystem MessageKind = "system"
	KindError  MessageKind = "error"
)

// Message is the sealed union of the four chat message variants. Only
// types in this package implement it.
type Message interface {
	Kind() MessageKind
	MessageID() uuid.UUID
	SentAt() time.Time
	DeliveryStatus() Status

	sealed()
}

// UserMessage is an optimistic local entry for user-authored content.
// Its ID is minted once and survives retries.
type UserMessage struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Mode      Mode      `json:"mode"`
}

func (m *UserMessage) Kind() MessageKind      { return KindUser }
func (m *UserMessage) MessageID() uuid.UUID   { return m.ID }
func (m *UserMessage) SentAt() time.Time      { return m.Timestamp }
func (m *UserMessage) DeliveryStatus() Status { return m.Status }
func (m *UserMessage) sealed()                {}

// AgentMetadata carries the optional response annotations; absent
// fields stay at their zero values.
type AgentMetadata struct {
	ProcessingTimeMS int64    `json:"processing_time_ms,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	Sources          []string `json:"sources,omitempty"`
}

type AgentMessage struct {
	ID          uuid.UUID     `json:"id"`
	Content     string        `json:"content"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      Status        `json:"status"`
	Agent       AgentType     `json:"agent"`
	Mode        Mode          `json:"mode"`
	Metadata    AgentMetadata `json:"metadata"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

func (m *AgentMessage) Kind() MessageKind      { return KindAgent }
func (m *AgentMessage) MessageID() uuid.UUID   { return m.ID }
func (m *AgentMessage) SentAt() time.Time      { return m.Timestamp }
func (m *AgentMessage) DeliveryStatus() Status { return m.Status }
func (m *AgentMessage) sealed()                {}

type SystemMessage struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Level     string    `json:"level"`
}

func (m *SystemMessage) Kind() MessageKind      { return KindSystem }
func (m *SystemMessage) MessageID() uuid.UUID   { return m.ID }
func (m *SystemMessage) SentAt() time.Time      { return m.Timestamp }
func (m *SystemMessage) DeliveryStatus() Status { return m.Status }
func (m *SystemMessage) sealed()                {}

// ErrorMessage is the diagnostic companion appended next to a failed
// send; Code matches the error taxonomy (validation, send_timeout,
// agent_unavailable, connection).
type ErrorMessage struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Code      string    `json:"code"`
}

func (m *ErrorMessage) Kind() MessageKind      { return KindError }
func (m *ErrorMessage) MessageID() uuid.UUID   { return m.ID }
func (m *ErrorMessage) SentAt() time.Time      { return m.Timestamp }
func (m *ErrorMessage) DeliveryStatus() Status { return m.Status }
func (m *ErrorMessage) sealed()                {}

type taggedMessage struct {
	Type MessageKind     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalMessage serializes a message with its kind tag.
func MarshalMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedMessage{Type: m.Kind(), Data: data})
}

// UnmarshalMessage decodes a tagged message; an unknown kind is an
// error rather than a silently dropped variant.
func UnmarshalMessage(raw []byte) (Message, error) {
	var tagged taggedMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	switch tagged.Type {
	case KindUser:
		var m UserMessage
		if err := json.Unmarshal(tagged.Data, &m); err != nil {
			return nil, fmt.Errorf("decode user message: %w", err)
		}
		return &m, nil
	case KindAgent:
		var m AgentMessage
		if err := json.Unmarshal(tagged.Data, &m); err != nil {
			return nil, fmt.Errorf("decode agent message: %w", err)
		}
		return &m, nil
	case KindSystem:
		var m SystemMessage
		if err := json.Unmarshal(tagged.Data, &m); err != nil {
			return nil, fmt.Errorf("decode system message: %w", err)
		}
		return &m, nil
	case KindError:
		var m ErrorMessage
		if err := json.Unmarshal(tagged.Data, &m); err != nil {
			return nil, fmt.Errorf("decode error message: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown message kind %q", tagged.Type)
	}
}

// Messages is an insertion-ordered message list with tagged JSON
// round-tripping.
type Messages []Message

func (ms Messages) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(ms))
	for _, m := range ms {
		raw, err := MarshalMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (ms *Messages) UnmarshalJSON(raw []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	decoded := make(Messages, 0, len(items))
	for _, item := range items {
		m, err := UnmarshalMessage(item)
		if err != nil {
			return err
		}
		decoded = append(decoded, m)
	}
	*ms = decoded
	return nil
}

// CloneMessage returns an independent copy of any message variant.
func CloneMessage(m Message) Message {
	switch v := m.(type) {
	case *UserMessage:
		c := *v
		return &c
	case *AgentMessage:
		c := *v
		c.Suggestions = append([]string(nil), v.Suggestions...)
		c.Metadata.Sources = append([]string(nil), v.Metadata.Sources...)
		return &c
	case *SystemMessage:
		c := *v
		return &c
	case *ErrorMessage:
		c := *v
		return &c
	default:
		panic(fmt.Sprintf("unhandled message kind %q", m.Kind()))
	}
}
