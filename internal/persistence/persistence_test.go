package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge-chat/internal/domain/chat"
)

func sampleState(t *testing.T) *State {
	t.Helper()
	sessionID := uuid.New()
	return &State{
		Sessions: []chat.Session{
			{
				ID:    sessionID,
				Title: "customer support prompt",
				Agent: chat.AgentCreation,
				Mode:  chat.ModeCreate,
				Messages: chat.Messages{
					&chat.UserMessage{ID: uuid.New(), Content: "hi", Timestamp: time.Now().UTC(), Status: chat.StatusSent, Mode: chat.ModeCreate},
				},
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
				Metadata:  chat.SessionMetadata{TotalMessages: 1, LastActivity: time.Now().UTC()},
			},
		},
		CurrentSessionID: sessionID.String(),
	}
}

func assertRoundTrip(t *testing.T, port Port) {
	t.Helper()
	ctx := context.Background()

	loaded, err := port.LoadState(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if loaded != nil {
		t.Fatalf("empty store should load nil state, got %+v", loaded)
	}

	want := sampleState(t)
	if err := port.SaveState(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := port.LoadState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatalf("load returned nil after save")
	}
	if got.CurrentSessionID != want.CurrentSessionID {
		t.Fatalf("current session id: want=%s got=%s", want.CurrentSessionID, got.CurrentSessionID)
	}
	if len(got.Sessions) != 1 || got.Sessions[0].ID != want.Sessions[0].ID {
		t.Fatalf("sessions did not round trip: %+v", got.Sessions)
	}
	if len(got.Sessions[0].Messages) != 1 || got.Sessions[0].Messages[0].Kind() != chat.KindUser {
		t.Fatalf("messages did not round trip: %+v", got.Sessions[0].Messages)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	assertRoundTrip(t, NewMemoryStore())
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "state", "chat.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	assertRoundTrip(t, store)
}

func TestFileStoreMalformedStateIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.LoadState(context.Background()); err == nil {
		t.Fatalf("expected error for corrupt state file")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteStore(ctx, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	assertRoundTrip(t, store)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat.db")

	store, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	want := sampleState(t)
	if err := store.SaveState(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.LoadState(ctx)
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if got == nil || got.CurrentSessionID != want.CurrentSessionID {
		t.Fatalf("state lost across reopen: %+v", got)
	}
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisOptions{}); err == nil {
		t.Fatalf("expected error when addr is missing")
	}
}
