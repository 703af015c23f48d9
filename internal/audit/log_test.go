package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"authgrid.org/internal/auth"
)

func TestEvent(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	defer func() { logger = nil }()

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{
		User: &auth.User{PublicID: "user-42"},
	})

	if err := Event(ctx, "user.login", "email", "ada@example.com"); err != nil {
		t.Fatalf("Event: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "user.login" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_id"] != "user-42" {
		t.Fatalf("unexpected actor: %v", entry["actor_id"])
	}
	if entry["email"] != "ada@example.com" {
		t.Fatalf("unexpected attr: %v", entry["email"])
	}
}

func TestEventRequiresName(t *testing.T) {
	if err := Event(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank event name")
	}
}
