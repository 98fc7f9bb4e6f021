package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"certledger.org/internal/auth"
	"certledger.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	prev := *obs.Logger()
	var buf bytes.Buffer
	obs.SetLogger(obs.NewJSONLogger(&buf, "info"))
	defer obs.SetLogger(prev)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithCaller(ctx, auth.Caller{Account: "owner.near", Method: auth.MethodAPIKey})

	if err := LogEvent(ctx, "issuer.add", map[string]any{"account": "alice.near"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.Bytes()
	if len(line) == 0 {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "issuer.add" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["caller"] != "owner.near" || entry["auth_method"] != "api_key" {
		t.Fatalf("unexpected caller: %v / %v", entry["caller"], entry["auth_method"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["account"] != "alice.near" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
