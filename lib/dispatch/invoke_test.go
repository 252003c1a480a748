// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/osaurus-run/core/lib/pluginhost"
)

type fakeInvokePlugin struct {
	response    string
	err         error
	lastKind    string
	lastID      string
	lastPayload string
}

func (f *fakeInvokePlugin) Invoke(kind, id, payloadJSON string) (string, error) {
	f.lastKind = kind
	f.lastID = id
	f.lastPayload = payloadJSON
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func decodePayload(t *testing.T, raw string) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("decoding payload %q: %v", raw, err)
	}
	return payload
}

func TestInvokeToolInjectsSecretsAndContext(t *testing.T) {
	plugin := &fakeInvokePlugin{response: `{"ok":true}`}
	inv := NewInvoker(nil)

	result, err := inv.InvokeTool(context.Background(), plugin, "fetch", `{"url":"https://example.com"}`, InvokeContext{
		Secrets:          map[string]string{"api_key": "k-123"},
		WorkingDirectory: "/work/session-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != `{"ok":true}` {
		t.Fatalf("unexpected result: %s", result)
	}
	if plugin.lastKind != "tool" || plugin.lastID != "fetch" {
		t.Fatalf("unexpected invoke args: kind=%s id=%s", plugin.lastKind, plugin.lastID)
	}

	payload := decodePayload(t, plugin.lastPayload)
	if payload["url"] != "https://example.com" {
		t.Fatalf("caller field lost: %v", payload)
	}
	secrets, ok := payload["_secrets"].(map[string]any)
	if !ok || secrets["api_key"] != "k-123" {
		t.Fatalf("expected injected _secrets, got %v", payload["_secrets"])
	}
	contextValue, ok := payload["_context"].(map[string]any)
	if !ok || contextValue["working_directory"] != "/work/session-1" {
		t.Fatalf("expected injected _context, got %v", payload["_context"])
	}
}

func TestInvokeToolOmitsReservedKeysWhenAbsent(t *testing.T) {
	plugin := &fakeInvokePlugin{response: `{}`}
	inv := NewInvoker(nil)

	if _, err := inv.InvokeTool(context.Background(), plugin, "noop", `{"a":1}`, InvokeContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := decodePayload(t, plugin.lastPayload)
	if _, ok := payload["_secrets"]; ok {
		t.Fatal("_secrets injected with no configured secrets")
	}
	if _, ok := payload["_context"]; ok {
		t.Fatal("_context injected with no working directory")
	}
}

func TestInvokeToolOverwritesCallerReservedKeys(t *testing.T) {
	plugin := &fakeInvokePlugin{response: `{}`}
	inv := NewInvoker(nil)

	callerPayload := `{"_secrets":{"stolen":"x"},"_context":{"working_directory":"/tmp/forged"}}`
	if _, err := inv.InvokeTool(context.Background(), plugin, "noop", callerPayload, InvokeContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := decodePayload(t, plugin.lastPayload)
	if _, ok := payload["_secrets"]; ok {
		t.Fatal("caller-supplied _secrets survived injection")
	}
	if _, ok := payload["_context"]; ok {
		t.Fatal("caller-supplied _context survived injection")
	}
}

func TestInvokeToolEmptyPayload(t *testing.T) {
	plugin := &fakeInvokePlugin{response: `{}`}
	inv := NewInvoker(nil)

	if _, err := inv.InvokeTool(context.Background(), plugin, "noop", "", InvokeContext{Secrets: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := decodePayload(t, plugin.lastPayload)
	if len(payload) != 1 {
		t.Fatalf("expected only _secrets in payload, got %v", payload)
	}
}

func TestInvokeToolNullReturn(t *testing.T) {
	plugin := &fakeInvokePlugin{err: errors.New("invoke returned NULL")}
	inv := NewInvoker(nil)

	_, err := inv.InvokeTool(context.Background(), plugin, "noop", "{}", InvokeContext{})
	if !errors.Is(err, ErrPluginReturnedNull) {
		t.Fatalf("expected ErrPluginReturnedNull, got %v", err)
	}
}

func TestInvokeToolTimeout(t *testing.T) {
	queue := NewQueue()
	defer queue.Close()

	inv := NewInvoker(queue)
	inv.CallTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	slow := &slowInvokePlugin{release: release}

	_, err := inv.InvokeTool(context.Background(), slow, "slow", "{}", InvokeContext{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

type slowInvokePlugin struct {
	release chan struct{}
}

func (s *slowInvokePlugin) Invoke(kind, id, payloadJSON string) (string, error) {
	<-s.release
	return "{}", nil
}

func TestInvokeToolUnloadingIsNotANullReturn(t *testing.T) {
	plugin := &fakeInvokePlugin{err: fmt.Errorf("%w: com.example.kv", pluginhost.ErrUnloading)}
	inv := NewInvoker(nil)

	_, err := inv.InvokeTool(context.Background(), plugin, "noop", "{}", InvokeContext{})
	if !errors.Is(err, pluginhost.ErrUnloading) {
		t.Fatalf("expected ErrUnloading to pass through, got %v", err)
	}
	if errors.Is(err, ErrPluginReturnedNull) {
		t.Fatal("teardown race mislabeled as a NULL return")
	}
}
