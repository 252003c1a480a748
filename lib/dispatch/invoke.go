// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osaurus-run/core/lib/pluginhost"
)

// Reserved payload keys the host injects into every tool invocation.
// Plugins must not rely on callers providing them; the host overwrites
// any caller-supplied value.
const (
	payloadSecretsKey = "_secrets"
	payloadContextKey = "_context"
)

// invokeKindTool is the type argument passed to invoke() for tool
// calls.
const invokeKindTool = "tool"

// InvokePlugin is the subset of a loaded plugin's surface the Invoker
// needs.
type InvokePlugin interface {
	Invoke(kind, id, payloadJSON string) (string, error)
}

// InvokeContext carries the host-injected values for one tool call:
// the plugin's configured secrets (injected as _secrets when any
// exist) and the active working directory (injected as
// _context.working_directory when set).
type InvokeContext struct {
	Secrets          map[string]string
	WorkingDirectory string
}

// Invoker runs tool invocations on the shared work queue, injecting
// the reserved payload keys before the call crosses the ABI.
type Invoker struct {
	queue *Queue

	// CallTimeout bounds the wait on each invoke call. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration
}

// NewInvoker builds an Invoker over the shared work queue. A nil queue
// runs calls inline on the caller's goroutine.
func NewInvoker(queue *Queue) *Invoker {
	return &Invoker{queue: queue}
}

// InvokeTool calls toolID on the plugin with payloadJSON augmented by
// the injected keys. A NULL return from the plugin surfaces as
// ErrPluginReturnedNull, distinct from a timeout or a legitimate
// {"error":...} response the plugin produced itself.
func (inv *Invoker) InvokeTool(ctx context.Context, plugin InvokePlugin, toolID, payloadJSON string, callCtx InvokeContext) (string, error) {
	payload, err := injectPayload(payloadJSON, callCtx)
	if err != nil {
		return "", fmt.Errorf("dispatch: building tool payload: %w", err)
	}

	timeout := inv.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}

	var result string
	if inv.queue == nil {
		result, err = plugin.Invoke(invokeKindTool, toolID, payload)
	} else {
		queueCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		result, err = inv.queue.Do(queueCtx, func() (string, error) {
			return plugin.Invoke(invokeKindTool, toolID, payload)
		})
	}
	if err != nil {
		// A call racing teardown (ErrUnloading), a timeout, or
		// cancellation is its own failure mode, not a NULL return from
		// the plugin.
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrQueueClosed) ||
			errors.Is(err, pluginhost.ErrUnloading) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrPluginReturnedNull, err)
	}
	return result, nil
}

// injectPayload merges the reserved keys into the caller's payload
// object, leaving every other caller-provided field's value unchanged.
// The result is re-encoded: keys come out sorted and values compacted.
func injectPayload(payloadJSON string, callCtx InvokeContext) (string, error) {
	payload := make(map[string]json.RawMessage)
	if trimmed := strings.TrimSpace(payloadJSON); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
			return "", fmt.Errorf("decoding payload object: %w", err)
		}
	}

	if len(callCtx.Secrets) > 0 {
		raw, err := json.Marshal(callCtx.Secrets)
		if err != nil {
			return "", err
		}
		payload[payloadSecretsKey] = raw
	} else {
		delete(payload, payloadSecretsKey)
	}

	if callCtx.WorkingDirectory != "" {
		raw, err := json.Marshal(map[string]string{"working_directory": callCtx.WorkingDirectory})
		if err != nil {
			return "", err
		}
		payload[payloadContextKey] = raw
	} else {
		delete(payload, payloadContextKey)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
