// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch translates inbound HTTP requests into plugin
// invocations and plugin responses back into HTTP, applying route
// matching, bearer-key validation, and rate limiting in front of every
// call into a loaded plugin.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/osaurus-run/core/lib/accesskey"
	"github.com/osaurus-run/core/lib/pluginhost"
	"github.com/osaurus-run/core/lib/ratelimit"
	"github.com/osaurus-run/core/lib/routematch"
)

// Failure modes surfaced by Dispatch, matching the dispatch error
// taxonomy.
var (
	ErrRouteHandlerNotAvailable = errors.New("dispatch: plugin has no route handler")
	ErrPluginReturnedNull       = errors.New("dispatch: plugin returned NULL")
	ErrRateLimited              = errors.New("dispatch: rate limited")
	ErrUnauthorized             = errors.New("dispatch: unauthorized")
	ErrRouteNotFound            = errors.New("dispatch: no matching route")
	ErrTimeout                  = errors.New("dispatch: call timed out")
)

// DefaultCallTimeout bounds how long a caller waits on a single native
// call. The native call itself is never interrupted; on timeout its
// eventual result is discarded.
const DefaultCallTimeout = 30 * time.Second

// AuthNone, AuthVerify, and AuthOwner are the recognised route auth
// levels. Only AuthNone and AuthVerify are subject to rate limiting;
// AuthOwner bypasses it.
const (
	AuthNone   = "none"
	AuthVerify = "verify"
	AuthOwner  = "owner"
)

// Request is one inbound HTTP request to route to a plugin.
type Request struct {
	Method       string
	Subpath      string // path with the /plugins/<plugin_id> prefix removed
	Query        map[string]string
	Headers      map[string]string // lowercase keys, single-valued
	Body         []byte
	RemoteAddr   string
	PluginID     string
	BaseURL      string
	PluginURL    string
	BearerKeyRaw []byte // raw bytes of the Authorization bearer token, if present
}

// Response is the host-native form of a plugin's HTTP response, with
// body_encoding already resolved to raw bytes.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Plugin is the subset of a loaded plugin's surface Dispatch needs.
type Plugin interface {
	HasRouteHandler() bool
	HandleRoute(requestJSON string) (string, error)
}

// Dispatcher applies route matching, auth, and rate limiting in front
// of a plugin's route handler. All handle_route calls run on the shared
// work queue; a nil queue runs them inline on the caller's goroutine.
type Dispatcher struct {
	routes  []routematch.Route
	auth    map[string]string // route id -> auth level
	limiter *ratelimit.Limiter
	queue   *Queue

	// CallTimeout bounds the wait on each handle_route call. Zero
	// means DefaultCallTimeout.
	CallTimeout time.Duration
}

// New builds a Dispatcher from a plugin's declared routes.
func New(routes []pluginhost.RouteSpec, limiter *ratelimit.Limiter, queue *Queue) *Dispatcher {
	d := &Dispatcher{auth: make(map[string]string), limiter: limiter, queue: queue}
	for _, r := range routes {
		d.routes = append(d.routes, routematch.Route{ID: r.ID, Path: r.Path, Methods: r.Methods})
		d.auth[r.ID] = r.AuthLevel()
	}
	return d
}

// Dispatch resolves req's route, enforces auth and rate limiting, and
// if both pass, translates req to HTTP request JSON, calls the
// plugin's handle_route on the work queue, and translates the result
// back. A timeout resolves the caller with ErrTimeout while the native
// call runs to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, plugin Plugin, validator *accesskey.Validator, req Request) (Response, error) {
	route, ok := routematch.Match(d.routes, req.Method, req.Subpath)
	if !ok {
		return Response{}, ErrRouteNotFound
	}

	level := d.auth[route.ID]
	if level != AuthOwner {
		if !d.limiter.Allow(req.PluginID) {
			return Response{}, ErrRateLimited
		}
	}
	if level == AuthVerify {
		if validator == nil {
			return Response{}, ErrUnauthorized
		}
		if _, err := validator.Validate(req.BearerKeyRaw); err != nil {
			return Response{}, ErrUnauthorized
		}
	}

	if !plugin.HasRouteHandler() {
		return Response{}, ErrRouteHandlerNotAvailable
	}

	requestJSON, err := buildRequestJSON(route.ID, req)
	if err != nil {
		return Response{}, fmt.Errorf("dispatch: building request: %w", err)
	}

	resultJSON, err := d.call(ctx, func() (string, error) {
		return plugin.HandleRoute(requestJSON)
	})
	if err != nil {
		// A call racing teardown (ErrUnloading), a timeout, or
		// cancellation is its own failure mode, not a NULL return from
		// the plugin.
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrQueueClosed) ||
			errors.Is(err, pluginhost.ErrUnloading) || errors.Is(err, context.Canceled) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: %v", ErrPluginReturnedNull, err)
	}

	return parseResponseJSON(resultJSON)
}

// call runs fn on the work queue under the dispatcher's call timeout,
// or inline when no queue is configured.
func (d *Dispatcher) call(ctx context.Context, fn func() (string, error)) (string, error) {
	if d.queue == nil {
		return fn()
	}
	timeout := d.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.queue.Do(callCtx, fn)
}

type wireRequest struct {
	RouteID      string            `json:"route_id"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	Query        map[string]string `json:"query"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	BodyEncoding string            `json:"body_encoding"`
	RemoteAddr   string            `json:"remote_addr"`
	PluginID     string            `json:"plugin_id"`
	Osaurus      wireOsaurus       `json:"osaurus"`
}

type wireOsaurus struct {
	BaseURL   string `json:"base_url"`
	PluginURL string `json:"plugin_url"`
}

func buildRequestJSON(routeID string, req Request) (string, error) {
	body := req.Body
	encoding := "utf8"
	bodyField := string(body)
	if !utf8.Valid(body) {
		encoding = "base64"
		bodyField = base64.StdEncoding.EncodeToString(body)
	}

	wire := wireRequest{
		RouteID:      routeID,
		Method:       strings.ToUpper(req.Method),
		Path:         req.Subpath,
		Query:        req.Query,
		Headers:      req.Headers,
		Body:         bodyField,
		BodyEncoding: encoding,
		RemoteAddr:   req.RemoteAddr,
		PluginID:     req.PluginID,
		Osaurus:      wireOsaurus{BaseURL: req.BaseURL, PluginURL: req.PluginURL},
	}

	encoded, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

type wireResponse struct {
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	BodyEncoding string            `json:"body_encoding,omitempty"`
}

func parseResponseJSON(raw string) (Response, error) {
	var wire wireResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Response{}, fmt.Errorf("dispatch: decoding plugin response: %w", err)
	}

	var body []byte
	switch wire.BodyEncoding {
	case "", "utf8":
		body = []byte(wire.Body)
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(wire.Body)
		if err != nil {
			return Response{}, fmt.Errorf("dispatch: decoding base64 body: %w", err)
		}
		body = decoded
	default:
		return Response{}, fmt.Errorf("dispatch: unknown body_encoding %q", wire.BodyEncoding)
	}

	return Response{Status: wire.Status, Headers: wire.Headers, Body: body}, nil
}
