// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/osaurus-run/core/lib/pluginhost"
	"github.com/osaurus-run/core/lib/ratelimit"
)

type fakePlugin struct {
	hasHandler bool
	response   string
	err        error
	lastReq    string
}

func (f *fakePlugin) HasRouteHandler() bool { return f.hasHandler }

func (f *fakePlugin) HandleRoute(requestJSON string) (string, error) {
	f.lastReq = requestJSON
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newDispatcher() *Dispatcher {
	routes := []pluginhost.RouteSpec{
		{ID: "open", Path: "/open", Methods: []string{"GET"}, Auth: AuthNone},
		{ID: "admin", Path: "/admin", Methods: []string{"GET"}, Auth: AuthOwner},
	}
	return New(routes, ratelimit.New(), nil)
}

func TestDispatchRouteNotFound(t *testing.T) {
	d := newDispatcher()
	_, err := d.Dispatch(context.Background(), &fakePlugin{hasHandler: true}, nil, Request{Method: "GET", Subpath: "/missing"})
	if err != ErrRouteNotFound {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestDispatchSuccess(t *testing.T) {
	plugin := &fakePlugin{hasHandler: true, response: `{"status":200,"body":"ok"}`}
	d := newDispatcher()

	resp, err := d.Dispatch(context.Background(), plugin, nil, Request{
		Method:   "GET",
		Subpath:  "/open",
		PluginID: "p",
		Headers:  map[string]string{"accept": "text/plain"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	var req map[string]any
	if err := json.Unmarshal([]byte(plugin.lastReq), &req); err != nil {
		t.Fatalf("decoding request JSON: %v", err)
	}
	if req["route_id"] != "open" {
		t.Fatalf("expected route_id open, got %v", req["route_id"])
	}
}

func TestDispatchOwnerRouteBypassesRateLimit(t *testing.T) {
	routes := []pluginhost.RouteSpec{{ID: "admin", Path: "/admin", Methods: []string{"GET"}, Auth: AuthOwner}}
	limiter := ratelimit.NewWithRates(1, 0)
	d := New(routes, limiter, nil)
	plugin := &fakePlugin{hasHandler: true, response: `{"status":200}`}

	for i := 0; i < 5; i++ {
		if _, err := d.Dispatch(context.Background(), plugin, nil, Request{Method: "GET", Subpath: "/admin", PluginID: "p"}); err != nil {
			t.Fatalf("owner route call %d should bypass rate limiting: %v", i, err)
		}
	}
}

func TestDispatchNoneRouteIsRateLimited(t *testing.T) {
	routes := []pluginhost.RouteSpec{{ID: "open", Path: "/open", Methods: []string{"GET"}, Auth: AuthNone}}
	limiter := ratelimit.NewWithRates(1, 0)
	d := New(routes, limiter, nil)
	plugin := &fakePlugin{hasHandler: true, response: `{"status":200}`}

	if _, err := d.Dispatch(context.Background(), plugin, nil, Request{Method: "GET", Subpath: "/open", PluginID: "p"}); err != nil {
		t.Fatalf("first call should be admitted: %v", err)
	}
	if _, err := d.Dispatch(context.Background(), plugin, nil, Request{Method: "GET", Subpath: "/open", PluginID: "p"}); err != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestDispatchNoRouteHandler(t *testing.T) {
	d := newDispatcher()
	_, err := d.Dispatch(context.Background(), &fakePlugin{hasHandler: false}, nil, Request{Method: "GET", Subpath: "/open", PluginID: "p"})
	if err != ErrRouteHandlerNotAvailable {
		t.Fatalf("expected ErrRouteHandlerNotAvailable, got %v", err)
	}
}

func TestParseResponseBase64Body(t *testing.T) {
	raw := []byte{0xff, 0x00, 0xfe}
	encoded := base64.StdEncoding.EncodeToString(raw)
	resp, err := parseResponseJSON(`{"status":200,"body":"` + encoded + `","body_encoding":"base64"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != string(raw) {
		t.Fatalf("expected decoded bytes %v, got %v", raw, resp.Body)
	}
}

func TestBuildRequestJSONBase64EncodesNonUTF8Body(t *testing.T) {
	raw, err := buildRequestJSON("r", Request{Body: []byte{0xff, 0xfe, 0xfd}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var wire wireRequest
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if wire.BodyEncoding != "base64" {
		t.Fatalf("expected base64 encoding for non-UTF8 body, got %s", wire.BodyEncoding)
	}
}
