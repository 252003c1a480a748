// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import "encoding/json"

// RouteSpec is one HTTP route a plugin registers, immutable for the
// plugin's loaded lifetime.
type RouteSpec struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Auth        string   `json:"auth,omitempty"`
	Description string   `json:"description,omitempty"`
}

// AuthLevel normalises Auth, defaulting to "owner" when unset.
func (r RouteSpec) AuthLevel() string {
	if r.Auth == "" {
		return "owner"
	}
	return r.Auth
}

// ToolSpec is one invocable tool a plugin exposes.
type ToolSpec struct {
	ID               string          `json:"id"`
	Description      string          `json:"description,omitempty"`
	Parameters       json.RawMessage `json:"parameters,omitempty"`
	Requirements     []string        `json:"requirements,omitempty"`
	PermissionPolicy string          `json:"permission_policy,omitempty"`
}

// Capabilities groups the things a plugin can offer the host.
type Capabilities struct {
	Tools  []ToolSpec  `json:"tools,omitempty"`
	Routes []RouteSpec `json:"routes,omitempty"`
	Config []string    `json:"config,omitempty"`
	Web    bool        `json:"web,omitempty"`
}

// Manifest is the JSON document a plugin returns from get_manifest,
// describing its identity and capabilities.
type Manifest struct {
	PluginID     string       `json:"plugin_id"`
	Version      string       `json:"version,omitempty"`
	Description  string       `json:"description,omitempty"`
	Name         string       `json:"name,omitempty"`
	License      string       `json:"license,omitempty"`
	Authors      []string     `json:"authors,omitempty"`
	MinHost      string       `json:"min_host,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	Secrets      []string     `json:"secrets,omitempty"`
	Docs         []string     `json:"docs,omitempty"`
}

// ParseManifest decodes raw JSON into a Manifest. Agreement between
// PluginID and the install directory's expected id is checked by the
// caller, which knows that id.
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}
