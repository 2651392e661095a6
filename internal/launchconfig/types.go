// Package launchconfig provides support for VS Code-style launch.json
// debug configurations, trimmed to the pwa-node / pwa-chrome /
// pwa-msedge fields the adapter actually understands.
package launchconfig

import (
	"encoding/json"
)

// LaunchJSON represents a VS Code launch.json file structure.
type LaunchJSON struct {
	Version        string               `json:"version"`
	Configurations []DebugConfiguration `json:"configurations"`
	Compounds      []CompoundConfig     `json:"compounds,omitempty"`
	Inputs         []InputConfig        `json:"inputs,omitempty"`
}

// DebugConfiguration represents a single debug configuration in launch.json.
type DebugConfiguration struct {
	// Required fields
	Type    string `json:"type"`    // "pwa-node", "pwa-chrome", "pwa-msedge"
	Request string `json:"request"` // "launch" or "attach"
	Name    string `json:"name"`    // Human-readable name

	// Common optional fields
	Program     string            `json:"program,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry,omitempty"`
	Console     string            `json:"console,omitempty"`

	// Attach-specific fields
	Port      int    `json:"port,omitempty"`
	Host      string `json:"host,omitempty"`
	ProcessID int    `json:"processId,omitempty"`

	// Browser debugging fields
	URL            string `json:"url,omitempty"`
	WebRoot        string `json:"webRoot,omitempty"`
	Headless       bool   `json:"headless,omitempty"`
	UserDataDir    string `json:"userDataDir,omitempty"`
	ExecutablePath string `json:"executablePath,omitempty"`

	// Node.js specific
	RuntimeExecutable string   `json:"runtimeExecutable,omitempty"`
	RuntimeArgs       []string `json:"runtimeArgs,omitempty"`

	// Source map configuration
	SourceMaps             *bool             `json:"sourceMaps,omitempty"`
	SourceMapPathOverrides map[string]string `json:"sourceMapPathOverrides,omitempty"`

	// Skip/blackbox configuration (§4.3)
	SkipFiles []string `json:"skipFiles,omitempty"`

	// Task integration
	PreLaunchTask string `json:"preLaunchTask,omitempty"`
	PostDebugTask string `json:"postDebugTask,omitempty"`

	// Presentation hints
	Presentation *PresentationConfig `json:"presentation,omitempty"`

	// All other properties not explicitly defined.
	Extra map[string]interface{} `json:"-"`
}

// CompoundConfig represents a compound configuration that launches multiple debug sessions.
type CompoundConfig struct {
	Name           string              `json:"name"`
	Configurations []string            `json:"configurations"`
	PreLaunchTask  string              `json:"preLaunchTask,omitempty"`
	StopAll        bool                `json:"stopAll,omitempty"`
	Presentation   *PresentationConfig `json:"presentation,omitempty"`
}

// InputConfig represents a user input variable definition.
type InputConfig struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"` // "promptString", "pickString", "command"
	Description string      `json:"description,omitempty"`
	Default     string      `json:"default,omitempty"`
	Options     []string    `json:"options,omitempty"` // For pickString
	Command     string      `json:"command,omitempty"` // For command type
	Args        interface{} `json:"args,omitempty"`    // For command type
}

// PresentationConfig controls how the configuration appears in an editor's UI.
type PresentationConfig struct {
	Hidden bool   `json:"hidden,omitempty"`
	Group  string `json:"group,omitempty"`
	Order  int    `json:"order,omitempty"`
}

// ResolutionContext provides context for variable resolution.
type ResolutionContext struct {
	WorkspaceFolder string            // Root folder of the workspace
	CurrentFile     string            // Currently active file (for ${file} variables)
	LineNumber      int               // Current line number (for ${lineNumber})
	SelectedText    string            // Currently selected text (for ${selectedText})
	InputValues     map[string]string // Pre-provided values for ${input:} variables
	EnvOverrides    map[string]string // Override environment variables
}

// UnmarshalJSON implements custom unmarshaling to capture unknown fields.
func (c *DebugConfiguration) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type Alias DebugConfiguration
	var alias Alias

	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	*c = DebugConfiguration(alias)

	knownFields := map[string]bool{
		"type": true, "request": true, "name": true,
		"program": true, "args": true, "cwd": true, "env": true,
		"stopOnEntry": true, "console": true,
		"port": true, "host": true, "processId": true,
		"url": true, "webRoot": true, "headless": true,
		"userDataDir": true, "executablePath": true,
		"runtimeExecutable": true, "runtimeArgs": true,
		"sourceMaps": true, "sourceMapPathOverrides": true,
		"skipFiles":     true,
		"preLaunchTask": true, "postDebugTask": true,
		"presentation": true,
	}

	c.Extra = make(map[string]interface{})
	for key, value := range raw {
		if !knownFields[key] {
			var v interface{}
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			c.Extra[key] = v
		}
	}

	return nil
}

// MarshalJSON implements custom marshaling to include Extra fields.
func (c DebugConfiguration) MarshalJSON() ([]byte, error) {
	type Alias DebugConfiguration
	alias := Alias(c)

	data, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}

	if len(c.Extra) == 0 {
		return data, nil
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	for k, v := range c.Extra {
		m[k] = v
	}

	return json.Marshal(m)
}

// IsLaunchRequest returns true if this is a launch configuration (not attach).
func (c *DebugConfiguration) IsLaunchRequest() bool {
	return c.Request == "launch"
}

// IsAttachRequest returns true if this is an attach configuration.
func (c *DebugConfiguration) IsAttachRequest() bool {
	return c.Request == "attach"
}

// IsBrowserTarget returns true if this targets a Chromium-family browser.
func (c *DebugConfiguration) IsBrowserTarget() bool {
	switch c.Type {
	case "pwa-chrome", "pwa-msedge":
		return true
	}
	return false
}

// IsNodeTarget returns true if this targets a Node-like runtime.
func (c *DebugConfiguration) IsNodeTarget() bool {
	return c.Type == "pwa-node"
}

// GetTarget returns the runtime family identifier (chrome, edge, node).
func (c *DebugConfiguration) GetTarget() string {
	switch c.Type {
	case "pwa-chrome":
		return "chrome"
	case "pwa-msedge":
		return "edge"
	case "pwa-node":
		return "node"
	}
	return ""
}
