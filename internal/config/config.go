// Package config provides configuration management for the debug
// adapter server.
//
// Configuration controls:
//   - Storage root for per-launch browser profile directories (§6
//     persistent state)
//   - Default launch/attach timeouts
//   - Per-runtime-family defaults (browser vs Node)
//   - MaxSessions and SessionIdleTimeout fields, which are loaded but
//     not read by any other code in the adapter
//
// Configuration can be loaded from a JSON file or use sensible defaults.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// StorageRoot is the directory under which per-launch browser
	// profile directories (§6) are created. Defaults to an OS temp
	// subdirectory.
	StorageRoot string `json:"storageRoot"`

	// LaunchTimeout bounds how long a Chrome/Edge launch polls the
	// browser's remote-debugging endpoint before giving up.
	LaunchTimeout time.Duration `json:"launchTimeout"`

	// AttachTimeout bounds how long a Node launch polls the new
	// process's inspector port before giving up. Attaching to an
	// already-running runtime does not use it.
	AttachTimeout time.Duration `json:"attachTimeout"`

	Browser BrowserConfig `json:"browser"`
	Node    NodeConfig    `json:"node"`

	// MaxSessions is loaded from the config file but read by no other
	// code; the number of concurrent sessions is not capped.
	MaxSessions int `json:"maxSessions"`

	// SessionIdleTimeout is loaded from the config file but read by no
	// other code; idle sessions are not torn down.
	SessionIdleTimeout time.Duration `json:"sessionIdleTimeout"`
}

// BrowserConfig holds defaults for pwa-chrome / pwa-msedge launches.
type BrowserConfig struct {
	ExecutablePath string `json:"executablePath"`
	Headless       bool   `json:"headless"`
	// ProfileDirName is the subdirectory of StorageRoot used when the
	// launch configuration doesn't request userDataDir persistence.
	ProfileDirName string `json:"profileDirName"`
}

// NodeConfig holds defaults for pwa-node launches.
type NodeConfig struct {
	RuntimeExecutable string `json:"runtimeExecutable"`
	// SourceMapPathOverrides seeds the pathresolver's override table
	// with the common bundler prefixes (webpack:///, meteor://) when a
	// launch configuration doesn't supply its own.
	SourceMapPathOverrides map[string]string `json:"sourceMapPathOverrides"`
}

// defaultSourceMapPathOverrides mirrors vscode-js-debug's own bundler
// defaults for webpack and Meteor; it has no entry for Vite's virtual
// modules.
func defaultSourceMapPathOverrides() map[string]string {
	return map[string]string{
		"webpack:///./~/*": "${webRoot}/node_modules/*",
		"webpack:///./*":   "${webRoot}/*",
		"webpack:///*":     "*",
		"webpack://?:*/*":  "${webRoot}/*",
		"meteor://app/*":   "${webRoot}/*",
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StorageRoot:        filepath.Join(os.TempDir(), "jsdbg"),
		LaunchTimeout:      10 * time.Second,
		AttachTimeout:      10 * time.Second,
		MaxSessions:        10,
		SessionIdleTimeout: 30 * time.Minute,
		Browser: BrowserConfig{
			Headless:       false,
			ProfileDirName: ".profile",
		},
		Node: NodeConfig{
			RuntimeExecutable:      "node",
			SourceMapPathOverrides: defaultSourceMapPathOverrides(),
		},
	}
}

// LoadConfig loads configuration from a JSON file, falling back to
// DefaultConfig for any field the file doesn't set.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ProfileDir returns the profile directory for a launch, scoped by id
// (typically the session or target uuid) under StorageRoot.
func (c *Config) ProfileDir(id string) string {
	name := c.Browser.ProfileDirName
	if c.Browser.Headless {
		name = ".headless-profile"
	}
	return filepath.Join(c.StorageRoot, id, name)
}
