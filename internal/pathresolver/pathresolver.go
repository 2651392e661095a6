// Package pathresolver translates between the URLs a runtime reports
// for its scripts and the absolute filesystem paths an editor can open,
// per the webRoot/baseUrl/sourceMapPathOverrides rules a launch
// configuration supplies.
package pathresolver

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Options configures a Resolver, mirroring the fields a pwa-node /
// pwa-chrome / pwa-msedge launch configuration supplies.
type Options struct {
	// WebRoot is the local directory the served/bundled sources live
	// under (e.g. the project's src/ directory).
	WebRoot string

	// BaseURL is the origin+path prefix the runtime serves WebRoot
	// from (e.g. "http://localhost:8080/").
	BaseURL string

	// SourceMapPathOverrides maps a "${webRoot}"-templated pattern to
	// a replacement, applied in iteration order before the built-in
	// webpack-prefix rules.
	SourceMapPathOverrides map[string]string

	// Remote indicates the runtime is not on the local filesystem
	// (e.g. a remote browser), so content-hash verification of
	// resolved paths should be skipped — the network may have
	// rewritten bytes in flight.
	Remote bool
}

// Resolver converts between a runtime's script URLs and local
// filesystem paths.
type Resolver struct {
	webRoot   string
	baseURL   *url.URL
	overrides map[string]string
	remote    bool
}

// New builds a Resolver from Options.
func New(opts Options) (*Resolver, error) {
	r := &Resolver{
		webRoot:   filepath.Clean(opts.WebRoot),
		overrides: opts.SourceMapPathOverrides,
		remote:    opts.Remote,
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("pathresolver: invalid baseUrl %q: %w", opts.BaseURL, err)
		}
		r.baseURL = u
	}
	return r, nil
}

// AbsolutePathToURL returns the URL the runtime would use to request
// path, if path lives under WebRoot; otherwise a file:// URL.
func (r *Resolver) AbsolutePathToURL(path string) string {
	path = filepath.Clean(path)

	if r.webRoot != "" && r.baseURL != nil {
		if rel, err := filepath.Rel(r.webRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
			rel = filepath.ToSlash(rel)
			base := strings.TrimSuffix(r.baseURL.String(), "/")
			return base + "/" + rel
		}
	}

	return "file://" + filepath.ToSlash(path)
}

var webpackPrefixRules = []struct {
	prefix      string
	replacement string // relative to webRoot, "" means webRoot itself
}{
	{"webpack:///./~/", "node_modules/"},
	{"webpack:///./", ""},
	{"webpack:///src/", ""},
	{"webpack:///", "\x00root\x00"}, // sentinel: becomes "/" + rest, not webRoot-relative
}

// UrlToAbsolutePath resolves a runtime-reported URL to a local
// filesystem path. Empty string and "/" are treated as index.html,
// matching a dev server's default document.
func (r *Resolver) UrlToAbsolutePath(rawURL string) string {
	if rawURL == "" || rawURL == "/" {
		rawURL = "index.html"
	}

	if strings.HasPrefix(rawURL, "file://") {
		return filepath.FromSlash(strings.TrimPrefix(rawURL, "file://"))
	}

	for _, rule := range webpackPrefixRules {
		if strings.HasPrefix(rawURL, rule.prefix) {
			rest := strings.TrimPrefix(rawURL, rule.prefix)
			if rule.replacement == "\x00root\x00" {
				return filepath.FromSlash("/" + rest)
			}
			return filepath.Join(r.webRoot, rule.replacement, filepath.FromSlash(rest))
		}
	}

	if r.baseURL != nil {
		if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" && u.Host == r.baseURL.Host {
			basePath := r.baseURL.Path
			if basePath == "" {
				basePath = "/"
			}
			rel, err := filepath.Rel(basePath, u.Path)
			if err == nil {
				return filepath.Join(r.webRoot, filepath.FromSlash(rel))
			}
		}
	}

	// A bare relative path (as sourcemap `sources` entries usually
	// are, e.g. "app.ts") is resolved against WebRoot rather than the
	// current working directory.
	converted := filepath.FromSlash(rawURL)
	if r.webRoot != "" && !filepath.IsAbs(converted) {
		if u, err := url.Parse(rawURL); err != nil || u.Scheme == "" {
			return filepath.Join(r.webRoot, converted)
		}
	}

	return converted
}

// ShouldCheckContentHash reports whether a resolved path's bytes
// should be verified against the script's reported hash before being
// trusted as the same content the runtime executed.
func (r *Resolver) ShouldCheckContentHash() bool {
	return r.remote
}

// ApplySourceMapPathOverrides rewrites a source-map-relative URL using
// the configured overrides table, substituting "${webRoot}" and
// trailing "*" wildcards, before falling back to UrlToAbsolutePath.
func (r *Resolver) ApplySourceMapPathOverrides(sourceURL string) string {
	for pattern, replacement := range r.overrides {
		if resolved, ok := applyOverride(pattern, replacement, sourceURL, r.webRoot); ok {
			return resolved
		}
	}
	return r.UrlToAbsolutePath(sourceURL)
}

func applyOverride(pattern, replacement, sourceURL, webRoot string) (string, bool) {
	pattern = strings.ReplaceAll(pattern, "${webRoot}", webRoot)
	replacement = strings.ReplaceAll(replacement, "${webRoot}", webRoot)

	// Translate the pattern's "*" wildcards into a single capture
	// group, quoting everything else literally.
	parts := strings.Split(pattern, "*")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = regexp.QuoteMeta(p)
	}
	patternRe := "^" + strings.Join(quoted, "(.*)") + "$"

	re, err := regexp.Compile(patternRe)
	if err != nil {
		return "", false
	}

	m := re.FindStringSubmatch(sourceURL)
	if m == nil {
		return "", false
	}

	capture := ""
	if len(m) > 1 {
		capture = m[1]
	}
	result := strings.Replace(replacement, "*", capture, 1)
	return filepath.FromSlash(result), true
}
