// Package sources implements the Source Translation Engine: a registry
// of runtime (compiled) and source-mapped (authored) sources, and
// translation between runtime-level RawLocations and editor-facing
// UiLocations.
package sources

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nodescope/jsdbg/internal/errors"
	"github.com/nodescope/jsdbg/internal/logging"
	"github.com/nodescope/jsdbg/internal/pathresolver"
	"github.com/nodescope/jsdbg/internal/sourcemap"
)

// Source is either a runtime-compiled script or an authored source
// reached through one of a compiled script's source maps.
type Source struct {
	// Reference is the DAP sourceReference: non-zero for every authored
	// source registered from a source map (whether or not it has an
	// absolute path), and 0 for every runtime-compiled script.
	Reference int

	URL          string
	AbsolutePath string

	// ScriptID is set when this Source represents a runtime-compiled
	// script directly (not an authored source reached via its map).
	ScriptID string

	// Content is the source text, populated on demand via Content().
	content     string
	contentErr  error
	contentOnce sync.Once
	contentFn   func() (string, error)

	// SourceMapURL/SourceMap are set if this compiled Source carries a
	// source map.
	SourceMapURL string
	SourceMap    *sourcemap.SourceMap
}

// Content returns the source text, fetching it lazily exactly once.
func (s *Source) Content() (string, error) {
	s.contentOnce.Do(func() {
		if s.contentFn != nil {
			s.content, s.contentErr = s.contentFn()
		}
	})
	return s.content, s.contentErr
}

// RawLocation is a runtime-level location: a script id and a
// zero-based line/column within it.
type RawLocation struct {
	ScriptID string
	Line     int
	Column   int
}

// UiLocation is an editor-facing location: a Source and a zero-based
// line/column within it.
type UiLocation struct {
	Source *Source
	Line   int
	Column int
}

// Fetcher retrieves the raw bytes of a source map, over HTTP or from
// the local filesystem, depending on the URL scheme.
type Fetcher interface {
	Fetch(url string) ([]byte, error)
}

// HTTPFileFetcher fetches http(s):// URLs over the network and
// file://-or-bare paths from the local filesystem.
type HTTPFileFetcher struct {
	Client *http.Client
}

// NewFetcher returns a Fetcher with a bounded-timeout HTTP client.
func NewFetcher() *HTTPFileFetcher {
	return &HTTPFileFetcher{Client: &http.Client{Timeout: 5 * time.Second}}
}

func (f *HTTPFileFetcher) Fetch(url string) ([]byte, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := f.Client.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
		}
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if err != nil {
				break
			}
		}
		return buf, nil
	}

	path := strings.TrimPrefix(url, "file://")
	return os.ReadFile(path)
}

// sibling records the compiled<->authored relationship discovered
// while registering a script's source map.
type sibling struct {
	compiled *Source
	authored *Source
}

// Container is the registry of all known Sources for one Thread's
// script table, indexed by URL, absolute path, and source reference.
type Container struct {
	log      *logging.Logger
	resolver *pathresolver.Resolver
	fetcher  Fetcher

	mu            sync.Mutex
	byURL         map[string]*Source
	byPath        map[string]*Source
	byRef         map[int]*Source
	byScriptID    map[string]*Source
	siblings       map[*Source][]sibling  // compiled -> its authored siblings
	authoredOwners map[*Source][]*Source  // authored -> every compiled script that maps to it
	nextRef        int
}

// NewContainer builds an empty Container.
func NewContainer(log *logging.Logger, resolver *pathresolver.Resolver, fetcher Fetcher) *Container {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	return &Container{
		log:            log,
		resolver:       resolver,
		fetcher:        fetcher,
		byURL:          make(map[string]*Source),
		byPath:         make(map[string]*Source),
		byRef:          make(map[int]*Source),
		byScriptID:     make(map[string]*Source),
		siblings:       make(map[*Source][]sibling),
		authoredOwners: make(map[*Source][]*Source),
	}
}

// RegisterScript registers a runtime-compiled script. If sourceMapURL
// is non-empty, its map is fetched and parsed (silent failure per
// spec.md §7 — logged, the compiled Source is still registered without
// a map) and every authored source it names is registered as a
// sibling of the compiled Source.
func (c *Container) RegisterScript(scriptID, url, sourceMapURL string) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := &Source{
		URL:          url,
		ScriptID:     scriptID,
		SourceMapURL: sourceMapURL,
	}
	if c.resolver != nil {
		src.AbsolutePath = c.resolver.UrlToAbsolutePath(url)
	}
	src.contentFn = func() (string, error) {
		data, err := c.fetcher.Fetch(url)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	c.index(src)

	if sourceMapURL == "" {
		return src
	}

	data, err := c.fetcher.Fetch(sourceMapURL)
	if err != nil {
		c.log.Warnf("%s", errors.SourceMapFetchFailed(sourceMapURL, err))
		return src
	}
	sm, err := sourcemap.Parse(data)
	if err != nil {
		c.log.Warnf("%s", errors.SourceMapParseFailed(sourceMapURL, err))
		return src
	}
	src.SourceMap = sm

	for _, sourceName := range sm.Sources {
		path := sourceName
		if c.resolver != nil {
			path = c.resolver.ApplySourceMapPathOverrides(sourceName)
		}
		authored := c.byPath[path]
		if authored == nil {
			authored = &Source{URL: sourceName, AbsolutePath: path}
			c.nextRef++
			authored.Reference = c.nextRef
			authored.contentFn = func() (string, error) {
				data, err := os.ReadFile(path)
				if err != nil {
					return "", err
				}
				return string(data), nil
			}
			c.index(authored)
		}
		c.siblings[src] = append(c.siblings[src], sibling{compiled: src, authored: authored})
		c.authoredOwners[authored] = append(c.authoredOwners[authored], src)
	}

	return src
}

func (c *Container) index(s *Source) {
	if s.URL != "" {
		c.byURL[s.URL] = s
	}
	if s.AbsolutePath != "" {
		c.byPath[s.AbsolutePath] = s
	}
	if s.Reference != 0 {
		c.byRef[s.Reference] = s
	}
	if s.ScriptID != "" {
		c.byScriptID[s.ScriptID] = s
	}
}

// SiblingsOf returns compiled's authored sibling Sources, discovered
// when its source map was registered.
func (c *Container) SiblingsOf(compiled *Source) []*Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	sibs := c.siblings[compiled]
	out := make([]*Source, 0, len(sibs))
	for _, s := range sibs {
		out = append(out, s.authored)
	}
	return out
}

// ByScriptID looks up the compiled Source registered for a runtime
// script id, returning nil if the script is unknown (e.g. a stale
// lookup after a script has been discarded).
func (c *Container) ByScriptID(scriptID string) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byScriptID[scriptID]
}

// BySourceReference looks up a Source by its DAP sourceReference.
func (c *Container) BySourceReference(ref int) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byRef[ref]
	return s, ok
}

// ByPath looks up a Source by absolute filesystem path.
func (c *Container) ByPath(path string) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byPath[path]
	return s, ok
}

// ByURL looks up a Source by runtime URL.
func (c *Container) ByURL(url string) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byURL[url]
	return s, ok
}

// CurrentSiblingUiLocations returns every UiLocation equivalent to loc,
// reachable through the compiled<->authored sibling relation. Idempotent
// and side-effect free.
//
//  1. If loc.Source is authored, for each compiled sibling, reverse-
//     lookup via its source map to a RawLocation, then translate that
//     raw location forward into that compiled script's own UiLocation.
//  2. If loc.Source is a compiled script with a map, forward-lookup
//     yields authored UiLocations.
//  3. If preferSource is non-nil, the result is filtered to that source.
func (c *Container) CurrentSiblingUiLocations(loc UiLocation, preferSource *Source) []UiLocation {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []UiLocation

	for _, owner := range c.authoredOwners[loc.Source] {
		if owner.SourceMap == nil {
			continue
		}
		if entry, found := owner.SourceMap.FindReverseEntry(loc.Source.URL, loc.Line, loc.Column); found {
			out = append(out, UiLocation{Source: owner, Line: entry.GeneratedLine, Column: entry.GeneratedColumn})
		}
	}

	if loc.Source.SourceMap != nil {
		if entry, found := loc.Source.SourceMap.FindEntry(loc.Line, loc.Column); found && entry.HasSource {
			if authored, ok := c.byPath[c.resolvedAuthoredPath(entry.SourceURL)]; ok {
				out = append(out, UiLocation{Source: authored, Line: entry.SourceLine, Column: entry.SourceColumn})
			}
		}
	}

	if preferSource == nil {
		return out
	}
	filtered := out[:0]
	for _, l := range out {
		if l.Source == preferSource {
			filtered = append(filtered, l)
		}
	}
	return filtered
}

func (c *Container) resolvedAuthoredPath(sourceName string) string {
	if c.resolver != nil {
		return c.resolver.ApplySourceMapPathOverrides(sourceName)
	}
	return sourceName
}
