package breakpoints

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nodescope/jsdbg/internal/sourcemap"
)

// PredictedLocation is one compiled-side location a breakpoint
// requested against an authored source is predicted to resolve to,
// discovered by scanning the workspace's .js.map files ahead of launch.
type PredictedLocation struct {
	CompiledURL    string
	CompiledLine   int
	CompiledColumn int
}

// mapRef is one .js.map discovered under rootPath that names a given
// authored source, kept alive (rather than flattened to entries at
// scan time) so PredictedResolvedLocations can reverse-query it at the
// requested (line, column) the same way SourceMap.FindReverseEntry
// does for a live, runtime-registered map.
type mapRef struct {
	compiledURL string
	sourceURL   string
	sm          *sourcemap.SourceMap
}

// Predictor implements §4.7's BreakpointPredictor: a one-shot scan of
// rootPath for .js.map files, indexed by authored source path so
// predictedResolvedLocations can answer without touching the runtime.
type Predictor struct {
	once sync.Once
	mu   sync.RWMutex
	// index maps an absolute authored source path to every .js.map that
	// names it as one of its sources.
	index map[string][]mapRef
	err   error

	rootPath string
}

// NewPredictor returns a Predictor scoped to rootPath, unscanned until
// the first call to Scan/PredictedResolvedLocations.
func NewPredictor(rootPath string) *Predictor {
	return &Predictor{rootPath: rootPath, index: make(map[string][]mapRef)}
}

// Scan walks rootPath for .js.map files exactly once per Predictor,
// memoizing the authored-path -> compiled-location index. Parse errors
// on individual maps are non-fatal: the file is skipped and scanning
// continues.
func (p *Predictor) Scan() error {
	p.once.Do(func() {
		if p.rootPath == "" {
			return
		}
		_ = filepath.Walk(p.rootPath, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if info.IsDir() || !strings.HasSuffix(path, ".js.map") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			sm, err := sourcemap.Parse(data)
			if err != nil {
				return nil
			}
			compiledURL := strings.TrimSuffix(path, ".map")
			dir := filepath.Dir(path)
			for _, src := range sm.Sources {
				authoredPath := src
				if !filepath.IsAbs(authoredPath) {
					authoredPath = filepath.Join(dir, src)
				}
				authoredPath = filepath.Clean(authoredPath)
				p.mu.Lock()
				p.index[authoredPath] = append(p.index[authoredPath], mapRef{
					compiledURL: compiledURL,
					sourceURL:   src,
					sm:          sm,
				})
				p.mu.Unlock()
			}
			return nil
		})
	})
	return p.err
}

// PredictedResolvedLocations reverse-queries every .js.map under
// rootPath whose sources include absolutePath, returning per map the
// compiled location of the nearest mapping at or after the requested
// (line, column), or, when there is none, of the last mapping on that
// line — the same semantics SourceMap.FindReverseEntry uses for a live,
// runtime-registered map.
func (p *Predictor) PredictedResolvedLocations(absolutePath string, line, column int) []PredictedLocation {
	_ = p.Scan()

	p.mu.RLock()
	refs := p.index[filepath.Clean(absolutePath)]
	p.mu.RUnlock()

	out := make([]PredictedLocation, 0, len(refs))
	for _, ref := range refs {
		entry, found := ref.sm.FindReverseEntry(ref.sourceURL, line, column)
		if !found {
			continue
		}
		out = append(out, PredictedLocation{
			CompiledURL:    ref.compiledURL,
			CompiledLine:   entry.GeneratedLine,
			CompiledColumn: entry.GeneratedColumn,
		})
	}
	return out
}
