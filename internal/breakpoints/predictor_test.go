package breakpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// writeTestMap writes a .js.map with two generated-line mappings into
// the same authored source: gen(0,0) -> src(0,0) and gen(1,4) ->
// src(1,2), the same two-entry shape sourcemap's own tests use.
func writeTestMap(t *testing.T, dir, name string) {
	t.Helper()
	raw := map[string]interface{}{
		"version":  3,
		"sources":  []string{"app.ts"},
		"names":    []string{},
		"mappings": "AAAA;IACE",
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPredictedResolvedLocationsFiltersByRequestedPosition(t *testing.T) {
	dir := t.TempDir()
	writeTestMap(t, dir, "app.js.map")

	p := NewPredictor(dir)
	if err := p.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	authoredPath := filepath.Join(dir, "app.ts")

	atOrigin := p.PredictedResolvedLocations(authoredPath, 0, 0)
	if len(atOrigin) != 1 || atOrigin[0].CompiledLine != 0 || atOrigin[0].CompiledColumn != 0 {
		t.Errorf("PredictedResolvedLocations(0,0) = %+v, want one entry at gen(0,0)", atOrigin)
	}

	atSecondLine := p.PredictedResolvedLocations(authoredPath, 1, 2)
	if len(atSecondLine) != 1 || atSecondLine[0].CompiledLine != 1 || atSecondLine[0].CompiledColumn != 4 {
		t.Errorf("PredictedResolvedLocations(1,2) = %+v, want one entry at gen(1,4)", atSecondLine)
	}

	noMatch := p.PredictedResolvedLocations(authoredPath, 5, 0)
	if len(noMatch) != 0 {
		t.Errorf("PredictedResolvedLocations(5,0) = %+v, want no entries past every mapped source line", noMatch)
	}
}

func TestPredictedResolvedLocationsAcrossMultipleCompiledMaps(t *testing.T) {
	dir := t.TempDir()
	writeTestMap(t, dir, "app.js.map")
	writeTestMap(t, dir, "app2.js.map")

	p := NewPredictor(dir)
	authoredPath := filepath.Join(dir, "app.ts")

	locs := p.PredictedResolvedLocations(authoredPath, 0, 0)
	if len(locs) != 2 {
		t.Fatalf("PredictedResolvedLocations = %+v, want one match per compiled map", locs)
	}
	urls := map[string]bool{locs[0].CompiledURL: true, locs[1].CompiledURL: true}
	if !urls[filepath.Join(dir, "app.js")] || !urls[filepath.Join(dir, "app2.js")] {
		t.Errorf("expected both app.js and app2.js compiled URLs, got %+v", locs)
	}
}
