package sourcemap

import (
	"encoding/json"
	"testing"
)

// buildTestMap encodes a tiny source map by hand: two generated lines,
// each with one mapped segment back into a single authored source.
func buildTestMap(t *testing.T) *SourceMap {
	t.Helper()

	// Line 0: segment (genCol=0, srcIdx=0, srcLine=0, srcCol=0)
	// Line 1: segment (genCol=4, srcIdx=0, srcLine=1, srcCol=2)
	line0 := encodeVLQSegment([]int{0, 0, 0, 0})
	line1 := encodeVLQSegment([]int{4, 0, 1, 2})
	mappings := line0 + ";" + line1

	raw := rawV3{
		Version:  3,
		Sources:  []string{"foo.ts"},
		Names:    []string{},
		Mappings: mappings,
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	sm, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return sm
}

func TestParseSortsEntriesByGeneratedPosition(t *testing.T) {
	sm := buildTestMap(t)
	for i := 1; i < len(sm.entries); i++ {
		prev, cur := sm.entries[i-1], sm.entries[i]
		if cur.GeneratedLine < prev.GeneratedLine ||
			(cur.GeneratedLine == prev.GeneratedLine && cur.GeneratedColumn < prev.GeneratedColumn) {
			t.Fatalf("entries not sorted: %+v before %+v", prev, cur)
		}
	}
}

func TestFindEntry(t *testing.T) {
	sm := buildTestMap(t)

	e, ok := sm.FindEntry(1, 10)
	if !ok {
		t.Fatal("expected an entry")
	}
	if e.GeneratedLine != 1 || e.GeneratedColumn != 4 {
		t.Errorf("got (%d,%d), want (1,4)", e.GeneratedLine, e.GeneratedColumn)
	}
	if !e.HasSource || e.SourceURL != "foo.ts" || e.SourceLine != 1 || e.SourceColumn != 2 {
		t.Errorf("unexpected source mapping: %+v", e)
	}

	if _, ok := sm.FindEntry(0, -1); ok {
		t.Error("expected no entry before the first mapping")
	}
}

func TestFindReverseEntry(t *testing.T) {
	sm := buildTestMap(t)

	e, ok := sm.FindReverseEntry("foo.ts", 0, 0)
	if !ok {
		t.Fatal("expected a reverse entry")
	}
	if e.GeneratedLine != 0 || e.GeneratedColumn != 0 {
		t.Errorf("got (%d,%d), want (0,0)", e.GeneratedLine, e.GeneratedColumn)
	}

	// Past the last mapping on line 1 falls back to the last entry on that line.
	e, ok = sm.FindReverseEntry("foo.ts", 1, 100)
	if !ok {
		t.Fatal("expected fallback to the last entry on the source line")
	}
	if e.SourceLine != 1 {
		t.Errorf("got sourceLine %d, want 1", e.SourceLine)
	}

	if _, ok := sm.FindReverseEntry("missing.ts", 0, 0); ok {
		t.Error("expected no entries for an unreferenced source")
	}
}

func TestParseRejectsSectionsWithURL(t *testing.T) {
	data := []byte(`{
		"version": 3,
		"sections": [
			{"offset": {"line": 0, "column": 0}, "url": "external.map"}
		]
	}`)
	if _, err := Parse(data); err == nil {
		t.Fatal("expected an error for a section with a url field")
	}
}

func TestParseSections(t *testing.T) {
	inner := rawV3{
		Version:  3,
		Sources:  []string{"a.ts"},
		Names:    []string{},
		Mappings: encodeVLQSegment([]int{0, 0, 0, 0}),
	}
	innerData, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}
	var innerRaw rawV3
	if err := json.Unmarshal(innerData, &innerRaw); err != nil {
		t.Fatalf("unmarshal inner: %v", err)
	}

	outer := rawV3{
		Version: 3,
		Sections: []rawSection{
			{Map: &innerRaw},
		},
	}
	outer.Sections[0].Offset.Line = 5
	outer.Sections[0].Offset.Column = 2

	data, err := json.Marshal(outer)
	if err != nil {
		t.Fatalf("marshal outer: %v", err)
	}

	sm, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sm.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(sm.entries))
	}
	if sm.entries[0].GeneratedLine != 5 || sm.entries[0].GeneratedColumn != 2 {
		t.Errorf("got (%d,%d), want (5,2)", sm.entries[0].GeneratedLine, sm.entries[0].GeneratedColumn)
	}
}
