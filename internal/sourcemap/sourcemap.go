// Package sourcemap parses V3 source maps and answers forward
// (generated → authored) and reverse (authored → generated) coordinate
// lookups.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Entry is one decoded mapping: a generated position, and, if the
// segment carried source information, the authored position it maps
// to.
type Entry struct {
	GeneratedLine   int
	GeneratedColumn int

	HasSource    bool
	SourceURL    string
	SourceLine   int
	SourceColumn int

	HasName bool
	Name    string
}

// rawV3 mirrors the on-the-wire JSON shape of a V3 source map.
type rawV3 struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	SourceRoot     string   `json:"sourceRoot,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`

	Sections []rawSection `json:"sections,omitempty"`
}

type rawSection struct {
	Offset struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	} `json:"offset"`
	Map *rawV3 `json:"map,omitempty"`
	URL string `json:"url,omitempty"`
}

// SourceMap is a parsed V3 source map ready for lookups.
type SourceMap struct {
	Version int
	File    string
	Sources []string
	Names   []string

	// entries is sorted by (GeneratedLine, GeneratedColumn) ascending,
	// the invariant §4.1 requires after construction.
	entries []Entry

	reverseMu    sync.Mutex
	reverseBuilt map[string]bool
	reverse      map[string][]Entry
}

// Parse decodes a V3 source map, with or without an index-map
// `sections` array. Sections carrying a bare `url` field (no embedded
// map) are rejected — resolving remote section maps is out of scope.
func Parse(data []byte) (*SourceMap, error) {
	var raw rawV3
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("sourcemap: invalid JSON: %w", err)
	}

	if len(raw.Sections) > 0 {
		return parseSections(&raw)
	}
	return parseSingle(&raw, 0, 0)
}

func parseSections(raw *rawV3) (*SourceMap, error) {
	sm := &SourceMap{Version: 3}

	for _, sec := range raw.Sections {
		if sec.Map == nil {
			return nil, fmt.Errorf("sourcemap: section at (%d,%d) has a url field instead of an embedded map, which is not supported", sec.Offset.Line, sec.Offset.Column)
		}
		part, err := parseSingle(sec.Map, sec.Offset.Line, sec.Offset.Column)
		if err != nil {
			return nil, err
		}
		sm.Sources = append(sm.Sources, part.Sources...)
		sm.Names = append(sm.Names, part.Names...)
		sm.entries = append(sm.entries, part.entries...)
	}

	sortEntries(sm.entries)
	return sm, nil
}

func parseSingle(raw *rawV3, lineOffset, colOffset int) (*SourceMap, error) {
	sm := &SourceMap{
		Version: raw.Version,
		File:    raw.File,
		Sources: raw.Sources,
		Names:   raw.Names,
	}

	entries, err := decodeMappings(raw.Mappings, raw.Sources, raw.Names, raw.SourceRoot)
	if err != nil {
		return nil, err
	}

	if lineOffset != 0 || colOffset != 0 {
		for i := range entries {
			entries[i].GeneratedLine += lineOffset
			if entries[i].GeneratedLine == lineOffset {
				entries[i].GeneratedColumn += colOffset
			}
		}
	}

	sortEntries(entries)
	sm.entries = entries
	return sm, nil
}

// decodeMappings decodes the `mappings` field into Entry values. Each
// semicolon-separated group is one generated line; each
// comma-separated segment within it carries 1, 4, or 5 VLQ fields
// whose first four have accumulating deltas against the previous
// segment's fields on that line (column resets to 0 each line; source
// index/line/column/name indices keep running across the whole map).
func decodeMappings(mappings string, sources, names []string, sourceRoot string) ([]Entry, error) {
	var entries []Entry

	genLine := 0
	genCol := 0
	srcIdx := 0
	srcLine := 0
	srcCol := 0
	nameIdx := 0

	for _, lineGroup := range strings.Split(mappings, ";") {
		genCol = 0
		if lineGroup != "" {
			for _, segment := range strings.Split(lineGroup, ",") {
				if segment == "" {
					continue
				}
				fields, err := decodeVLQSegment(segment)
				if err != nil {
					return nil, fmt.Errorf("sourcemap: line %d: %w", genLine, err)
				}

				switch len(fields) {
				case 1:
					genCol += fields[0]
					entries = append(entries, Entry{
						GeneratedLine:   genLine,
						GeneratedColumn: genCol,
					})
				case 4, 5:
					genCol += fields[0]
					srcIdx += fields[1]
					srcLine += fields[2]
					srcCol += fields[3]

					if srcIdx < 0 || srcIdx >= len(sources) {
						return nil, fmt.Errorf("sourcemap: line %d: source index %d out of range", genLine, srcIdx)
					}

					e := Entry{
						GeneratedLine:   genLine,
						GeneratedColumn: genCol,
						HasSource:       true,
						SourceURL:       joinSourceRoot(sourceRoot, sources[srcIdx]),
						SourceLine:      srcLine,
						SourceColumn:    srcCol,
					}
					if len(fields) == 5 {
						nameIdx += fields[4]
						if nameIdx < 0 || nameIdx >= len(names) {
							return nil, fmt.Errorf("sourcemap: line %d: name index %d out of range", genLine, nameIdx)
						}
						e.HasName = true
						e.Name = names[nameIdx]
					}
					entries = append(entries, e)
				default:
					return nil, fmt.Errorf("sourcemap: line %d: segment with %d fields is invalid", genLine, len(fields))
				}
			}
		}
		genLine++
	}

	return entries, nil
}

func joinSourceRoot(root, source string) string {
	if root == "" {
		return source
	}
	if strings.HasSuffix(root, "/") {
		return root + source
	}
	return root + "/" + source
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].GeneratedLine != entries[j].GeneratedLine {
			return entries[i].GeneratedLine < entries[j].GeneratedLine
		}
		return entries[i].GeneratedColumn < entries[j].GeneratedColumn
	})
}

// FindEntry returns the entry with the greatest (line, col) <= the
// query position — "upper_bound - 1" over the generated-position
// sorted entries.
func (sm *SourceMap) FindEntry(line, col int) (Entry, bool) {
	idx := sort.Search(len(sm.entries), func(i int) bool {
		e := sm.entries[i]
		if e.GeneratedLine != line {
			return e.GeneratedLine > line
		}
		return e.GeneratedColumn > col
	})
	idx--
	if idx < 0 || idx >= len(sm.entries) {
		return Entry{}, false
	}
	return sm.entries[idx], true
}

// FindReverseEntry returns, among entries mapping to sourceURL, the
// entry with the smallest (sourceLine, sourceCol) >= the query
// position; if none exists, the last entry on the same sourceLine.
// The reverse index for a source is built lazily on first use.
func (sm *SourceMap) FindReverseEntry(sourceURL string, line, col int) (Entry, bool) {
	entries := sm.reverseEntriesFor(sourceURL)
	if len(entries) == 0 {
		return Entry{}, false
	}

	idx := sort.Search(len(entries), func(i int) bool {
		e := entries[i]
		if e.SourceLine != line {
			return e.SourceLine > line
		}
		return e.SourceColumn >= col
	})

	if idx < len(entries) {
		return entries[idx], true
	}

	// No entry at or after the query; fall back to the last entry on
	// the same source line, if any.
	last := entries[len(entries)-1]
	if last.SourceLine == line {
		return last, true
	}
	return Entry{}, false
}

// EntriesForSource returns every entry mapping to sourceURL, sorted by
// authored (line, column) ascending — the full reverse index a
// predictor scan needs, as opposed to FindReverseEntry's single lookup.
func (sm *SourceMap) EntriesForSource(sourceURL string) []Entry {
	return sm.reverseEntriesFor(sourceURL)
}

func (sm *SourceMap) reverseEntriesFor(sourceURL string) []Entry {
	sm.reverseMu.Lock()
	defer sm.reverseMu.Unlock()

	if sm.reverseBuilt == nil {
		sm.reverseBuilt = make(map[string]bool)
		sm.reverse = make(map[string][]Entry)
	}
	if sm.reverseBuilt[sourceURL] {
		return sm.reverse[sourceURL]
	}

	var filtered []Entry
	for _, e := range sm.entries {
		if e.HasSource && e.SourceURL == sourceURL {
			filtered = append(filtered, e)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].SourceLine != filtered[j].SourceLine {
			return filtered[i].SourceLine < filtered[j].SourceLine
		}
		return filtered[i].SourceColumn < filtered[j].SourceColumn
	})

	sm.reverseBuilt[sourceURL] = true
	sm.reverse[sourceURL] = filtered
	return filtered
}
