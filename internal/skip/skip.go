// Package skip implements the ScriptSkipper & BlackboxManager: the
// policy deciding which scripts count as user code versus
// library/framework code that stepping should skip over.
package skip

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Rule is one skipFiles entry: either a glob ("**/node_modules/**") or
// an explicit "!"-negated un-skip rule ("!**/node_modules/my-lib/**").
type Rule struct {
	Pattern string
	Negate  bool
	re      *regexp.Regexp
}

// compile turns a glob-ish skipFiles pattern into a regexp: "**"
// matches across path separators, "*" matches within one segment.
func compile(pattern string) *regexp.Regexp {
	p := pattern
	p = strings.ReplaceAll(p, `\`, `/`)

	var sb strings.Builder
	sb.WriteString("^")
	i := 0
	for i < len(p) {
		switch {
		case strings.HasPrefix(p[i:], "**"):
			sb.WriteString(".*")
			i += 2
		case p[i] == '*':
			sb.WriteString("[^/]*")
			i++
		case p[i] == '?':
			sb.WriteString("[^/]")
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(p[i])))
			i++
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		// An uncompilable pattern never matches rather than panicking
		// skipFiles evaluation.
		return regexp.MustCompile("$^")
	}
	return re
}

// Manager decides, for a given script URL or absolute path, whether it
// should be treated as library code (blackboxed: breakpoints don't
// bind there by default, stepping skips over its frames).
type Manager struct {
	mu    sync.RWMutex
	rules []Rule

	// cache memoizes the IsUserCode decision per path/URL, since
	// CDP's Debugger.setBlackboxPatterns is the expensive path and
	// per-frame decisions happen on every pause.
	cache map[string]bool
}

// NewManager builds a Manager from a launch configuration's skipFiles
// list, in order; later rules override earlier ones for the same path
// (the "!" prefix negates a pattern, reinstating user-code status).
func NewManager(skipFiles []string) *Manager {
	m := &Manager{cache: make(map[string]bool)}
	for _, raw := range skipFiles {
		negate := strings.HasPrefix(raw, "!")
		pattern := strings.TrimPrefix(raw, "!")
		m.rules = append(m.rules, Rule{Pattern: pattern, Negate: negate, re: compile(pattern)})
	}
	return m
}

// IsUserCode reports whether path should be treated as debuggable user
// code rather than skipped/blackboxed library code.
func (m *Manager) IsUserCode(path string) bool {
	normalized := filepath.ToSlash(path)

	m.mu.RLock()
	if v, ok := m.cache[normalized]; ok {
		m.mu.RUnlock()
		return v
	}
	m.mu.RUnlock()

	userCode := true
	for _, r := range m.rules {
		if r.re.MatchString(normalized) {
			userCode = r.Negate
		}
	}

	m.mu.Lock()
	m.cache[normalized] = userCode
	m.mu.Unlock()

	return userCode
}

// BlackboxPatterns returns the set of compiled regexes (as strings) a
// Thread should install via Debugger.setBlackboxPatterns: every
// positive (non-negated) skipFiles rule, translated to the Go-flavor
// regex CDP's blackboxing expects.
func (m *Manager) BlackboxPatterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var patterns []string
	for _, r := range m.rules {
		if !r.Negate {
			patterns = append(patterns, r.re.String())
		}
	}
	return patterns
}

// defaultNodeModulesSkip is the conventional default most editors seed
// skipFiles with when none is configured.
const defaultNodeModulesSkip = "**/node_modules/**"

// DefaultManager returns a Manager that blackboxes node_modules, the
// default behavior when a launch configuration supplies no skipFiles.
func DefaultManager() *Manager {
	return NewManager([]string{defaultNodeModulesSkip})
}
