package skip

import "testing"

func TestDefaultManagerSkipsNodeModules(t *testing.T) {
	m := DefaultManager()
	if m.IsUserCode("/project/node_modules/lodash/index.js") {
		t.Error("expected node_modules to be skipped by default")
	}
	if !m.IsUserCode("/project/src/app.js") {
		t.Error("expected project source to be user code")
	}
}

func TestNegatedRuleReinstatesUserCode(t *testing.T) {
	m := NewManager([]string{
		"**/node_modules/**",
		"!**/node_modules/my-lib/**",
	})
	if m.IsUserCode("/project/node_modules/other/index.js") {
		t.Error("expected other node_modules packages to stay skipped")
	}
	if !m.IsUserCode("/project/node_modules/my-lib/index.js") {
		t.Error("expected negated pattern to reinstate my-lib as user code")
	}
}

func TestIsUserCodeIsMemoized(t *testing.T) {
	m := DefaultManager()
	path := "/project/node_modules/x/y.js"
	first := m.IsUserCode(path)
	second := m.IsUserCode(path)
	if first != second {
		t.Error("expected memoized decision to be stable")
	}
}

func TestBlackboxPatternsExcludesNegatedRules(t *testing.T) {
	m := NewManager([]string{
		"**/node_modules/**",
		"!**/node_modules/my-lib/**",
	})
	patterns := m.BlackboxPatterns()
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d: %v", len(patterns), patterns)
	}
}
