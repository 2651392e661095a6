package session

import (
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/google/go-dap"

	"github.com/nodescope/jsdbg/internal/breakpoints"
	"github.com/nodescope/jsdbg/internal/sources"
	"github.com/nodescope/jsdbg/internal/stack"
	"github.com/nodescope/jsdbg/internal/thread"
)

func TestStoppedReasonPrefersBreakpointOverException(t *testing.T) {
	pe := thread.PauseEvent{Reason: "exception", HitBreakpoints: []string{"1"}}
	if got := stoppedReason(pe, false); got != "breakpoint" {
		t.Errorf("stoppedReason = %q, want breakpoint", got)
	}
}

func TestStoppedReasonException(t *testing.T) {
	for _, reason := range []string{"exception", "promiseRejection"} {
		pe := thread.PauseEvent{Reason: reason}
		if got := stoppedReason(pe, false); got != "exception" {
			t.Errorf("stoppedReason(%q) = %q, want exception", reason, got)
		}
	}
}

func TestStoppedReasonEntryOnlyOnFirstPause(t *testing.T) {
	pe := thread.PauseEvent{Reason: "debugCommand"}
	if got := stoppedReason(pe, true); got != "entry" {
		t.Errorf("stoppedReason(first) = %q, want entry", got)
	}
	if got := stoppedReason(pe, false); got != "pause" {
		t.Errorf("stoppedReason(later) = %q, want pause", got)
	}
}

func TestStoppedReasonDefaultsToStep(t *testing.T) {
	pe := thread.PauseEvent{Reason: "other"}
	if got := stoppedReason(pe, false); got != "step" {
		t.Errorf("stoppedReason = %q, want step", got)
	}
}

func TestScopeNameKnownAndUnknown(t *testing.T) {
	cases := map[string]string{
		"local":  "Local",
		"global": "Global",
		"module": "Module",
		"weird":  "weird",
	}
	for in, want := range cases {
		if got := scopeName(in); got != want {
			t.Errorf("scopeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDapSourceFallsBackToURL(t *testing.T) {
	src := &sources.Source{URL: "http://localhost/app.js"}
	d := dapSource(src)
	if d.Name != "app.js" {
		t.Errorf("dapSource.Name = %q, want app.js", d.Name)
	}
	if d.Path != "" {
		t.Errorf("dapSource.Path = %q, want empty (no absolute path known)", d.Path)
	}
}

func TestDapSourceNilIsNil(t *testing.T) {
	if dapSource(nil) != nil {
		t.Error("dapSource(nil) should be nil")
	}
}

func TestDapFrameUsesUiLocationWhenPresent(t *testing.T) {
	f := &stack.Frame{
		ID:   3,
		Name: "foo",
		Line: 9,
		UiLocation: &sources.UiLocation{
			Line:   4,
			Column: 2,
			Source: &sources.Source{AbsolutePath: "/app/src/foo.js"},
		},
	}
	sf := dapFrame(f)
	if sf.Line != 5 || sf.Column != 3 {
		t.Errorf("dapFrame 1-based line/col = %d/%d, want 5/3", sf.Line, sf.Column)
	}
	if sf.Source == nil || sf.Source.Path != "/app/src/foo.js" {
		t.Errorf("dapFrame.Source = %+v, want foo.js", sf.Source)
	}
}

func TestDapFrameFallsBackToRawLineWithoutUiLocation(t *testing.T) {
	f := &stack.Frame{ID: 1, Name: "bar", Line: 10}
	sf := dapFrame(f)
	if sf.Line != 11 {
		t.Errorf("dapFrame.Line = %d, want 11 (0-based Line+1)", sf.Line)
	}
	if sf.Source != nil {
		t.Errorf("dapFrame.Source = %+v, want nil", sf.Source)
	}
}

func TestDapFrameAsyncSeparatorGetsLabelHint(t *testing.T) {
	f := &stack.Frame{ID: 2, Name: "async gap", IsAsyncSeparator: true}
	if got := dapFrame(f).PresentationHint; got != "label" {
		t.Errorf("PresentationHint = %q, want label", got)
	}
}

func TestPreviewRemoteUsesDescriptionThenValue(t *testing.T) {
	if got := previewRemote(nil); got != "undefined" {
		t.Errorf("previewRemote(nil) = %q, want undefined", got)
	}
	withDesc := &runtime.RemoteObject{Description: "Object {x: 1}"}
	if got := previewRemote(withDesc); got != "Object {x: 1}" {
		t.Errorf("previewRemote = %q, want description", got)
	}
	withValue := &runtime.RemoteObject{Value: []byte(`42`)}
	if got := previewRemote(withValue); got != "42" {
		t.Errorf("previewRemote = %q, want raw value", got)
	}
}

func TestConsoleArgsTextJoinsWithSpaces(t *testing.T) {
	args := []*runtime.RemoteObject{
		{Description: "hello"},
		{Description: "world"},
	}
	if got := consoleArgsText(args); got != "hello world" {
		t.Errorf("consoleArgsText = %q, want %q", got, "hello world")
	}
}

func TestSourceCacheKeyPrefersPathOverReference(t *testing.T) {
	path, ref, useRef := sourceCacheKey(&dap.Source{Path: "/a.js", SourceReference: 7})
	if useRef || path != "/a.js" || ref != 0 {
		t.Errorf("sourceCacheKey = (%q,%d,%v), want (/a.js,0,false)", path, ref, useRef)
	}
}

func TestSourceCacheKeyFallsBackToReference(t *testing.T) {
	path, ref, useRef := sourceCacheKey(&dap.Source{SourceReference: 7})
	if !useRef || path != "" || ref != 7 {
		t.Errorf("sourceCacheKey = (%q,%d,%v), want (\"\",7,true)", path, ref, useRef)
	}
}

func TestToSourcePointsCopiesEveryField(t *testing.T) {
	points := toSourcePoints([]dap.SourceBreakpoint{
		{Line: 10, Column: 2, Condition: "x>1", HitCondition: ">=3", LogMessage: "hit {x}"},
	})
	if len(points) != 1 {
		t.Fatalf("len(points) = %d, want 1", len(points))
	}
	p := points[0]
	if p.Line != 10 || p.Column != 2 || p.Condition != "x>1" || p.HitCondition != ">=3" || p.LogMessage != "hit {x}" {
		t.Errorf("toSourcePoints = %+v, fields dropped", p)
	}
}

func TestToDAPBreakpointsEmptyInput(t *testing.T) {
	out := toDAPBreakpoints(nil)
	if len(out) != 0 {
		t.Errorf("toDAPBreakpoints(nil) = %v, want empty", out)
	}
}

func TestHitBreakpointIDsSkipsUnknownRuntimeIDs(t *testing.T) {
	mgr := breakpoints.NewManager(nil, nil, nil)
	entry := &threadEntry{bp: mgr}
	out := hitBreakpointIDs(entry, []string{"cdp-bp-1", "cdp-bp-2"})
	if len(out) != 0 {
		t.Errorf("hitBreakpointIDs = %v, want empty (no breakpoints registered)", out)
	}
}

func TestResolveRequestedSourceByURLRegisteredScript(t *testing.T) {
	c := sources.NewContainer(nil, nil, nil)
	src := c.RegisterScript("1", "http://localhost/a.js", "")
	got := resolveRequestedSource(c, "", src.Reference, true)
	// A top-level compiled script (no source map) keeps Reference 0, so
	// the useRef lookup above resolves nothing — confirms resolving by
	// an unregistered reference is a safe, nil-returning miss.
	if got != nil {
		t.Errorf("resolveRequestedSource(unregistered ref) = %v, want nil", got)
	}
}

func TestResolveRequestedSourceMissingPath(t *testing.T) {
	c := sources.NewContainer(nil, nil, nil)
	if got := resolveRequestedSource(c, "/nope.js", 0, false); got != nil {
		t.Errorf("resolveRequestedSource = %v, want nil", got)
	}
}
