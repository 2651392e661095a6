// Package breakpoints implements the BreakpointManager/Breakpoint
// pair: installing DAP-requested breakpoints onto CDP scripts through
// three parallel strategies, tracking resolution, and rewriting
// log-points into console.log expressions.
package breakpoints

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/debugger"

	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/sources"
)

// SourcePoint is one requested breakpoint, in DAP's 1-based line/column
// convention.
type SourcePoint struct {
	Line         int
	Column       int
	Condition    string
	HitCondition string
	LogMessage   string
}

// installKey is the (url, line, column) idempotence triple per
// spec.md §4.6: the three set strategies dedup against it so the same
// runtime location is never double-installed.
type installKey struct {
	url  string
	line int
	col  int
}

// Breakpoint is one active breakpoint for a Source, tracked across
// however many runtime locations the three strategies resolve it to.
type Breakpoint struct {
	ID     int
	Source *sources.Source
	Point  SourcePoint

	expression string // condition, possibly combined with a rewritten log-point

	mu          sync.Mutex
	verified    bool
	resolved    *sources.UiLocation
	runtimeIDs  map[debugger.BreakpointID]struct{}
	installed   map[installKey]bool
	removed     bool
	pendingSets sync.WaitGroup
}

func newBreakpoint(id int, src *sources.Source, pt SourcePoint) *Breakpoint {
	bp := &Breakpoint{
		ID:         id,
		Source:     src,
		Point:      pt,
		runtimeIDs: make(map[debugger.BreakpointID]struct{}),
		installed:  make(map[installKey]bool),
	}
	bp.expression = combineExpression(pt.Condition, pt.LogMessage)
	return bp
}

// combineExpression rewrites a log message into a console.log
// expression tagged with a sourceURL so stack traces don't point at
// the log-point rewrite, combined with any condition as
// "(condition) && (logExpr)".
func combineExpression(condition, logMessage string) string {
	if logMessage == "" {
		return condition
	}
	logExpr := fmt.Sprintf("console.log(%s)//# sourceURL=logpoint.cdp", interpolateLogMessage(logMessage))
	if condition == "" {
		return logExpr
	}
	return fmt.Sprintf("(%s) && (%s)", condition, logExpr)
}

// interpolateLogMessage turns a "{expr}"-templated log message into a
// JS template literal, the same substitution DAP log-points use.
func interpolateLogMessage(msg string) string {
	var sb strings.Builder
	sb.WriteString("`")
	i := 0
	for i < len(msg) {
		if msg[i] == '{' {
			end := strings.IndexByte(msg[i:], '}')
			if end >= 0 {
				expr := msg[i+1 : i+end]
				sb.WriteString("${" + expr + "}")
				i += end + 1
				continue
			}
		}
		if msg[i] == '`' || msg[i] == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(msg[i])
		i++
	}
	sb.WriteString("`")
	return sb.String()
}

// Verified reports whether any runtime location has resolved yet.
func (bp *Breakpoint) Verified() bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.verified
}

// Resolved returns the first resolved UiLocation, if any.
func (bp *Breakpoint) Resolved() (sources.UiLocation, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.resolved == nil {
		return sources.UiLocation{}, false
	}
	return *bp.resolved, true
}

// ThreadSession is the subset of a thread's session a Breakpoint needs:
// the CDP session plus the node wrapper-line offset subtracted only
// when translating a DAP line down to a CDP line.
type ThreadSession struct {
	Session             *cdp.Session
	DefaultScriptOffset int
}

// set runs all three strategies concurrently against session, then
// waits for them before returning. Each strategy is independent and
// best-effort: an error from one strategy doesn't prevent the others.
func (bp *Breakpoint) set(ctx context.Context, ts ThreadSession, container *sources.Container, predictor *Predictor, onResolved func(*Breakpoint)) {
	bp.pendingSets.Add(1)
	defer bp.pendingSets.Done()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); bp.setByURL(ctx, ts, onResolved) }()
	go func() { defer wg.Done(); bp.setPredicted(ctx, ts, predictor, onResolved) }()
	go func() { defer wg.Done(); bp.setByCurrentSibling(ctx, ts, container, onResolved) }()
	wg.Wait()
}

// cdpLine/cdpColumn convert a DAP (1-based) point to CDP's 0-based
// convention, subtracting the node wrapper-line offset on the way down.
func (bp *Breakpoint) cdpLine(scriptOffset int) int64 {
	return int64(bp.Point.Line - 1 - scriptOffset)
}

func (bp *Breakpoint) cdpColumn() int64 {
	if bp.Point.Column <= 0 {
		return 0
	}
	return int64(bp.Point.Column - 1)
}

func urlRegexFor(url string) string {
	return "(?i)^" + regexp.QuoteMeta(url) + "$"
}

func (bp *Breakpoint) setByURL(ctx context.Context, ts ThreadSession, onResolved func(*Breakpoint)) {
	url := bp.Source.URL
	if url == "" {
		return
	}
	key := installKey{url: url, line: bp.Point.Line, col: bp.Point.Column}
	if !bp.claim(key) {
		return
	}

	result, err := cdp.SetBreakpointByURL(ctx, ts.Session, bp.cdpLine(ts.DefaultScriptOffset), bp.cdpColumn(), urlRegexFor(url), bp.expression)
	if err != nil || result == nil {
		return
	}
	bp.recordRuntimeID(result.BreakpointID)
	for _, loc := range result.Locations {
		bp.resolveFromRaw(ts, loc, onResolved)
		break
	}
}

func (bp *Breakpoint) setPredicted(ctx context.Context, ts ThreadSession, predictor *Predictor, onResolved func(*Breakpoint)) {
	if predictor == nil || bp.Source.AbsolutePath == "" {
		return
	}
	for _, pred := range predictor.PredictedResolvedLocations(bp.Source.AbsolutePath, bp.Point.Line-1, bp.Point.Column-1) {
		key := installKey{url: pred.CompiledURL, line: pred.CompiledLine, col: pred.CompiledColumn}
		if !bp.claim(key) {
			continue
		}
		result, err := cdp.SetBreakpointByURL(ctx, ts.Session, int64(pred.CompiledLine), int64(pred.CompiledColumn), urlRegexFor(pred.CompiledURL), bp.expression)
		if err != nil || result == nil {
			continue
		}
		bp.recordRuntimeID(result.BreakpointID)
		for _, loc := range result.Locations {
			bp.resolveFromRaw(ts, loc, onResolved)
			break
		}
	}
}

func (bp *Breakpoint) setByCurrentSibling(ctx context.Context, ts ThreadSession, container *sources.Container, onResolved func(*Breakpoint)) {
	loc := sources.UiLocation{Source: bp.Source, Line: bp.Point.Line - 1, Column: bp.cdpColZero()}
	for _, sibling := range container.CurrentSiblingUiLocations(loc, nil) {
		if sibling.Source.ScriptID == "" {
			continue
		}
		key := installKey{url: "script:" + sibling.Source.ScriptID, line: sibling.Line, col: sibling.Column}
		if !bp.claim(key) {
			continue
		}
		location := &debugger.Location{
			ScriptID:     debugger.ScriptID(sibling.Source.ScriptID),
			LineNumber:   int64(sibling.Line),
			ColumnNumber: int64(sibling.Column),
		}
		result, err := cdp.SetBreakpoint(ctx, ts.Session, location, bp.expression)
		if err != nil || result == nil {
			continue
		}
		bp.recordRuntimeID(result.BreakpointID)
		if result.ActualLocation != nil {
			bp.resolveFromRaw(ts, result.ActualLocation, onResolved)
		}
	}
}

func (bp *Breakpoint) cdpColZero() int {
	if bp.Point.Column <= 0 {
		return 0
	}
	return bp.Point.Column - 1
}

func (bp *Breakpoint) claim(key installKey) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.removed || bp.installed[key] {
		return false
	}
	bp.installed[key] = true
	return true
}

func (bp *Breakpoint) recordRuntimeID(id debugger.BreakpointID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.runtimeIDs[id] = struct{}{}
}

// hasRuntimeID reports whether id is one of this Breakpoint's
// installed CDP breakpoint ids.
func (bp *Breakpoint) hasRuntimeID(id debugger.BreakpointID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.runtimeIDs[id]
	return ok
}

// resolveFromRaw translates a resolved debugger.Location back through
// the SourceContainer to a UiLocation and marks the Breakpoint verified
// the first time any strategy resolves.
func (bp *Breakpoint) resolveFromRaw(ts ThreadSession, loc *debugger.Location, onResolved func(*Breakpoint)) {
	bp.mu.Lock()
	alreadyVerified := bp.verified
	bp.mu.Unlock()
	if alreadyVerified {
		return
	}

	bp.mu.Lock()
	bp.verified = true
	ui := sources.UiLocation{Source: bp.Source, Line: int(loc.LineNumber), Column: int(loc.ColumnNumber)}
	bp.resolved = &ui
	bp.mu.Unlock()

	if onResolved != nil {
		onResolved(bp)
	}
}

// remove waits for any in-flight set() calls to finish, then removes
// every runtime breakpoint id this Breakpoint installed.
func (bp *Breakpoint) remove(ctx context.Context, session *cdp.Session) {
	bp.mu.Lock()
	bp.removed = true
	bp.mu.Unlock()

	bp.pendingSets.Wait()

	bp.mu.Lock()
	ids := make([]debugger.BreakpointID, 0, len(bp.runtimeIDs))
	for id := range bp.runtimeIDs {
		ids = append(ids, id)
	}
	bp.mu.Unlock()

	for _, id := range ids {
		_ = cdp.RemoveBreakpoint(ctx, session, id)
	}
}

// Manager is the BreakpointManager: two indices (by absolute path, by
// source reference), each mapping to the ordered list of Breakpoints
// active for that source.
type Manager struct {
	container *sources.Container
	predictor *Predictor
	onChanged func(*Breakpoint)

	mu     sync.Mutex
	byPath map[string][]*Breakpoint
	byRef  map[int][]*Breakpoint
	nextID int64

	// launchBlocker accumulates the initial setBreakpoints calls so a
	// launcher can await breakpoints being in place before starting
	// the program.
	launchBlocker sync.WaitGroup
}

// NewManager builds an empty Manager. onChanged is invoked whenever a
// Breakpoint newly resolves, the DAP "breakpoint changed" event hook.
func NewManager(container *sources.Container, predictor *Predictor, onChanged func(*Breakpoint)) *Manager {
	return &Manager{
		container: container,
		predictor: predictor,
		onChanged: onChanged,
		byPath:    make(map[string][]*Breakpoint),
		byRef:     make(map[int][]*Breakpoint),
	}
}

// BindContainer rebinds the Manager's source container. A Thread's
// container isn't constructed until after its Manager is, so the
// factory wiring a new Thread together calls this once, immediately
// after thread.New returns, before any concurrent SetBreakpoints or
// UpdateForSourceMap call can race it.
func (m *Manager) BindContainer(container *sources.Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.container = container
}

func (m *Manager) nextIDValue() int {
	return int(atomic.AddInt64(&m.nextID, 1))
}

func sourceKey(src *sources.Source) (path string, ref int, useRef bool) {
	if src.AbsolutePath != "" {
		return src.AbsolutePath, 0, false
	}
	return "", src.Reference, true
}

// SetBreakpoints replaces the active breakpoint list for src: every
// prior Breakpoint is removed (awaiting in-flight setters first), then
// every new point is installed against ts if a thread is attached.
func (m *Manager) SetBreakpoints(ctx context.Context, ts *ThreadSession, src *sources.Source, points []SourcePoint) []*Breakpoint {
	path, ref, useRef := sourceKey(src)

	m.mu.Lock()
	var old []*Breakpoint
	if useRef {
		old = m.byRef[ref]
	} else {
		old = m.byPath[path]
	}
	m.mu.Unlock()

	if ts != nil {
		for _, bp := range old {
			bp.remove(ctx, ts.Session)
		}
	}

	fresh := make([]*Breakpoint, len(points))
	for i, pt := range points {
		fresh[i] = newBreakpoint(m.nextIDValue(), src, pt)
	}

	m.mu.Lock()
	if useRef {
		m.byRef[ref] = fresh
	} else {
		m.byPath[path] = fresh
	}
	m.mu.Unlock()

	if ts != nil {
		for _, bp := range fresh {
			m.launchBlocker.Add(1)
			go func(bp *Breakpoint) {
				defer m.launchBlocker.Done()
				bp.set(ctx, *ts, m.container, m.predictor, m.onChanged)
			}(bp)
		}
	}

	return fresh
}

// AwaitLaunchBlocker blocks until every breakpoint installation issued
// so far has completed, the gate a launcher awaits before starting the
// debuggee so breakpoints are in place at first line.
func (m *Manager) AwaitLaunchBlocker() {
	m.launchBlocker.Wait()
}

// UpdateForSourceMap looks up every breakpoint registered for an
// authored source (by path and by reference) and re-attempts
// installation against the newly parsed script, the source-map-driven
// update path in spec.md §4.6.
func (m *Manager) UpdateForSourceMap(ctx context.Context, ts ThreadSession, authored *sources.Source) {
	path, ref, useRef := sourceKey(authored)

	m.mu.Lock()
	var bps []*Breakpoint
	if useRef {
		bps = append(bps, m.byRef[ref]...)
	} else {
		bps = append(bps, m.byPath[path]...)
	}
	m.mu.Unlock()

	for _, bp := range bps {
		m.launchBlocker.Add(1)
		go func(bp *Breakpoint) {
			defer m.launchBlocker.Done()
			bp.setByCurrentSibling(ctx, ts, m.container, m.onChanged)
		}(bp)
	}
}

// ForSource returns the currently active breakpoints for src, without
// installing or removing anything.
func (m *Manager) ForSource(src *sources.Source) []*Breakpoint {
	path, ref, useRef := sourceKey(src)
	m.mu.Lock()
	defer m.mu.Unlock()
	if useRef {
		return append([]*Breakpoint(nil), m.byRef[ref]...)
	}
	return append([]*Breakpoint(nil), m.byPath[path]...)
}

// ByRuntimeID finds the Breakpoint that installed CDP breakpoint id,
// the lookup a Debugger.paused event's hitBreakpoints list resolves
// against to report DAP breakpoint ids in a stopped event.
func (m *Manager) ByRuntimeID(id debugger.BreakpointID) (*Breakpoint, bool) {
	m.mu.Lock()
	all := make([]*Breakpoint, 0)
	for _, bps := range m.byPath {
		all = append(all, bps...)
	}
	for _, bps := range m.byRef {
		all = append(all, bps...)
	}
	m.mu.Unlock()

	for _, bp := range all {
		if bp.hasRuntimeID(id) {
			return bp, true
		}
	}
	return nil, false
}
