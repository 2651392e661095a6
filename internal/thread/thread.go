// Package thread implements Thread: the per-execution-context owner of
// a CDP session's script table, pause/resume/step state machine, and
// evaluation dispatch.
package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/runtime"

	"github.com/nodescope/jsdbg/internal/breakpoints"
	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/logging"
	"github.com/nodescope/jsdbg/internal/pathresolver"
	"github.com/nodescope/jsdbg/internal/skip"
	"github.com/nodescope/jsdbg/internal/sources"
	"github.com/nodescope/jsdbg/internal/stack"
	"github.com/nodescope/jsdbg/internal/variables"
)

// State is one of Thread's lifecycle states.
type State int

const (
	Initializing State = iota
	Running
	Paused
	Disposed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// PauseEvent is delivered to OnStopped when the runtime pauses.
type PauseEvent struct {
	Reason         string
	HitBreakpoints []string
	StackTrace     *stack.StackTrace
	ExceptionText  string
}

// Options configures a Thread.
type Options struct {
	Log                 *logging.Logger
	Resolver            *pathresolver.Resolver
	Fetcher             sources.Fetcher
	SkipManager         *skip.Manager
	Breakpoints         *breakpoints.Manager
	IDs                 *stack.IDAllocator
	DefaultScriptOffset int
	OnStopped           func(PauseEvent)
	OnContinued         func()
	OnConsoleAPICalled  func(kind string, args []*runtime.RemoteObject)
	OnExceptionThrown   func(text string)
}

// Thread owns one CDP session's script table and pause state.
type Thread struct {
	log         *logging.Logger
	session     *cdp.Session
	container   *sources.Container
	skip        *skip.Manager
	bp          *breakpoints.Manager
	ids         *stack.IDAllocator
	vars        *variables.Store
	scriptOffset int

	onStopped          func(PauseEvent)
	onContinued        func()
	onConsoleAPICalled func(string, []*runtime.RemoteObject)
	onExceptionThrown  func(string)

	mu            sync.Mutex
	state         State
	currentStack  *stack.StackTrace
	contextID     runtime.ExecutionContextID
	reconcileGate sync.WaitGroup
}

// New enables the CDP domains a Thread needs and subscribes to the
// events it reacts to, per spec.md §4.4.
func New(ctx context.Context, session *cdp.Session, opts Options) (*Thread, error) {
	container := sources.NewContainer(opts.Log, opts.Resolver, opts.Fetcher)

	t := &Thread{
		log:                opts.Log,
		session:            session,
		container:          container,
		skip:               opts.SkipManager,
		bp:                 opts.Breakpoints,
		ids:                opts.IDs,
		vars:               variables.NewStore(),
		scriptOffset:       opts.DefaultScriptOffset,
		state:              Initializing,
		onStopped:          opts.OnStopped,
		onContinued:        opts.OnContinued,
		onConsoleAPICalled: opts.OnConsoleAPICalled,
		onExceptionThrown:  opts.OnExceptionThrown,
	}

	if err := cdp.EnableDomains(ctx, session); err != nil {
		return nil, fmt.Errorf("thread: enable domains: %w", err)
	}
	if err := cdp.SetInstrumentationBreakpoint(ctx, session, "beforeScriptWithSourceMapExecution"); err != nil {
		t.log.Warnf("thread: setInstrumentationBreakpoint: %v", err)
	}
	if t.skip != nil {
		_ = cdp.SetBlackboxPatterns(ctx, session, t.skip.BlackboxPatterns())
	}

	session.Subscribe("Debugger.scriptParsed", t.onScriptParsed)
	session.Subscribe("Debugger.paused", t.onPaused)
	session.Subscribe("Debugger.resumed", t.onResumed)
	session.Subscribe("Runtime.consoleAPICalled", t.onConsoleAPICalledEvent)
	session.Subscribe("Runtime.exceptionThrown", t.onExceptionThrownEvent)
	session.Subscribe("Runtime.executionContextDestroyed", t.onExecutionContextDestroyed)

	t.mu.Lock()
	t.state = Running
	t.mu.Unlock()

	return t, nil
}

// Container exposes the Thread's source registry.
func (t *Thread) Container() *sources.Container { return t.container }

// Variables exposes the Thread's variable store.
func (t *Thread) Variables() *variables.Store { return t.vars }

// Session exposes the Thread's underlying CDP session.
func (t *Thread) Session() *cdp.Session { return t.session }

// State reports the Thread's current lifecycle state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) threadSession() breakpoints.ThreadSession {
	return breakpoints.ThreadSession{Session: t.session, DefaultScriptOffset: t.scriptOffset}
}

// ThreadSessionForBreakpoints exposes threadSession to callers outside
// the package (internal/session, installing DAP-requested breakpoints
// against this Thread's CDP session).
func (t *Thread) ThreadSessionForBreakpoints() *breakpoints.ThreadSession {
	ts := t.threadSession()
	return &ts
}

// SetPauseOnExceptions applies DAP's setExceptionBreakpoints filter
// selection to this Thread's CDP session.
func (t *Thread) SetPauseOnExceptions(filters []string) {
	if err := cdp.SetPauseOnExceptions(context.Background(), t.session, filters); err != nil {
		t.log.Warnf("thread: setPauseOnExceptions: %v", err)
	}
}

// onScriptParsed registers the script and, if BreakpointManager owns
// breakpoints for any of the authored sources it reaches, reconciles
// them before allowing further resumes — the "script-source-map
// handler hook" of spec.md §4.4/§4.9's launch-blocker gate.
//
// This races the runtime's own execution of the script: scriptParsed is
// a notification, not a pause point. The instrumentation breakpoint
// armed in New (onInstrumentationPause) is what actually stops a script
// with a source map from running before reconciliation finishes; this
// goroutine remains for scripts that reach a paused state some other
// way (e.g. a first-line breakpoint pause) before that reconciliation
// completes, and for runtimes that silently ignore the instrumentation
// breakpoint.
func (t *Thread) onScriptParsed(params json.RawMessage) {
	var evt debugger.EventScriptParsed
	if err := json.Unmarshal(params, &evt); err != nil {
		t.log.Warnf("thread: malformed scriptParsed: %v", err)
		return
	}

	src := t.container.RegisterScript(string(evt.ScriptID), evt.URL, string(evt.SourceMapURL))
	if src.SourceMap == nil || t.bp == nil {
		return
	}

	t.reconcileGate.Add(1)
	go func() {
		defer t.reconcileGate.Done()
		ctx := context.Background()
		for _, authored := range t.container.SiblingsOf(src) {
			t.bp.UpdateForSourceMap(ctx, t.threadSession(), authored)
		}
	}()
}

// instrumentationPauseData is the shape of Debugger.paused's data field
// when reason is "instrumentation": the id of the script the runtime is
// about to execute and is blocked on.
type instrumentationPauseData struct {
	ScriptID string `json:"scriptId"`
}

func (t *Thread) onPaused(params json.RawMessage) {
	var evt debugger.EventPaused
	if err := json.Unmarshal(params, &evt); err != nil {
		t.log.Warnf("thread: malformed paused: %v", err)
		return
	}

	if string(evt.Reason) == "instrumentation" {
		t.onInstrumentationPause(evt)
		return
	}

	// Awaiting reconciliation here (rather than before the pause
	// event arrives) keeps a first-line breakpoint pause from racing
	// the source-map-driven rebind of a just-parsed script.
	t.reconcileGate.Wait()

	st := stack.Build(t.session, t.container, t.ids, evt.CallFrames, evt.AsyncStackTrace, evt.AsyncStackTraceID)

	t.mu.Lock()
	t.state = Paused
	t.currentStack = st
	t.vars.Reset()
	t.mu.Unlock()

	pe := PauseEvent{
		Reason:         string(evt.Reason),
		HitBreakpoints: evt.HitBreakpoints,
		StackTrace:     st,
	}
	if (pe.Reason == "exception" || pe.Reason == "promiseRejection") && len(evt.Data) > 0 {
		var exc runtime.RemoteObject
		if err := json.Unmarshal(evt.Data, &exc); err == nil {
			pe.ExceptionText = exc.Description
		}
	}
	if t.onStopped != nil {
		t.onStopped(pe)
	}
}

// onInstrumentationPause handles a "beforeScriptWithSourceMapExecution"
// pause: the runtime is blocked before running the named script, so
// breakpoint reconciliation for that script's authored siblings happens
// synchronously here rather than racing it in a goroutine. This pause
// is never surfaced to the adapter as a DAP stopped event — the thread
// resumes as soon as reconciliation is done.
func (t *Thread) onInstrumentationPause(evt debugger.EventPaused) {
	ctx := context.Background()

	var data instrumentationPauseData
	if len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.log.Warnf("thread: malformed instrumentation pause data: %v", err)
		}
	}

	if data.ScriptID != "" && t.bp != nil {
		if src := t.container.ByScriptID(data.ScriptID); src != nil {
			for _, authored := range t.container.SiblingsOf(src) {
				t.bp.UpdateForSourceMap(ctx, t.threadSession(), authored)
			}
		}
	}

	if err := cdp.Resume(ctx, t.session); err != nil {
		t.log.Warnf("thread: resume after instrumentation pause: %v", err)
	}
}

func (t *Thread) onResumed(json.RawMessage) {
	t.mu.Lock()
	t.state = Running
	t.currentStack = nil
	t.vars.Reset()
	t.mu.Unlock()
	if t.onContinued != nil {
		t.onContinued()
	}
}

func (t *Thread) onConsoleAPICalledEvent(params json.RawMessage) {
	if t.onConsoleAPICalled == nil {
		return
	}
	var evt runtime.EventConsoleAPICalled
	if err := json.Unmarshal(params, &evt); err != nil {
		return
	}
	t.onConsoleAPICalled(string(evt.Type), evt.Args)
}

func (t *Thread) onExceptionThrownEvent(params json.RawMessage) {
	if t.onExceptionThrown == nil {
		return
	}
	var evt runtime.EventExceptionThrown
	if err := json.Unmarshal(params, &evt); err != nil {
		return
	}
	text := evt.ExceptionDetails.Text
	if evt.ExceptionDetails.Exception != nil && evt.ExceptionDetails.Exception.Description != "" {
		text = evt.ExceptionDetails.Exception.Description
	}
	t.onExceptionThrown(text)
}

func (t *Thread) onExecutionContextDestroyed(params json.RawMessage) {
	var evt runtime.EventExecutionContextDestroyed
	if err := json.Unmarshal(params, &evt); err != nil {
		return
	}
	t.mu.Lock()
	if t.contextID == evt.ExecutionContextID {
		t.contextID = 0
	}
	t.mu.Unlock()
}

// CurrentStack returns the StackTrace captured at the last pause, or
// nil if the Thread isn't currently paused.
func (t *Thread) CurrentStack() *stack.StackTrace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentStack
}

// Continue resumes a paused Thread, awaiting any in-flight breakpoint
// reconciliation first.
func (t *Thread) Continue(ctx context.Context) error {
	t.reconcileGate.Wait()
	return cdp.Resume(ctx, t.session)
}

// StepOver, StepInto, StepOut translate DAP's next/stepIn/stepOut.
func (t *Thread) StepOver(ctx context.Context) error { return cdp.StepOver(ctx, t.session) }
func (t *Thread) StepInto(ctx context.Context) error { return cdp.StepInto(ctx, t.session) }
func (t *Thread) StepOut(ctx context.Context) error  { return cdp.StepOut(ctx, t.session) }
func (t *Thread) Pause(ctx context.Context) error    { return cdp.Pause(ctx, t.session) }

// Evaluate dispatches to Debugger.evaluateOnCallFrame while paused on
// frameCallFrameID (if non-empty), otherwise to Runtime.evaluate, per
// spec.md §4.4's evaluation contract.
func (t *Thread) Evaluate(ctx context.Context, expr string, frameCallFrameID runtime.CallFrameID) (*runtime.RemoteObject, error) {
	if t.State() == Paused && frameCallFrameID != "" {
		result, exc, err := cdp.EvaluateOnCallFrame(ctx, t.session, frameCallFrameID, expr)
		if err != nil {
			return nil, err
		}
		if exc != nil {
			return nil, fmt.Errorf("%s", exceptionText(exc))
		}
		return result, nil
	}

	result, exc, err := cdp.Evaluate(ctx, t.session, expr)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, fmt.Errorf("%s", exceptionText(exc))
	}
	return result, nil
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

// Dispose tears down the Thread, marking it Disposed. Called by
// TargetManager's depth-first detach.
func (t *Thread) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Disposed
}
