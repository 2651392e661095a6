package cdp

import (
	"context"

	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/profiler"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/serviceworker"
	"github.com/chromedp/cdproto/target"
)

// EnableDomains turns on every domain a Thread observes, mirroring
// spec.md §6's external-interface command list.
func EnableDomains(ctx context.Context, s *Session) error {
	if err := s.Call(ctx, "Debugger.enable", &debugger.EnableParams{}, nil); err != nil {
		return err
	}
	if err := s.Call(ctx, "Runtime.enable", &runtime.EnableParams{}, nil); err != nil {
		return err
	}
	if err := s.Call(ctx, "Page.enable", &page.EnableParams{}, nil); err != nil {
		return err
	}
	if err := s.Call(ctx, "Network.enable", &network.EnableParams{}, nil); err != nil {
		return err
	}
	if err := s.Call(ctx, "ServiceWorker.enable", &serviceworker.EnableParams{}, nil); err != nil {
		return err
	}
	if err := s.Call(ctx, "Profiler.enable", &profiler.EnableParams{}, nil); err != nil {
		return err
	}
	return nil
}

// setInstrumentationBreakpointParams mirrors
// debugger.SetInstrumentationBreakpointParams's wire shape directly
// rather than importing it, since the instrumentation name is the only
// field the caller needs to control.
type setInstrumentationBreakpointParams struct {
	Instrumentation string `json:"instrumentation"`
}

// SetInstrumentationBreakpoint arms a CDP instrumentation breakpoint
// that pauses the runtime itself before it executes any script
// matching instrumentation (e.g. "beforeScriptWithSourceMapExecution"),
// so a Thread can finish reconciling breakpoints against a script's
// source map before that script's first line ever runs.
func SetInstrumentationBreakpoint(ctx context.Context, s *Session, instrumentation string) error {
	params := &setInstrumentationBreakpointParams{Instrumentation: instrumentation}
	return s.Call(ctx, "Debugger.setInstrumentationBreakpoint", params, nil)
}

// SetAutoAttach enables recursive auto-attach on s, per §4.5.
func SetAutoAttach(ctx context.Context, s *Session) error {
	if err := s.Call(ctx, "Target.setDiscoverTargets", &target.SetDiscoverTargetsParams{Discover: true}, nil); err != nil {
		return err
	}
	params := &target.SetAutoAttachParams{
		AutoAttach:             true,
		WaitForDebuggerOnStart: true,
		Flatten:                true,
	}
	return s.Call(ctx, "Target.setAutoAttach", params, nil)
}

// AttachToTargetResult mirrors target.AttachToTargetReturns's shape.
type AttachToTargetResult struct {
	SessionID target.SessionID `json:"sessionId"`
}

// AttachToTarget attaches a flattened session to targetID.
func AttachToTarget(ctx context.Context, s *Session, targetID target.ID) (target.SessionID, error) {
	params := &target.AttachToTargetParams{TargetID: targetID, Flatten: true}
	var result AttachToTargetResult
	if err := s.Call(ctx, "Target.attachToTarget", params, &result); err != nil {
		return "", err
	}
	return result.SessionID, nil
}

// DetachFromTarget detaches a flattened session.
func DetachFromTarget(ctx context.Context, s *Session, sessionID target.SessionID) error {
	params := &target.DetachFromTargetParams{SessionID: sessionID}
	return s.Call(ctx, "Target.detachFromTarget", params, nil)
}

// SetBreakpointByURLResult mirrors debugger.SetBreakpointByURLReturns.
type SetBreakpointByURLResult struct {
	BreakpointID debugger.BreakpointID `json:"breakpointId"`
	Locations    []*debugger.Location  `json:"locations"`
}

// SetBreakpointByURL installs a breakpoint on every script whose URL
// matches urlRegex, the "by path" strategy in §4.6.
func SetBreakpointByURL(ctx context.Context, s *Session, line, column int64, urlRegex, condition string) (*SetBreakpointByURLResult, error) {
	params := &debugger.SetBreakpointByURLParams{
		LineNumber: line,
		URLRegex:   urlRegex,
		Condition:  condition,
	}
	if column > 0 {
		params.ColumnNumber = column
	}
	var result SetBreakpointByURLResult
	if err := s.Call(ctx, "Debugger.setBreakpointByUrl", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetBreakpointResult mirrors debugger.SetBreakpointReturns.
type SetBreakpointResult struct {
	BreakpointID debugger.BreakpointID `json:"breakpointId"`
	ActualLocation *debugger.Location `json:"actualLocation"`
}

// SetBreakpoint installs a breakpoint at an exact script location, the
// "by current sibling" strategy in §4.6.
func SetBreakpoint(ctx context.Context, s *Session, loc *debugger.Location, condition string) (*SetBreakpointResult, error) {
	params := &debugger.SetBreakpointParams{Location: loc, Condition: condition}
	var result SetBreakpointResult
	if err := s.Call(ctx, "Debugger.setBreakpoint", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RemoveBreakpoint removes a previously installed breakpoint by its
// runtime-assigned id.
func RemoveBreakpoint(ctx context.Context, s *Session, id debugger.BreakpointID) error {
	return s.Call(ctx, "Debugger.removeBreakpoint", &debugger.RemoveBreakpointParams{BreakpointID: id}, nil)
}

// SetBlackboxPatterns installs the skip package's compiled patterns so
// the runtime itself skips stepping through matching scripts.
func SetBlackboxPatterns(ctx context.Context, s *Session, patterns []string) error {
	return s.Call(ctx, "Debugger.setBlackboxPatterns", &debugger.SetBlackboxPatternsParams{Patterns: patterns}, nil)
}

// Resume continues execution after a pause.
func Resume(ctx context.Context, s *Session) error {
	return s.Call(ctx, "Debugger.resume", &debugger.ResumeParams{}, nil)
}

// StepOver steps over the current line.
func StepOver(ctx context.Context, s *Session) error {
	return s.Call(ctx, "Debugger.stepOver", &debugger.StepOverParams{}, nil)
}

// StepInto steps into the current call.
func StepInto(ctx context.Context, s *Session) error {
	return s.Call(ctx, "Debugger.stepInto", &debugger.StepIntoParams{}, nil)
}

// StepOut steps out of the current function.
func StepOut(ctx context.Context, s *Session) error {
	return s.Call(ctx, "Debugger.stepOut", &debugger.StepOutParams{}, nil)
}

// Pause requests the runtime suspend at the next statement.
func Pause(ctx context.Context, s *Session) error {
	return s.Call(ctx, "Debugger.pause", &debugger.PauseParams{}, nil)
}

// SetPauseOnExceptions configures Debugger.setPauseOnExceptions from
// DAP's setExceptionBreakpoints filter ids ("all", "uncaught").
func SetPauseOnExceptions(ctx context.Context, s *Session, filters []string) error {
	state := debugger.PauseStateNone
	for _, f := range filters {
		switch f {
		case "all":
			state = debugger.PauseStateAll
		case "uncaught":
			if state != debugger.PauseStateAll {
				state = debugger.PauseStateUncaught
			}
		}
	}
	return s.Call(ctx, "Debugger.setPauseOnExceptions", &debugger.SetPauseOnExceptionsParams{State: state}, nil)
}

// EvaluateOnCallFrame evaluates expr against a specific paused call
// frame, per §4.4's evaluate-while-paused contract.
func EvaluateOnCallFrame(ctx context.Context, s *Session, callFrameID runtime.CallFrameID, expr string) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	params := &debugger.EvaluateOnCallFrameParams{
		CallFrameID: callFrameID,
		Expression:  expr,
	}
	var result struct {
		Result           *runtime.RemoteObject     `json:"result"`
		ExceptionDetails *runtime.ExceptionDetails `json:"exceptionDetails"`
	}
	if err := s.Call(ctx, "Debugger.evaluateOnCallFrame", params, &result); err != nil {
		return nil, nil, err
	}
	return result.Result, result.ExceptionDetails, nil
}

// Evaluate evaluates expr in the global scope (not-paused path).
func Evaluate(ctx context.Context, s *Session, expr string) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	params := &runtime.EvaluateParams{Expression: expr}
	var result struct {
		Result           *runtime.RemoteObject     `json:"result"`
		ExceptionDetails *runtime.ExceptionDetails `json:"exceptionDetails"`
	}
	if err := s.Call(ctx, "Runtime.evaluate", params, &result); err != nil {
		return nil, nil, err
	}
	return result.Result, result.ExceptionDetails, nil
}

// GetProperties fetches an object's own/inherited properties for
// VariableStore materialization, per §4.9.
func GetProperties(ctx context.Context, s *Session, objectID runtime.RemoteObjectID, ownOnly bool) ([]*runtime.PropertyDescriptor, error) {
	params := &runtime.GetPropertiesParams{
		ObjectID:      objectID,
		OwnProperties: ownOnly,
	}
	var result struct {
		Result []*runtime.PropertyDescriptor `json:"result"`
	}
	if err := s.Call(ctx, "Runtime.getProperties", params, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// Navigate navigates a page target to url, used by pwa-chrome/pwa-msedge launches.
func Navigate(ctx context.Context, s *Session, url string) error {
	return s.Call(ctx, "Page.navigate", &page.NavigateParams{URL: url}, nil)
}
