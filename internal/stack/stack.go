// Package stack builds DAP stack traces from a CDP pause's call frames,
// lazily walking async parent chains on demand.
package stack

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/runtime"

	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/sources"
)

// Frame is one materialized DAP stack frame.
type Frame struct {
	ID               int64
	Name             string
	ScriptID         string
	Line             int
	Column           int
	UiLocation       *sources.UiLocation
	CallFrameID      runtime.CallFrameID
	IsAsyncSeparator bool

	// ScopeChain carries the frame's scopes (local, closure, global,
	// ...) as reported by the pause's call frame. Only synchronous
	// frames from the eager chain have one; async-walked frames (from
	// Debugger.getStackTrace) do not expose live scopes.
	ScopeChain []*debugger.Scope
}

// IDAllocator hands out globally monotone frame ids, shared across every
// StackTrace in the adapter process (see §9's AdapterContext counters).
type IDAllocator struct {
	next int64
}

func (a *IDAllocator) Next() int64 {
	return atomic.AddInt64(&a.next, 1)
}

// StackTrace wraps a pause's eagerly-materialized frames plus however
// much of the async parent chain has been walked so far.
type StackTrace struct {
	session   *cdp.Session
	container *sources.Container
	ids       *IDAllocator

	frames []*Frame

	parent   *runtime.StackTrace
	parentID *runtime.StackTraceID

	exhausted bool
}

// Build materializes the initial (eager) frame chain from a Debugger.paused
// event's call frames, plus whatever async stack trace/id CDP supplied.
func Build(session *cdp.Session, container *sources.Container, ids *IDAllocator, callFrames []*debugger.CallFrame, asyncTrace *runtime.StackTrace, asyncTraceID *runtime.StackTraceID) *StackTrace {
	st := &StackTrace{session: session, container: container, ids: ids}
	for _, cf := range callFrames {
		st.frames = append(st.frames, st.frameFromDebugger(cf))
	}
	if asyncTrace != nil {
		st.appendAsyncChain(asyncTrace)
	} else if asyncTraceID != nil {
		st.parentID = asyncTraceID
	}
	return st
}

func (st *StackTrace) frameFromDebugger(cf *debugger.CallFrame) *Frame {
	f := &Frame{
		ID:          st.ids.Next(),
		Name:        cf.FunctionName,
		CallFrameID: cf.CallFrameID,
		ScopeChain:  cf.ScopeChain,
	}
	if cf.Location != nil {
		f.ScriptID = string(cf.Location.ScriptID)
		f.Line = int(cf.Location.LineNumber)
		f.Column = int(cf.Location.ColumnNumber)
		if f.Name == "" {
			f.Name = "(anonymous function)"
		}
		if src := st.container.ByScriptID(f.ScriptID); src != nil {
			locs := st.container.CurrentSiblingUiLocations(sources.UiLocation{Source: src, Line: f.Line, Column: f.Column}, nil)
			if len(locs) > 0 {
				loc := locs[0]
				f.UiLocation = &loc
			}
		}
	}
	return f
}

func (st *StackTrace) frameFromRuntime(cf *runtime.CallFrame) *Frame {
	name := cf.FunctionName
	if name == "" {
		name = "(anonymous function)"
	}
	f := &Frame{
		ID:       st.ids.Next(),
		Name:     name,
		ScriptID: string(cf.ScriptID),
		Line:     int(cf.LineNumber),
		Column:   int(cf.ColumnNumber),
	}
	if src := st.container.ByScriptID(f.ScriptID); src != nil {
		locs := st.container.CurrentSiblingUiLocations(sources.UiLocation{Source: src, Line: f.Line, Column: f.Column}, nil)
		if len(locs) > 0 {
			loc := locs[0]
			f.UiLocation = &loc
		}
	}
	return f
}

// appendAsyncChain inlines trace's frames, inserting a synthetic async
// separator frame at the boundary and collapsing the duplicate leading
// call frame consecutive "async function" chains otherwise produce.
func (st *StackTrace) appendAsyncChain(trace *runtime.StackTrace) {
	name := trace.Description
	if name == "" {
		name = "async"
	}
	st.frames = append(st.frames, &Frame{
		ID:               st.ids.Next(),
		Name:             name,
		IsAsyncSeparator: true,
	})

	callFrames := trace.CallFrames
	if strings.Contains(strings.ToLower(trace.Description), "async function") && len(callFrames) > 0 {
		callFrames = callFrames[1:]
	}
	for _, cf := range callFrames {
		st.frames = append(st.frames, st.frameFromRuntime(cf))
	}

	if trace.Parent != nil {
		st.appendAsyncChain(trace.Parent)
	} else if trace.ParentID != nil {
		st.parentID = trace.ParentID
	} else {
		st.exhausted = true
	}
}

// Frames returns every frame materialized so far.
func (st *StackTrace) Frames() []*Frame {
	return st.frames
}

// HasMore reports whether a deferred async parent chain remains unwalked.
func (st *StackTrace) HasMore() bool {
	return !st.exhausted && st.parentID != nil
}

// FetchMore walks the next async parent chain via Debugger.getStackTrace,
// called when a client requests more frames than are already materialized.
func (st *StackTrace) FetchMore(ctx context.Context) ([]*Frame, error) {
	if !st.HasMore() {
		return nil, nil
	}
	before := len(st.frames)

	params := &debugger.GetStackTraceParams{StackTraceID: st.parentID}
	var result struct {
		StackTrace *runtime.StackTrace `json:"stackTrace"`
	}
	if err := st.session.Call(ctx, "Debugger.getStackTrace", params, &result); err != nil {
		return nil, fmt.Errorf("stack: getStackTrace: %w", err)
	}
	st.parentID = nil
	if result.StackTrace == nil {
		st.exhausted = true
		return nil, nil
	}
	st.appendAsyncChain(result.StackTrace)
	return st.frames[before:], nil
}
