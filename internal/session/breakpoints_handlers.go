package session

import (
	"context"

	"github.com/google/go-dap"

	"github.com/nodescope/jsdbg/internal/breakpoints"
	"github.com/nodescope/jsdbg/internal/sources"
)

// sourceCacheKey mirrors breakpoints.sourceKey: a requested source is
// addressed either by absolute path or by sourceReference.
func sourceCacheKey(src *dap.Source) (path string, ref int, useRef bool) {
	if src.Path != "" {
		return src.Path, 0, false
	}
	return "", src.SourceReference, true
}

func toSourcePoints(points []dap.SourceBreakpoint) []breakpoints.SourcePoint {
	out := make([]breakpoints.SourcePoint, len(points))
	for i, p := range points {
		out[i] = breakpoints.SourcePoint{
			Line:         p.Line,
			Column:       p.Column,
			Condition:    p.Condition,
			HitCondition: p.HitCondition,
			LogMessage:   p.LogMessage,
		}
	}
	return out
}

func toDAPBreakpoints(bps []*breakpoints.Breakpoint) []dap.Breakpoint {
	out := make([]dap.Breakpoint, len(bps))
	for i, bp := range bps {
		out[i] = dap.Breakpoint{Id: bp.ID, Verified: bp.Verified()}
		if loc, ok := bp.Resolved(); ok {
			out[i].Line = loc.Line + 1
			if loc.Source != nil {
				out[i].Source = &dap.Source{Path: loc.Source.AbsolutePath, SourceReference: loc.Source.Reference}
			}
		}
	}
	return out
}

// handleSetBreakpoints stores the requested breakpoint set for this
// source at the session level (spec.md's "desired state", replayed
// into every attached/future target) and installs it against every
// currently attached thread whose source container can resolve it.
func (s *Session) handleSetBreakpoints(ctx context.Context, req *dap.SetBreakpointsRequest) {
	args := req.Arguments
	path, ref, useRef := sourceCacheKey(&args.Source)
	points := toSourcePoints(args.Breakpoints)

	s.mu.Lock()
	if useRef {
		s.sourceBreakpointsRef[ref] = points
	} else {
		s.sourceBreakpoints[path] = points
	}
	s.mu.Unlock()

	var installed []*breakpoints.Breakpoint
	resolved := false
	for _, e := range s.allThreads() {
		src := resolveRequestedSource(e.thread.Container(), path, ref, useRef)
		if src == nil {
			continue
		}
		ts := e.thread.ThreadSessionForBreakpoints()
		installed = e.bp.SetBreakpoints(ctx, ts, src, points)
		resolved = true
	}

	var result []dap.Breakpoint
	if resolved {
		result = toDAPBreakpoints(installed)
	} else {
		// No target resolves this source yet (breakpoints set before
		// launch finishes attaching, or for a source not yet loaded):
		// still report back unverified breakpoints so the client shows
		// them pending until a target attaches and replayBreakpoints
		// installs them for real.
		result = make([]dap.Breakpoint, len(points))
		for i, p := range points {
			result[i] = dap.Breakpoint{Verified: false, Line: p.Line}
		}
	}

	s.send(&dap.SetBreakpointsResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: result},
	})
}

func resolveRequestedSource(container *sources.Container, path string, ref int, useRef bool) *sources.Source {
	if useRef {
		src, _ := container.BySourceReference(ref)
		return src
	}
	src, _ := container.ByPath(path)
	return src
}

// replayBreakpoints installs every session-level desired breakpoint
// set against a newly attached thread, once its source container has
// had a chance to register the scripts it already knows about.
func (s *Session) replayBreakpoints(ctx context.Context, e *threadEntry) {
	s.mu.Lock()
	byPath := make(map[string][]breakpoints.SourcePoint, len(s.sourceBreakpoints))
	for k, v := range s.sourceBreakpoints {
		byPath[k] = v
	}
	byRef := make(map[int][]breakpoints.SourcePoint, len(s.sourceBreakpointsRef))
	for k, v := range s.sourceBreakpointsRef {
		byRef[k] = v
	}
	s.mu.Unlock()

	ts := e.thread.ThreadSessionForBreakpoints()
	for path, points := range byPath {
		src, ok := e.thread.Container().ByPath(path)
		if !ok {
			continue
		}
		e.bp.SetBreakpoints(ctx, ts, src, points)
	}
	for ref, points := range byRef {
		src, ok := e.thread.Container().BySourceReference(ref)
		if !ok {
			continue
		}
		e.bp.SetBreakpoints(ctx, ts, src, points)
	}
}

func (s *Session) handleSetExceptionBreakpoints(req *dap.SetExceptionBreakpointsRequest) {
	s.mu.Lock()
	s.exceptionFilters = append([]string(nil), req.Arguments.Filters...)
	s.mu.Unlock()

	for _, e := range s.allThreads() {
		e.thread.SetPauseOnExceptions(s.exceptionFilters)
	}

	s.send(&dap.SetExceptionBreakpointsResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
	})
}

func (s *Session) handleBreakpointLocations(req *dap.BreakpointLocationsRequest) {
	args := req.Arguments
	path, ref, useRef := sourceCacheKey(&args.Source)

	var locs []dap.BreakpointLocation
	for _, e := range s.allThreads() {
		src := resolveRequestedSource(e.thread.Container(), path, ref, useRef)
		if src == nil {
			continue
		}
		predicted := e.predictor.PredictedResolvedLocations(src.AbsolutePath, args.Line, 0)
		for _, p := range predicted {
			locs = append(locs, dap.BreakpointLocation{Line: p.CompiledLine})
		}
		break
	}
	if locs == nil {
		locs = []dap.BreakpointLocation{{Line: args.Line}}
	}

	s.send(&dap.BreakpointLocationsResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body:     dap.BreakpointLocationsResponseBody{Breakpoints: locs},
	})
}

// onBreakpointChanged is BreakpointManager's onChanged hook, firing a
// DAP "breakpoint" event whenever a Breakpoint resolves asynchronously
// after its initial (unverified) response.
func (s *Session) onBreakpointChanged(bp *breakpoints.Breakpoint) {
	d := toDAPBreakpoints([]*breakpoints.Breakpoint{bp})[0]
	s.sendEvent(&dap.BreakpointEvent{
		Event: baseEvent(s.transport.NextSeq(), "breakpoint"),
		Body:  dap.BreakpointEventBody{Reason: "changed", Breakpoint: d},
	})
}
