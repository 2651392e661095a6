package session

import (
	"context"
	"path/filepath"

	"github.com/chromedp/cdproto/runtime"
	"github.com/google/go-dap"

	"github.com/nodescope/jsdbg/internal/errors"
	"github.com/nodescope/jsdbg/internal/sources"
	"github.com/nodescope/jsdbg/internal/stack"
	"github.com/nodescope/jsdbg/internal/variables"
)

func dapSource(src *sources.Source) *dap.Source {
	if src == nil {
		return nil
	}
	name := src.AbsolutePath
	if name == "" {
		name = src.URL
	}
	return &dap.Source{
		Name:            filepath.Base(name),
		Path:            src.AbsolutePath,
		SourceReference: src.Reference,
	}
}

func dapFrame(f *stack.Frame) dap.StackFrame {
	sf := dap.StackFrame{
		Id:   int(f.ID),
		Name: f.Name,
		Line: f.Line + 1,
	}
	if f.UiLocation != nil {
		sf.Line = f.UiLocation.Line + 1
		sf.Column = f.UiLocation.Column + 1
		sf.Source = dapSource(f.UiLocation.Source)
	}
	if f.IsAsyncSeparator {
		sf.PresentationHint = "label"
	}
	return sf
}

func (s *Session) handleThreads(req *dap.ThreadsRequest) {
	entries := s.allThreads()
	out := make([]dap.Thread, 0, len(entries))
	for _, e := range entries {
		name := e.targetID
		if e.target != nil && e.target.Title != "" {
			name = e.target.Title
		}
		out = append(out, dap.Thread{Id: e.dapID, Name: name})
	}
	s.send(&dap.ThreadsResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body:     dap.ThreadsResponseBody{Threads: out},
	})
}

func (s *Session) handleStackTrace(ctx context.Context, req *dap.StackTraceRequest) {
	args := req.Arguments
	e, ok := s.threadByDAPID(args.ThreadId)
	if !ok {
		s.sendError(req.Seq, req.Command, errors.ThreadNotFound(args.ThreadId))
		return
	}
	st := e.thread.CurrentStack()
	if st == nil {
		s.sendError(req.Seq, req.Command, errors.ThreadNotPaused(args.ThreadId))
		return
	}

	start := args.StartFrame
	levels := args.Levels

	for levels == 0 || start+levels > len(st.Frames()) {
		if !st.HasMore() {
			break
		}
		if _, err := st.FetchMore(ctx); err != nil {
			break
		}
	}

	frames := st.Frames()
	if start > len(frames) {
		start = len(frames)
	}
	end := len(frames)
	if levels > 0 && start+levels < end {
		end = start + levels
	}

	out := make([]dap.StackFrame, 0, end-start)
	for _, f := range frames[start:end] {
		out = append(out, dapFrame(f))
	}

	s.send(&dap.StackTraceResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body: dap.StackTraceResponseBody{
			StackFrames: out,
			TotalFrames: len(frames),
		},
	})
}

func (s *Session) handleScopes(req *dap.ScopesRequest) {
	e, f, ok := s.frameByID(req.Arguments.FrameId)
	if !ok {
		s.sendError(req.Seq, req.Command, errors.FrameNotFound(req.Arguments.FrameId))
		return
	}

	vars := e.thread.Variables()

	out := make([]dap.Scope, 0, len(f.ScopeChain))
	for _, sc := range f.ScopeChain {
		if sc.Object == nil {
			continue
		}
		ref := vars.CreateForObject(sc.Object, 0)
		out = append(out, dap.Scope{
			Name:               scopeName(string(sc.Type)),
			VariablesReference: ref,
			Expensive:          string(sc.Type) == "global",
		})
	}

	s.send(&dap.ScopesResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body:     dap.ScopesResponseBody{Scopes: out},
	})
}

func scopeName(cdpScopeType string) string {
	switch cdpScopeType {
	case "local":
		return "Local"
	case "closure":
		return "Closure"
	case "catch":
		return "Catch"
	case "block":
		return "Block"
	case "script":
		return "Script"
	case "with":
		return "With Block"
	case "global":
		return "Global"
	case "module":
		return "Module"
	default:
		return cdpScopeType
	}
}

// threadForRef finds whichever attached thread owns variablesReference
// ref, since a VariablesRequest carries no threadId of its own.
func (s *Session) threadForRef(ref int) *threadEntry {
	for _, e := range s.allThreads() {
		if e.thread.Variables().Owns(ref) {
			return e
		}
	}
	return nil
}

func dapVariable(v variables.Variable) dap.Variable {
	return dap.Variable{
		Name:               v.Name,
		Value:              v.Value,
		Type:               v.Type,
		VariablesReference: v.VariablesReference,
		NamedVariables:     v.NamedVariables,
		IndexedVariables:   v.IndexedVariables,
	}
}

func (s *Session) handleVariables(ctx context.Context, req *dap.VariablesRequest) {
	ref := req.Arguments.VariablesReference
	e := s.threadForRef(ref)
	if e == nil {
		s.sendError(req.Seq, req.Command, errors.VariableNotFound(ref))
		return
	}

	vars, err := e.thread.Variables().GetVariables(ctx, e.thread.Session(), ref)
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.FromError(err))
		return
	}

	out := make([]dap.Variable, 0, len(vars))
	for _, v := range vars {
		out = append(out, dapVariable(v))
	}

	s.send(&dap.VariablesResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body:     dap.VariablesResponseBody{Variables: out},
	})
}

func (s *Session) handleSetVariable(ctx context.Context, req *dap.SetVariableRequest) {
	ref := req.Arguments.VariablesReference
	e := s.threadForRef(ref)
	if e == nil {
		s.sendError(req.Seq, req.Command, errors.VariableNotFound(ref))
		return
	}

	v, err := e.thread.Variables().SetVariable(ctx, e.thread.Session(), ref, req.Arguments.Name, req.Arguments.Value)
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.InvalidExpression(req.Arguments.Value, err.Error()))
		return
	}

	s.send(&dap.SetVariableResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body: dap.SetVariableResponseBody{
			Value:              v.Value,
			Type:               v.Type,
			VariablesReference: v.VariablesReference,
		},
	})
}

func (s *Session) handleEvaluate(ctx context.Context, req *dap.EvaluateRequest) {
	args := req.Arguments

	var e *threadEntry
	var callFrameID runtime.CallFrameID
	if args.FrameId != 0 {
		var f *stack.Frame
		var ok bool
		e, f, ok = s.frameByID(args.FrameId)
		if !ok {
			s.sendError(req.Seq, req.Command, errors.FrameNotFound(args.FrameId))
			return
		}
		callFrameID = f.CallFrameID
	} else if entries := s.allThreads(); len(entries) > 0 {
		e = entries[0]
	}
	if e == nil {
		s.sendError(req.Seq, req.Command, errors.NoMainTarget())
		return
	}

	result, err := e.thread.Evaluate(ctx, args.Expression, callFrameID)
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.InvalidExpression(args.Expression, err.Error()))
		return
	}

	ref := 0
	if result.Type == "object" || result.Type == "function" {
		ref = e.thread.Variables().CreateForObject(result, 0)
	}

	s.send(&dap.EvaluateResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body: dap.EvaluateResponseBody{
			Result:             previewRemote(result),
			Type:               string(result.Type),
			VariablesReference: ref,
		},
	})
}

func previewRemote(obj *runtime.RemoteObject) string {
	if obj == nil {
		return "undefined"
	}
	if obj.Description != "" {
		return obj.Description
	}
	return string(obj.Value)
}

func (s *Session) requireThread(req *dap.Request, threadID int) (*threadEntry, bool) {
	e, ok := s.threadByDAPID(threadID)
	if !ok {
		s.sendError(req.Seq, req.Command, errors.ThreadNotFound(threadID))
		return nil, false
	}
	return e, true
}

func (s *Session) handleContinue(ctx context.Context, req *dap.ContinueRequest) {
	e, ok := s.requireThread(&req.Request, req.Arguments.ThreadId)
	if !ok {
		return
	}
	if err := e.thread.Continue(ctx); err != nil {
		s.sendError(req.Seq, req.Command, errors.FromError(err))
		return
	}
	s.send(&dap.ContinueResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body:     dap.ContinueResponseBody{AllThreadsContinued: false},
	})
}

func (s *Session) handleNext(ctx context.Context, req *dap.NextRequest) {
	e, ok := s.requireThread(&req.Request, req.Arguments.ThreadId)
	if !ok {
		return
	}
	if err := e.thread.StepOver(ctx); err != nil {
		s.sendError(req.Seq, req.Command, errors.FromError(err))
		return
	}
	s.send(&dap.NextResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
}

func (s *Session) handleStepIn(ctx context.Context, req *dap.StepInRequest) {
	e, ok := s.requireThread(&req.Request, req.Arguments.ThreadId)
	if !ok {
		return
	}
	if err := e.thread.StepInto(ctx); err != nil {
		s.sendError(req.Seq, req.Command, errors.FromError(err))
		return
	}
	s.send(&dap.StepInResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
}

func (s *Session) handleStepOut(ctx context.Context, req *dap.StepOutRequest) {
	e, ok := s.requireThread(&req.Request, req.Arguments.ThreadId)
	if !ok {
		return
	}
	if err := e.thread.StepOut(ctx); err != nil {
		s.sendError(req.Seq, req.Command, errors.FromError(err))
		return
	}
	s.send(&dap.StepOutResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
}

func (s *Session) handlePause(ctx context.Context, req *dap.PauseRequest) {
	e, ok := s.requireThread(&req.Request, req.Arguments.ThreadId)
	if !ok {
		return
	}
	if err := e.thread.Pause(ctx); err != nil {
		s.sendError(req.Seq, req.Command, errors.FromError(err))
		return
	}
	s.send(&dap.PauseResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
}

func (s *Session) handleSource(req *dap.SourceRequest) {
	args := req.Arguments
	var src *sources.Source
	for _, e := range s.allThreads() {
		container := e.thread.Container()
		if args.Source != nil && args.Source.Path != "" {
			if found, ok := container.ByPath(args.Source.Path); ok {
				src = found
				break
			}
		}
		if args.SourceReference != 0 {
			if found, ok := container.BySourceReference(args.SourceReference); ok {
				src = found
				break
			}
		}
	}
	if src == nil {
		s.sendError(req.Seq, req.Command, errors.SourceNotFound(args.SourceReference, sourcePath(args.Source)))
		return
	}

	content, err := src.Content()
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.SourceNotFound(args.SourceReference, sourcePath(args.Source)))
		return
	}

	s.send(&dap.SourceResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body:     dap.SourceResponseBody{Content: content, MimeType: "text/javascript"},
	})
}

func sourcePath(src *dap.Source) string {
	if src == nil {
		return ""
	}
	return src.Path
}
