package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"

	"github.com/nodescope/jsdbg/internal/breakpoints"
	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/errors"
	"github.com/nodescope/jsdbg/internal/launchconfig"
	"github.com/nodescope/jsdbg/internal/launcher"
	"github.com/nodescope/jsdbg/internal/pathresolver"
	"github.com/nodescope/jsdbg/internal/skip"
	"github.com/nodescope/jsdbg/internal/target"
)

func (s *Session) handleInitialize(req *dap.InitializeRequest) {
	s.linesStartAt1 = req.Arguments.LinesStartAt1
	s.columnsStartAt1 = req.Arguments.ColumnsStartAt1

	s.send(&dap.InitializeResponse{
		Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true),
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest:  true,
			SupportsConditionalBreakpoints:    true,
			SupportsHitConditionalBreakpoints: true,
			SupportsLogPoints:                 true,
			SupportsSetVariable:               true,
			SupportsEvaluateForHovers:         true,
			SupportsDelayedStackTraceLoading:  true,
			SupportsBreakpointLocationsRequest: true,
			SupportsTerminateRequest:          true,
			SupportTerminateDebuggee:          true,
			ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{
				{Filter: "all", Label: "Caught Exceptions", Default: false},
				{Filter: "uncaught", Label: "Uncaught Exceptions", Default: true},
			},
		},
	})

	s.sendEvent(&dap.InitializedEvent{Event: baseEvent(s.transport.NextSeq(), "initialized")})
}

// resolutionContext builds the ${workspaceFolder}/${env:...} expansion
// context a launch/attach configuration's string fields resolve
// against.
func resolutionContext(cwd string) *launchconfig.ResolutionContext {
	return &launchconfig.ResolutionContext{WorkspaceFolder: cwd}
}

func decodeConfiguration(raw json.RawMessage) (*launchconfig.DebugConfiguration, error) {
	var cfg launchconfig.DebugConfiguration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("session: decode configuration: %w", err)
	}
	return &cfg, nil
}

func (s *Session) handleLaunch(ctx context.Context, req *dap.LaunchRequest) {
	cfg, err := decodeConfiguration(req.Arguments)
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.InvalidArguments("launch", err))
		return
	}

	resolved, err := launchconfig.ResolveConfiguration(cfg, resolutionContext(cfg.Cwd))
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.FromError(err))
		return
	}
	s.mu.Lock()
	s.cfg = resolved
	s.mu.Unlock()

	s.setupResolverAndSkip(resolved)

	runtimeTarget, err := launcher.Launch(ctx, resolved, s.appCfg, s.sessionID)
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.LaunchFailed(resolved.Program, err))
		return
	}
	s.runtime = runtimeTarget

	if err := s.connectAndAttach(ctx, runtimeTarget.WebSocketURL); err != nil {
		s.sendError(req.Seq, req.Command, errors.LaunchFailed(resolved.Program, err))
		return
	}

	s.send(&dap.LaunchResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
}

func (s *Session) handleAttach(ctx context.Context, req *dap.AttachRequest) {
	cfg, err := decodeConfiguration(req.Arguments)
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.InvalidArguments("attach", err))
		return
	}

	resolved, err := launchconfig.ResolveConfiguration(cfg, resolutionContext(cfg.Cwd))
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.FromError(err))
		return
	}
	s.mu.Lock()
	s.cfg = resolved
	s.mu.Unlock()

	s.setupResolverAndSkip(resolved)

	runtimeTarget, err := launcher.Attach(ctx, resolved)
	if err != nil {
		addr := fmt.Sprintf("%s:%d", resolved.Host, resolved.Port)
		s.sendError(req.Seq, req.Command, errors.AttachFailed(addr, err))
		return
	}
	s.runtime = runtimeTarget

	if err := s.connectAndAttach(ctx, runtimeTarget.WebSocketURL); err != nil {
		addr := fmt.Sprintf("%s:%d", resolved.Host, resolved.Port)
		s.sendError(req.Seq, req.Command, errors.AttachFailed(addr, err))
		return
	}

	s.send(&dap.AttachResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
}

func (s *Session) setupResolverAndSkip(cfg *launchconfig.ResolvedConfiguration) {
	resolver, err := pathresolver.New(pathresolver.Options{
		WebRoot:                cfg.WebRoot,
		BaseURL:                cfg.URL,
		SourceMapPathOverrides: cfg.SourceMapPathOverrides,
	})
	if err != nil {
		s.log.Warnf("session: path resolver init failed: %v", err)
		resolver, _ = pathresolver.New(pathresolver.Options{})
	}
	s.resolver = resolver

	if len(cfg.SkipFiles) > 0 {
		s.skipMgr = skip.NewManager(cfg.SkipFiles)
	} else {
		s.skipMgr = skip.DefaultManager()
	}

	root := cfg.WebRoot
	if root == "" {
		root = cfg.Cwd
	}
	predictor := breakpoints.NewPredictor(root)
	s.predictor = predictor
	go func() {
		if err := predictor.Scan(); err != nil {
			s.log.Warnf("session: breakpoint predictor scan of %q failed: %v", root, err)
		}
	}()
}

// connectAndAttach dials the runtime's CDP endpoint and starts the
// TargetManager's auto-attach tree over it, per spec.md §4.5.
func (s *Session) connectAndAttach(ctx context.Context, wsURL string) error {
	conn, err := cdp.Dial(ctx, wsURL, s.log.Sub("cdp"))
	if err != nil {
		return fmt.Errorf("session: dial %s: %w", wsURL, err)
	}
	s.conn = conn

	s.targets = target.NewManager(conn, s.log.Sub("target"), target.Options{
		ThreadFactory:  s.newThreadFactory(),
		OnTargetAttach: s.onTargetAttached,
		OnTargetDetach: s.onTargetDetached,
		OnMainGone:     s.onMainTargetGone,
	})

	return s.targets.Start(ctx)
}

func (s *Session) handleConfigurationDone(ctx context.Context, req *dap.ConfigurationDoneRequest) {
	for _, e := range s.allThreads() {
		e.bp.AwaitLaunchBlocker()
	}
	s.send(&dap.ConfigurationDoneResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
}

func (s *Session) handleDisconnect(ctx context.Context, req *dap.DisconnectRequest) {
	terminate := s.cfg == nil || s.cfg.Request == "launch"
	if req.Arguments.TerminateDebuggee {
		terminate = true
	}
	s.send(&dap.DisconnectResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})

	if terminate && s.runtime != nil {
		_ = s.runtime.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Lock()
	if !s.terminated {
		s.terminated = true
		close(s.done)
	}
	s.mu.Unlock()
}

func (s *Session) handleTerminate(ctx context.Context, req *dap.TerminateRequest) {
	s.send(&dap.TerminateResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
	s.teardown(ctx, "terminate request")
}

// handleRestart tears down the current Thread/Target tree and re-runs
// the same resolved launch/attach configuration. The session's desired
// breakpoint state (sourceBreakpoints/sourceBreakpointsRef) outlives
// the torn-down threads and is replayed into the new attach tree by
// newThreadFactory, so breakpoints persist across a restart even
// though every installed CDP-side breakpoint id is rebuilt from
// scratch.
func (s *Session) handleRestart(ctx context.Context, req *dap.RestartRequest) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg == nil {
		s.sendError(req.Seq, req.Command, errors.InvalidArguments("restart", fmt.Errorf("no prior launch or attach to restart")))
		return
	}

	if s.conn != nil {
		_ = s.conn.Close()
	}
	if cfg.Request == "launch" && s.runtime != nil {
		_ = s.runtime.Close()
	}

	s.mu.Lock()
	s.entriesByID = make(map[string]*threadEntry)
	s.entriesByDAP = make(map[int]*threadEntry)
	s.nextThreadID = 0
	s.mu.Unlock()

	var runtimeTarget *launcher.Target
	var err error
	if cfg.Request == "attach" {
		runtimeTarget, err = launcher.Attach(ctx, cfg)
	} else {
		runtimeTarget, err = launcher.Launch(ctx, cfg, s.appCfg, s.sessionID)
	}
	if err != nil {
		s.sendError(req.Seq, req.Command, errors.LaunchFailed(cfg.Program, err))
		return
	}
	s.runtime = runtimeTarget

	if err := s.connectAndAttach(ctx, runtimeTarget.WebSocketURL); err != nil {
		s.sendError(req.Seq, req.Command, errors.LaunchFailed(cfg.Program, err))
		return
	}

	s.send(&dap.RestartResponse{Response: baseResponse(s.transport.NextSeq(), req.Seq, req.Command, true)})
}
