// Package session wires one DAP session together: a CDP connection,
// the target attach tree, per-target Threads and BreakpointManagers,
// and the DAP request dispatcher that answers an editor's requests
// over an internal/dapio Transport.
package session

import (
	"context"
	"encoding/json"
	"sync"

	cdptarget "github.com/chromedp/cdproto/target"
	"github.com/chromedp/cdproto/runtime"
	"github.com/google/go-dap"

	"github.com/nodescope/jsdbg/internal/breakpoints"
	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/config"
	"github.com/nodescope/jsdbg/internal/dapio"
	"github.com/nodescope/jsdbg/internal/errors"
	"github.com/nodescope/jsdbg/internal/launchconfig"
	"github.com/nodescope/jsdbg/internal/launcher"
	"github.com/nodescope/jsdbg/internal/logging"
	"github.com/nodescope/jsdbg/internal/pathresolver"
	"github.com/nodescope/jsdbg/internal/skip"
	"github.com/nodescope/jsdbg/internal/sources"
	"github.com/nodescope/jsdbg/internal/stack"
	"github.com/nodescope/jsdbg/internal/target"
	"github.com/nodescope/jsdbg/internal/thread"
)

// threadEntry is everything the session tracks for one attached
// target: the Thread that owns its CDP session, the breakpoint
// manager bound to that Thread's source container, and the small
// integer id DAP uses to name it.
type threadEntry struct {
	dapID      int
	targetID   string
	target     *target.Target
	thread     *thread.Thread
	bp         *breakpoints.Manager
	predictor  *breakpoints.Predictor
	firstPause bool
}

// Session is one DAP client's debug session: one launched or attached
// runtime, its target tree, and the request/event traffic between the
// editor and the runtime.
type Session struct {
	transport *dapio.Transport
	appCfg    *config.Config
	log       *logging.Logger

	linesStartAt1   bool
	columnsStartAt1 bool

	conn      *cdp.Conn
	targets   *target.Manager
	runtime   *launcher.Target
	resolver  *pathresolver.Resolver
	skipMgr   *skip.Manager
	predictor *breakpoints.Predictor
	frameIDs  *stack.IDAllocator
	sessionID string

	mu          sync.Mutex
	cfg         *launchconfig.ResolvedConfiguration
	entriesByID map[string]*threadEntry // by CDP target id
	entriesByDAP map[int]*threadEntry    // by DAP thread id
	nextThreadID int

	sourceBreakpoints    map[string][]breakpoints.SourcePoint // by absolute path
	sourceBreakpointsRef map[int][]breakpoints.SourcePoint    // by source reference
	exceptionFilters     []string

	terminated bool
	done       chan struct{}
}

// New builds an unstarted Session over transport. appCfg supplies
// process-wide defaults (timeouts, profile roots); sessionID scopes
// this session's browser profile directory under appCfg.StorageRoot.
func New(transport *dapio.Transport, appCfg *config.Config, sessionID string, log *logging.Logger) *Session {
	return &Session{
		transport:            transport,
		appCfg:               appCfg,
		log:                  log,
		linesStartAt1:        true,
		columnsStartAt1:      true,
		sessionID:            sessionID,
		entriesByID:          make(map[string]*threadEntry),
		entriesByDAP:         make(map[int]*threadEntry),
		sourceBreakpoints:    make(map[string][]breakpoints.SourcePoint),
		sourceBreakpointsRef: make(map[int][]breakpoints.SourcePoint),
		frameIDs:             &stack.IDAllocator{},
		done:                 make(chan struct{}),
	}
}

// Run reads DAP requests from the transport until the client
// disconnects or the transport errors out, dispatching each to its
// handler and replying on the same transport.
func (s *Session) Run(ctx context.Context) error {
	for {
		msg, err := s.transport.Read()
		if err != nil {
			s.teardown(ctx, "transport read failed")
			return err
		}

		if s.dispatch(ctx, msg) {
			return nil
		}
	}
}

// dispatch handles one incoming message, returning true once the
// session should stop reading (disconnect/terminate processed).
func (s *Session) dispatch(ctx context.Context, msg dap.Message) bool {
	switch req := msg.(type) {
	case *dap.InitializeRequest:
		s.handleInitialize(req)
	case *dap.LaunchRequest:
		s.handleLaunch(ctx, req)
	case *dap.AttachRequest:
		s.handleAttach(ctx, req)
	case *dap.SetBreakpointsRequest:
		s.handleSetBreakpoints(ctx, req)
	case *dap.SetExceptionBreakpointsRequest:
		s.handleSetExceptionBreakpoints(req)
	case *dap.BreakpointLocationsRequest:
		s.handleBreakpointLocations(req)
	case *dap.ConfigurationDoneRequest:
		s.handleConfigurationDone(ctx, req)
	case *dap.ThreadsRequest:
		s.handleThreads(req)
	case *dap.StackTraceRequest:
		s.handleStackTrace(ctx, req)
	case *dap.ScopesRequest:
		s.handleScopes(req)
	case *dap.VariablesRequest:
		s.handleVariables(ctx, req)
	case *dap.SetVariableRequest:
		s.handleSetVariable(ctx, req)
	case *dap.EvaluateRequest:
		s.handleEvaluate(ctx, req)
	case *dap.ContinueRequest:
		s.handleContinue(ctx, req)
	case *dap.NextRequest:
		s.handleNext(ctx, req)
	case *dap.StepInRequest:
		s.handleStepIn(ctx, req)
	case *dap.StepOutRequest:
		s.handleStepOut(ctx, req)
	case *dap.PauseRequest:
		s.handlePause(ctx, req)
	case *dap.SourceRequest:
		s.handleSource(req)
	case *dap.DisconnectRequest:
		s.handleDisconnect(ctx, req)
		return true
	case *dap.TerminateRequest:
		s.handleTerminate(ctx, req)
		return true
	case *dap.RestartRequest:
		s.handleRestart(ctx, req)
	default:
		s.log.Warnf("session: unhandled request %T", msg)
	}
	return false
}

// --- response/event plumbing ---

func (s *Session) send(msg dap.Message) {
	if err := s.transport.Send(msg); err != nil {
		s.log.Warnf("session: send failed: %v", err)
	}
}

func baseResponse(seq, requestSeq int, command string, success bool) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "response"},
		RequestSeq:      requestSeq,
		Success:         success,
		Command:         command,
	}
}

func baseEvent(seq int, event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "event"},
		Event:           event,
	}
}

// sendError answers req with an ErrorResponse built from a DebugError,
// the user-error path of spec.md §7.
func (s *Session) sendError(requestSeq int, command string, de *errors.DebugError) {
	s.send(&dap.ErrorResponse{
		Response: baseResponse(s.transport.NextSeq(), requestSeq, command, false),
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{
				Id:       1,
				Format:   de.Error(),
				ShowUser: true,
			},
		},
	})
}

func (s *Session) sendEvent(msg dap.Message) {
	s.send(msg)
}

// --- thread registry ---

func (s *Session) threadByDAPID(id int) (*threadEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entriesByDAP[id]
	return e, ok
}

func (s *Session) allThreads() []*threadEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*threadEntry, 0, len(s.entriesByDAP))
	for _, e := range s.entriesByDAP {
		out = append(out, e)
	}
	return out
}

// frameByID searches every live thread's current stack trace for a
// frame with the given DAP id, the lookup scopes/evaluate/variables
// use to find which CDP session a frameId belongs to.
func (s *Session) frameByID(frameID int) (*threadEntry, *stack.Frame, bool) {
	for _, e := range s.allThreads() {
		st := e.thread.CurrentStack()
		if st == nil {
			continue
		}
		for _, f := range st.Frames() {
			if int64(frameID) == f.ID {
				return e, f, true
			}
		}
	}
	return nil, nil, false
}

// --- target attach -> Thread wiring ---

// newThreadFactory returns the target.ThreadFactory the target.Manager
// invokes for every newly attached page/iframe/worker/node target.
func (s *Session) newThreadFactory() target.ThreadFactory {
	return func(ctx context.Context, cdpSession *cdp.Session, info cdptarget.Info) target.Thread {
		bpMgr := breakpoints.NewManager(nil, s.predictor, s.onBreakpointChanged)

		targetID := string(info.TargetID)

		th, err := thread.New(ctx, cdpSession, thread.Options{
			Log:         s.log.Sub("thread"),
			Resolver:    s.resolver,
			Fetcher:     sources.NewFetcher(),
			SkipManager: s.skipMgr,
			Breakpoints: bpMgr,
			IDs:         s.frameIDs,
			OnStopped: func(pe thread.PauseEvent) {
				s.onThreadStopped(targetID, pe)
			},
			OnContinued: func() {
				s.onThreadContinued(targetID)
			},
			OnConsoleAPICalled: func(kind string, args []*runtime.RemoteObject) {
				s.onConsoleOutput(targetID, kind, args)
			},
			OnExceptionThrown: func(text string) {
				s.onExceptionThrown(targetID, text)
			},
		})
		if err != nil {
			s.log.Warnf("session: thread init for target %s failed: %v", targetID, err)
			return noopThread{}
		}
		bpMgr.BindContainer(th.Container())

		s.mu.Lock()
		s.nextThreadID++
		entry := &threadEntry{
			dapID:      s.nextThreadID,
			targetID:   targetID,
			thread:     th,
			bp:         bpMgr,
			predictor:  s.predictor,
			firstPause: true,
		}
		s.entriesByID[targetID] = entry
		s.entriesByDAP[entry.dapID] = entry
		s.mu.Unlock()

		s.replayBreakpoints(ctx, entry)

		s.sendEvent(&dap.ThreadEvent{
			Event: baseEvent(s.transport.NextSeq(), "thread"),
			Body:  dap.ThreadEventBody{Reason: "started", ThreadId: entry.dapID},
		})

		return th
	}
}

type noopThread struct{}

func (noopThread) Dispose() {}

func (s *Session) onTargetAttached(t *target.Target) {
	s.mu.Lock()
	if entry, ok := s.entriesByID[t.ID]; ok {
		entry.target = t
	}
	s.mu.Unlock()
}

func (s *Session) onTargetDetached(t *target.Target) {
	s.mu.Lock()
	entry, ok := s.entriesByID[t.ID]
	if ok {
		delete(s.entriesByID, t.ID)
		delete(s.entriesByDAP, entry.dapID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.sendEvent(&dap.ThreadEvent{
		Event: baseEvent(s.transport.NextSeq(), "thread"),
		Body:  dap.ThreadEventBody{Reason: "exited", ThreadId: entry.dapID},
	})
}

func (s *Session) onMainTargetGone() {
	s.teardown(context.Background(), "main target terminated")
}

// Shutdown tears the session down from outside the dispatch loop, used
// by the process's signal handler to clean up a launched runtime
// before exiting.
func (s *Session) Shutdown(ctx context.Context) {
	s.teardown(ctx, "process shutdown")
}

// teardown emits terminated/exited once and tears down the runtime
// process, per spec.md §7's fatal-error path.
func (s *Session) teardown(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	s.log.Infof("session: tearing down (%s)", reason)

	s.sendEvent(&dap.TerminatedEvent{Event: baseEvent(s.transport.NextSeq(), "terminated")})
	s.sendEvent(&dap.ExitedEvent{
		Event: baseEvent(s.transport.NextSeq(), "exited"),
		Body:  dap.ExitedEventBody{ExitCode: 0},
	})

	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.runtime != nil {
		_ = s.runtime.Close()
	}
	close(s.done)
}

func jsonArgs(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
