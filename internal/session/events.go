package session

import (
	"github.com/chromedp/cdproto/debugger"
	"github.com/chromedp/cdproto/runtime"
	"github.com/google/go-dap"

	"github.com/nodescope/jsdbg/internal/thread"
)

// stoppedReason maps a CDP pause to the DAP stopped-event reason per
// spec.md §4.4: a breakpoint hit wins over a plain debugCommand pause,
// an exception is reported distinctly, and a thread's very first pause
// under stopOnEntry is reported as "entry".
func stoppedReason(pe thread.PauseEvent, firstPause bool) string {
	switch {
	case len(pe.HitBreakpoints) > 0:
		return "breakpoint"
	case pe.Reason == "exception" || pe.Reason == "promiseRejection":
		return "exception"
	case firstPause && pe.Reason == "debugCommand":
		return "entry"
	case pe.Reason == "debugCommand":
		return "pause"
	default:
		return "step"
	}
}

func (s *Session) onThreadStopped(targetID string, pe thread.PauseEvent) {
	e, ok := s.entryByTargetID(targetID)
	if !ok {
		return
	}

	s.mu.Lock()
	first := e.firstPause
	e.firstPause = false
	s.mu.Unlock()

	reason := stoppedReason(pe, first)

	body := dap.StoppedEventBody{
		Reason:            reason,
		ThreadId:          e.dapID,
		AllThreadsStopped: false,
	}
	if reason == "breakpoint" && len(pe.HitBreakpoints) > 0 {
		body.HitBreakpointIds = hitBreakpointIDs(e, pe.HitBreakpoints)
	}
	if reason == "exception" {
		body.Text = pe.ExceptionText
	}

	s.sendEvent(&dap.StoppedEvent{
		Event: baseEvent(s.transport.NextSeq(), "stopped"),
		Body:  body,
	})
}

// hitBreakpointIDs resolves CDP breakpoint ids back to the DAP
// breakpoint ids the client knows.
func hitBreakpointIDs(e *threadEntry, cdpIDs []string) []int {
	out := make([]int, 0, len(cdpIDs))
	for _, id := range cdpIDs {
		if bp, ok := e.bp.ByRuntimeID(debugger.BreakpointID(id)); ok {
			out = append(out, bp.ID)
		}
	}
	return out
}

func (s *Session) onThreadContinued(targetID string) {
	e, ok := s.entryByTargetID(targetID)
	if !ok {
		return
	}
	s.sendEvent(&dap.ContinuedEvent{
		Event: baseEvent(s.transport.NextSeq(), "continued"),
		Body:  dap.ContinuedEventBody{ThreadId: e.dapID, AllThreadsContinued: false},
	})
}

func (s *Session) onExceptionThrown(targetID, text string) {
	s.sendEvent(&dap.OutputEvent{
		Event: baseEvent(s.transport.NextSeq(), "output"),
		Body:  dap.OutputEventBody{Category: "stderr", Output: text + "\n"},
	})
}

func (s *Session) onConsoleOutput(targetID, kind string, args []*runtime.RemoteObject) {
	category := "stdout"
	if kind == "error" || kind == "warning" {
		category = "stderr"
	}
	s.sendEvent(&dap.OutputEvent{
		Event: baseEvent(s.transport.NextSeq(), "output"),
		Body:  dap.OutputEventBody{Category: category, Output: consoleArgsText(args) + "\n"},
	})
}

func consoleArgsText(args []*runtime.RemoteObject) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += previewRemote(a)
	}
	return out
}

func (s *Session) entryByTargetID(targetID string) (*threadEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entriesByID[targetID]
	return e, ok
}
