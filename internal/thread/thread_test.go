package thread

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/logging"
	"github.com/nodescope/jsdbg/internal/pathresolver"
)

func newFakeBrowser(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]interface{}
			json.Unmarshal(data, &req)
			if req["id"] != nil {
				resp := map[string]interface{}{"id": req["id"], "result": map[string]interface{}{}}
				out, _ := json.Marshal(resp)
				ws.WriteMessage(websocket.TextMessage, out)
			}
		}
	}))
	ws := <-connCh
	return srv, ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, method string, params interface{}) {
	t.Helper()
	paramsJSON, _ := json.Marshal(params)
	evt := map[string]interface{}{"method": method, "params": json.RawMessage(paramsJSON)}
	data, _ := json.Marshal(evt)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func newTestThread(t *testing.T) (*Thread, *websocket.Conn, func()) {
	t.Helper()
	srv, serverSide := newFakeBrowser(t)

	log := logging.New("test")
	log.Silence(true)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := cdp.Dial(context.Background(), wsURL, log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	session := cdp.NewSession(conn, "", "")

	resolver, err := pathresolver.New(pathresolver.Options{WebRoot: "/project"})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	var mu sync.Mutex
	var stopped []PauseEvent
	th, err := New(context.Background(), session, Options{
		Log:      log,
		Resolver: resolver,
		OnStopped: func(pe PauseEvent) {
			mu.Lock()
			stopped = append(stopped, pe)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cleanup := func() {
		conn.Close()
		srv.Close()
	}
	_ = stopped
	return th, serverSide, cleanup
}

func TestThreadStartsRunning(t *testing.T) {
	th, _, cleanup := newTestThread(t)
	defer cleanup()
	if th.State() != Running {
		t.Fatalf("expected Running after New, got %s", th.State())
	}
}

func TestThreadPauseTransitionsState(t *testing.T) {
	th, serverSide, cleanup := newTestThread(t)
	defer cleanup()

	sendEvent(t, serverSide, "Debugger.paused", map[string]interface{}{
		"reason":     "other",
		"callFrames": []map[string]interface{}{},
	})

	deadline := time.After(2 * time.Second)
	for th.State() != Paused {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Paused state")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	if th.CurrentStack() == nil {
		t.Error("expected a StackTrace to be captured on pause")
	}

	sendEvent(t, serverSide, "Debugger.resumed", map[string]interface{}{})
	deadline = time.After(2 * time.Second)
	for th.State() != Running {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Running state")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// newRecordingFakeBrowser is newFakeBrowser plus a channel of every
// command method the client sends, so a test can assert a specific CDP
// call was (or wasn't) issued in response to an event.
func newRecordingFakeBrowser(t *testing.T) (*httptest.Server, *websocket.Conn, chan string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	calls := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]interface{}
			json.Unmarshal(data, &req)
			if method, ok := req["method"].(string); ok {
				calls <- method
			}
			if req["id"] != nil {
				resp := map[string]interface{}{"id": req["id"], "result": map[string]interface{}{}}
				out, _ := json.Marshal(resp)
				ws.WriteMessage(websocket.TextMessage, out)
			}
		}
	}))
	ws := <-connCh
	return srv, ws, calls
}

func drainUntil(t *testing.T, calls chan string, want string, timeout time.Duration) bool {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m := <-calls:
			if m == want {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func TestThreadArmsInstrumentationBreakpointOnNew(t *testing.T) {
	srv, serverSide, calls := newRecordingFakeBrowser(t)
	defer srv.Close()
	defer serverSide.Close()

	log := logging.New("test")
	log.Silence(true)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := cdp.Dial(context.Background(), wsURL, log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	session := cdp.NewSession(conn, "", "")

	if _, err := New(context.Background(), session, Options{Log: log}); err != nil {
		t.Fatalf("New: %v", err)
	}

	if !drainUntil(t, calls, "Debugger.setInstrumentationBreakpoint", 2*time.Second) {
		t.Fatal("expected New to arm a Debugger.setInstrumentationBreakpoint")
	}
}

// TestThreadInstrumentationPauseReconcilesAndResumesWithoutStopping covers
// the runtime-side pause the review required: a "beforeScriptWithSourceMapExecution"
// pause must not surface as a DAP stopped event, and must be resumed
// once breakpoint reconciliation for the triggering script is done.
func TestThreadInstrumentationPauseReconcilesAndResumesWithoutStopping(t *testing.T) {
	srv, serverSide, calls := newRecordingFakeBrowser(t)
	defer srv.Close()
	defer serverSide.Close()

	log := logging.New("test")
	log.Silence(true)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := cdp.Dial(context.Background(), wsURL, log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	session := cdp.NewSession(conn, "", "")

	resolver, err := pathresolver.New(pathresolver.Options{WebRoot: "/project"})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	var mu sync.Mutex
	var stopped []PauseEvent
	th, err := New(context.Background(), session, Options{
		Log:      log,
		Resolver: resolver,
		OnStopped: func(pe PauseEvent) {
			mu.Lock()
			stopped = append(stopped, pe)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Drain the setup-time setInstrumentationBreakpoint call so it isn't
	// mistaken for the post-pause Resume below.
	drainUntil(t, calls, "Debugger.setInstrumentationBreakpoint", 2*time.Second)

	sendEvent(t, serverSide, "Debugger.paused", map[string]interface{}{
		"reason":     "instrumentation",
		"data":       map[string]interface{}{"scriptId": "script1"},
		"callFrames": []map[string]interface{}{},
	})

	if !drainUntil(t, calls, "Debugger.resume", 2*time.Second) {
		t.Fatal("expected an instrumentation pause to be resumed")
	}

	if th.State() == Paused {
		t.Error("instrumentation pause must not leave the thread Paused")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(stopped) != 0 {
		t.Errorf("instrumentation pause must not surface a DAP stopped event, got %+v", stopped)
	}
}

func TestThreadDisposeSetsState(t *testing.T) {
	th, _, cleanup := newTestThread(t)
	defer cleanup()
	th.Dispose()
	if th.State() != Disposed {
		t.Fatalf("expected Disposed, got %s", th.State())
	}
}
