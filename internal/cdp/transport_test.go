package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodescope/jsdbg/internal/logging"
)

// fakeBrowser is a minimal CDP-speaking WebSocket server: it echoes back
// a canned result for every command it receives, keyed by method, and
// can be told to emit an event asynchronously.
func fakeBrowser(t *testing.T, handle func(conn *websocket.Conn, req message)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var req message
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			handle(ws, req)
		}
	}))
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCallRoundTrip(t *testing.T) {
	srv := fakeBrowser(t, func(ws *websocket.Conn, req message) {
		resp := message{ID: req.ID, SessionID: req.SessionID, Result: json.RawMessage(`{"ok":true}`)}
		data, _ := json.Marshal(resp)
		ws.WriteMessage(websocket.TextMessage, data)
	})
	defer srv.Close()

	log := logging.New("test")
	log.Silence(true)
	conn, err := Dial(context.Background(), wsURL(srv), log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Call(ctx, "", "Target.getTargets", nil, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !out.OK {
		t.Error("expected decoded result ok=true")
	}
}

func TestCallPropagatesProtocolError(t *testing.T) {
	srv := fakeBrowser(t, func(ws *websocket.Conn, req message) {
		resp := message{ID: req.ID, Error: &protocolError{Code: -32000, Message: "boom"}}
		data, _ := json.Marshal(resp)
		ws.WriteMessage(websocket.TextMessage, data)
	})
	defer srv.Close()

	log := logging.New("test")
	log.Silence(true)
	conn, err := Dial(context.Background(), wsURL(srv), log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = conn.Call(ctx, "", "Debugger.pause", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected protocol error containing %q, got %v", "boom", err)
	}
}

func TestCallContextCancellation(t *testing.T) {
	// Server never responds, so Call must return once ctx is done.
	srv := fakeBrowser(t, func(ws *websocket.Conn, req message) {})
	defer srv.Close()

	log := logging.New("test")
	log.Silence(true)
	conn, err := Dial(context.Background(), wsURL(srv), log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = conn.Call(ctx, "", "Debugger.pause", nil, nil)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestSessionSubscribeFiltersBySessionID(t *testing.T) {
	srv := fakeBrowser(t, func(ws *websocket.Conn, req message) {
		if req.Method != "fire" {
			return
		}
		for _, sid := range []string{"A", "B"} {
			evt := message{SessionID: sid, Method: "Debugger.paused", Params: json.RawMessage(`{"sid":"` + sid + `"}`)}
			data, _ := json.Marshal(evt)
			ws.WriteMessage(websocket.TextMessage, data)
		}
	})
	defer srv.Close()

	log := logging.New("test")
	log.Silence(true)
	conn, err := Dial(context.Background(), wsURL(srv), log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	sessionA := NewSession(conn, "A", "targetA")
	received := make(chan string, 2)
	sessionA.Subscribe("Debugger.paused", func(params json.RawMessage) {
		var p struct {
			SID string `json:"sid"`
		}
		json.Unmarshal(params, &p)
		received <- p.SID
	})

	// Trigger the fake browser's event burst directly; method "fire" is
	// handled specially by the fake server above and never gets a reply,
	// so write the frame straight to the socket instead of using Call.
	raw, err := json.Marshal(message{Method: "fire"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	conn.writeMu.Lock()
	err = conn.ws.WriteMessage(websocket.TextMessage, raw)
	conn.writeMu.Unlock()
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case sid := <-received:
		if sid != "A" {
			t.Fatalf("expected event for session A, got %s", sid)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session A event")
	}

	select {
	case sid := <-received:
		t.Fatalf("expected only one event delivered to session A subscriber, got extra %s", sid)
	case <-time.After(100 * time.Millisecond):
	}
}
