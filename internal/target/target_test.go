package target

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"

	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/logging"
)

type fakeThread struct {
	mu       sync.Mutex
	disposed bool
}

func (f *fakeThread) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
}

func (f *fakeThread) isDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

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

func sendEvent(t *testing.T, ws *websocket.Conn, sessionID, method string, params interface{}) {
	t.Helper()
	paramsJSON, _ := json.Marshal(params)
	evt := map[string]interface{}{"method": method, "params": json.RawMessage(paramsJSON)}
	if sessionID != "" {
		evt["sessionId"] = sessionID
	}
	data, _ := json.Marshal(evt)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func TestAttachBuildsTreeAndMainTarget(t *testing.T) {
	srv, serverSide := newFakeBrowser(t)
	defer srv.Close()

	log := logging.New("test")
	log.Silence(true)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := cdp.Dial(context.Background(), wsURL, log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	threads := make(map[string]*fakeThread)
	var mu sync.Mutex
	mgr := NewManager(conn, log, Options{
		ThreadFactory: func(ctx context.Context, session *cdp.Session, info target.Info) Thread {
			th := &fakeThread{}
			mu.Lock()
			threads[string(info.TargetID)] = th
			mu.Unlock()
			return th
		},
	})

	sendEvent(t, serverSide, "", "Target.attachedToTarget", target.EventAttachedToTarget{
		SessionID: "sessA",
		TargetInfo: &target.Info{
			TargetID: "page1",
			Type:     "page",
		},
	})
	time.Sleep(50 * time.Millisecond)

	sendEvent(t, serverSide, "sessA", "Target.attachedToTarget", target.EventAttachedToTarget{
		SessionID: "sessB",
		TargetInfo: &target.Info{
			TargetID: "worker1",
			Type:     "worker",
		},
	})
	time.Sleep(50 * time.Millisecond)

	if mgr.MainTargetID() != "page1" {
		t.Fatalf("expected page1 to be the main target, got %q", mgr.MainTargetID())
	}

	page, ok := mgr.ByID("page1")
	if !ok {
		t.Fatal("expected page1 to be registered")
	}
	if len(page.Children()) != 1 || page.Children()[0].ID != "worker1" {
		t.Fatalf("expected worker1 as page1's child, got %+v", page.Children())
	}

	var mainGone bool
	mgr.onMainGone = func() { mainGone = true }

	sendEvent(t, serverSide, "", "Target.detachedFromTarget", target.EventDetachedFromTarget{TargetID: "page1"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	workerThread := threads["worker1"]
	pageThread := threads["page1"]
	mu.Unlock()
	if workerThread == nil || !workerThread.isDisposed() {
		t.Error("expected child worker's thread to be disposed before the parent")
	}
	if pageThread == nil || !pageThread.isDisposed() {
		t.Error("expected main target's thread to be disposed")
	}
	if !mainGone {
		t.Error("expected onMainGone to fire when the main target detaches")
	}
	if _, ok := mgr.ByID("page1"); ok {
		t.Error("expected page1 to be removed from the target table after detach")
	}
}
