package variables

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/gorilla/websocket"

	"github.com/nodescope/jsdbg/internal/cdp"
	"github.com/nodescope/jsdbg/internal/logging"
)

func TestIsArrayIndex(t *testing.T) {
	cases := map[string]bool{"0": true, "42": true, "": false, "a": false, "-1": false}
	for in, want := range cases {
		if got := isArrayIndex(in); got != want {
			t.Errorf("isArrayIndex(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestQuoteJS(t *testing.T) {
	got := quoteJS(`say "hi"`)
	want := `"say \"hi\""`
	if got != want {
		t.Errorf("quoteJS = %q, want %q", got, want)
	}
}

func newTestSession(t *testing.T, respond func(req map[string]interface{}) (interface{}, bool)) (*cdp.Session, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]interface{}
			json.Unmarshal(data, &req)
			result, ok := respond(req)
			if !ok {
				continue
			}
			resp := map[string]interface{}{"id": req["id"]}
			if req["sessionId"] != nil {
				resp["sessionId"] = req["sessionId"]
			}
			resp["result"] = result
			out, _ := json.Marshal(resp)
			ws.WriteMessage(websocket.TextMessage, out)
		}
	}))

	log := logging.New("test")
	log.Silence(true)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := cdp.Dial(context.Background(), wsURL, log)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	session := cdp.NewSession(conn, "", "")
	return session, func() {
		conn.Close()
		srv.Close()
	}
}

func TestObjectVariablesGroupsNamedAndIndexed(t *testing.T) {
	session, cleanup := newTestSession(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] != "Runtime.getProperties" {
			return nil, false
		}
		return map[string]interface{}{
			"result": []map[string]interface{}{
				{"name": "length", "value": map[string]interface{}{"type": "number", "value": 2}},
				{"name": "0", "value": map[string]interface{}{"type": "string", "value": "a"}},
				{"name": "1", "value": map[string]interface{}{"type": "string", "value": "b"}},
			},
		}, true
	})
	defer cleanup()

	store := NewStore()
	ref := store.CreateForObject(&runtime.RemoteObject{ObjectID: "obj1", Type: "object"}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vars, err := store.GetVariables(ctx, session, ref)
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	if len(vars) != 3 {
		t.Fatalf("expected 3 variables, got %d: %+v", len(vars), vars)
	}
	if vars[0].Name != "length" {
		t.Errorf("expected named property first, got %q", vars[0].Name)
	}
}

func TestObjectVariablesIntervalizesLargeArrays(t *testing.T) {
	session, cleanup := newTestSession(t, func(req map[string]interface{}) (interface{}, bool) {
		if req["method"] != "Runtime.getProperties" {
			return nil, false
		}
		var props []map[string]interface{}
		for i := 0; i < 150; i++ {
			props = append(props, map[string]interface{}{
				"name":  intToStr(i),
				"value": map[string]interface{}{"type": "number", "value": i},
			})
		}
		return map[string]interface{}{"result": props}, true
	})
	defer cleanup()

	store := NewStore()
	ref := store.CreateForObject(&runtime.RemoteObject{ObjectID: "arr1", Type: "object", Subtype: "array"}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vars, err := store.GetVariables(ctx, session, ref)
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	if len(vars) != 2 {
		t.Fatalf("expected 2 interval buckets for 150 elements, got %d: %+v", len(vars), vars)
	}
	if vars[0].VariablesReference == 0 {
		t.Error("expected interval bucket to carry a variablesReference")
	}
}

func intToStr(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
