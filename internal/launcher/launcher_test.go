package launcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func TestFindAvailablePortReturnsUnusedPort(t *testing.T) {
	port, err := findAvailablePort()
	if err != nil {
		t.Fatalf("findAvailablePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("unexpected port %d", port)
	}
}

func TestResolveWebSocketURLFromVersionEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(versionResponse{WebSocketDebuggerURL: "ws://127.0.0.1:1/devtools/browser/abc"})
	}))
	defer srv.Close()

	host, portStr := splitHostPort(t, srv.URL)
	port, _ := strconv.Atoi(portStr)

	url, err := resolveWebSocketURL(context.Background(), host, port)
	if err != nil {
		t.Fatalf("resolveWebSocketURL: %v", err)
	}
	if url != "ws://127.0.0.1:1/devtools/browser/abc" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestResolveWebSocketURLFallsBackToJSONList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/version":
			http.Error(w, "not found", http.StatusNotFound)
		case "/json/list":
			json.NewEncoder(w).Encode([]versionResponse{{WebSocketDebuggerURL: "ws://127.0.0.1:1/abc"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	host, portStr := splitHostPort(t, srv.URL)
	port, _ := strconv.Atoi(portStr)

	url, err := resolveWebSocketURL(context.Background(), host, port)
	if err != nil {
		t.Fatalf("resolveWebSocketURL: %v", err)
	}
	if url != "ws://127.0.0.1:1/abc" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestDefaultBrowserExecutableErrorsWhenNoneFound(t *testing.T) {
	_, err := defaultBrowserExecutable("does-not-exist-target")
	if err == nil {
		t.Fatal("expected an error for an unrecognized target")
	}
}

func splitHostPort(t *testing.T, rawURL string) (string, string) {
	t.Helper()
	rest := strings.TrimPrefix(rawURL, "http://")
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		t.Fatalf("no port in %q", rawURL)
	}
	return rest[:idx], rest[idx+1:]
}
