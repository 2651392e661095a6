package pathresolver

import (
	"path/filepath"
	"testing"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(Options{
		WebRoot: "/project/src",
		BaseURL: "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestAbsolutePathToURL(t *testing.T) {
	r := newTestResolver(t)

	got := r.AbsolutePathToURL(filepath.Join("/project/src", "app.js"))
	want := "http://localhost:8080/app.js"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAbsolutePathToURLOutsideWebRoot(t *testing.T) {
	r := newTestResolver(t)
	got := r.AbsolutePathToURL("/etc/hosts")
	if got != "file:///etc/hosts" {
		t.Errorf("got %q, want file:///etc/hosts", got)
	}
}

func TestUrlToAbsolutePathWebpackRules(t *testing.T) {
	r := newTestResolver(t)

	cases := []struct {
		url  string
		want string
	}{
		{"webpack:///./~/lodash/index.js", filepath.Join("/project/src", "node_modules", "lodash/index.js")},
		{"webpack:///./app.js", filepath.Join("/project/src", "app.js")},
		{"webpack:///src/index.js", filepath.Join("/project/src", "index.js")},
		{"webpack:///foo/bar.js", filepath.FromSlash("/foo/bar.js")},
	}
	for _, c := range cases {
		got := r.UrlToAbsolutePath(c.url)
		if got != c.want {
			t.Errorf("UrlToAbsolutePath(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestUrlToAbsolutePathIndex(t *testing.T) {
	r := newTestResolver(t)
	got := r.UrlToAbsolutePath("")
	want := r.UrlToAbsolutePath("index.html")
	if got != want {
		t.Errorf("empty url should resolve like index.html: got %q want %q", got, want)
	}
}

func TestUrlToAbsolutePathFileScheme(t *testing.T) {
	r := newTestResolver(t)
	got := r.UrlToAbsolutePath("file:///tmp/x.js")
	if got != filepath.FromSlash("/tmp/x.js") {
		t.Errorf("got %q", got)
	}
}

func TestShouldCheckContentHash(t *testing.T) {
	local := newTestResolver(t)
	if local.ShouldCheckContentHash() {
		t.Error("local resolver should not require a content hash check")
	}

	remote, err := New(Options{WebRoot: "/project/src", BaseURL: "http://localhost:8080", Remote: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !remote.ShouldCheckContentHash() {
		t.Error("remote resolver should require a content hash check")
	}
}

func TestApplySourceMapPathOverrides(t *testing.T) {
	r, err := New(Options{
		WebRoot: "/project/src",
		BaseURL: "http://localhost:8080",
		SourceMapPathOverrides: map[string]string{
			"webpack:///./*": "${webRoot}/*",
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := r.ApplySourceMapPathOverrides("webpack:///./app.ts")
	want := filepath.Join("/project/src", "app.ts")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
