package serve

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"servelocal/internal/config"
	"servelocal/internal/rules"
)

func setupRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func baseConfig(root string) config.Config {
	return config.Config{
		PublicRoot:    root,
		TrailingSlash: config.TrailingSlashPreserve,
		ETag:          true,
		Compress:      true,
	}
}

func TestHandler_PathTraversal_Blocked(t *testing.T) {
	root := setupRoot(t, map[string]string{"index.html": "<html>hi</html>"})
	h := NewHandler(baseConfig(root))

	req := httptest.NewRequest(http.MethodGet, "/../../../etc/passwd", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandler_ServesIndexAtRoot(t *testing.T) {
	root := setupRoot(t, map[string]string{"index.html": "hello"})
	h := NewHandler(baseConfig(root))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "hello" {
		t.Fatalf("got (%d, %q), want (200, hello)", rec.Code, rec.Body.String())
	}
}

func TestHandler_CleanURLs_StripsHTMLExtensionAndRedirects(t *testing.T) {
	root := setupRoot(t, map[string]string{"about.html": "about page"})
	cfg := baseConfig(root)
	cfg.CleanURLs = true
	h := NewHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/about.html", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/about" {
		t.Fatalf("got (%d, %q), want (301, /about)", rec.Code, rec.Header().Get("Location"))
	}
}

func TestHandler_CleanURLs_NoRedirectWhenStrippedFormMissing(t *testing.T) {
	root := setupRoot(t, map[string]string{})
	cfg := baseConfig(root)
	cfg.CleanURLs = true
	h := NewHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/ghost.html", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (no 301 into a dangling redirect)", rec.Code)
	}
}

func TestHandler_ControlByteInPath_Returns400(t *testing.T) {
	root := setupRoot(t, map[string]string{"index.html": "home"})
	h := NewHandler(baseConfig(root))

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.URL.Path = "/foo\x00bar"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_RepeatedSlashes_Collapsed(t *testing.T) {
	root := setupRoot(t, map[string]string{"a/b.html": "nested"})
	h := NewHandler(baseConfig(root))

	req := httptest.NewRequest(http.MethodGet, "/a//b.html", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "nested" {
		t.Fatalf("got (%d, %q), want (200, nested)", rec.Code, rec.Body.String())
	}
}

func TestHandler_CleanURLs_ServesExtensionlessPath(t *testing.T) {
	root := setupRoot(t, map[string]string{"about.html": "about page"})
	cfg := baseConfig(root)
	cfg.CleanURLs = true
	h := NewHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "about page" {
		t.Fatalf("got (%d, %q), want (200, about page)", rec.Code, rec.Body.String())
	}
}

func TestHandler_TrailingSlash_Force(t *testing.T) {
	root := setupRoot(t, map[string]string{"blog/index.html": "blog"})
	cfg := baseConfig(root)
	cfg.TrailingSlash = config.TrailingSlashForce
	h := NewHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/blog", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/blog/" {
		t.Fatalf("got (%d, %q), want (301, /blog/)", rec.Code, rec.Header().Get("Location"))
	}
}

func TestHandler_DirectoryListing(t *testing.T) {
	root := setupRoot(t, map[string]string{"files/a.txt": "a", "files/b.txt": "b"})
	cfg := baseConfig(root)
	cfg.DirListing = true
	h := NewHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/files/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "a.txt") || !strings.Contains(body, "b.txt") {
		t.Errorf("listing body missing entries: %s", body)
	}
}

func TestHandler_SingleFallback_ServesIndexForUnknownPath(t *testing.T) {
	root := setupRoot(t, map[string]string{"index.html": "app shell"})
	cfg := baseConfig(root)
	cfg.Single = true
	h := NewHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/some/client/route", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "app shell" {
		t.Fatalf("got (%d, %q), want (200, app shell)", rec.Code, rec.Body.String())
	}
}

func TestHandler_404_CustomPage(t *testing.T) {
	root := setupRoot(t, map[string]string{"404.html": "nope"})
	h := NewHandler(baseConfig(root))

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound || rec.Body.String() != "nope" {
		t.Fatalf("got (%d, %q), want (404, nope)", rec.Code, rec.Body.String())
	}
}

func TestHandler_ETag_SetWhenEnabled(t *testing.T) {
	root := setupRoot(t, map[string]string{"file.txt": "content"})
	h := NewHandler(baseConfig(root))

	req := httptest.NewRequest(http.MethodGet, "/file.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("ETag") == "" {
		t.Fatal("expected ETag header to be set")
	}
}

func TestHandler_HeaderRules_Applied(t *testing.T) {
	root := setupRoot(t, map[string]string{"assets/app.js": "console.log(1)"})
	cfg := baseConfig(root)
	compiled, err := rules.Compile("/assets/**")
	if err != nil {
		t.Fatal(err)
	}
	cfg.HeaderRules = []rules.HeaderRule{
		{Source: compiled, Headers: []rules.HeaderPair{{Key: "X-Custom", Value: "yes"}}},
	}
	h := NewHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("X-Custom") != "yes" {
		t.Fatalf("X-Custom header = %q, want yes", rec.Header().Get("X-Custom"))
	}
}

func TestHandler_Redirect_Applied(t *testing.T) {
	root := setupRoot(t, map[string]string{"index.html": "home"})
	cfg := baseConfig(root)
	compiled, err := rules.Compile("/old")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Redirects = []rules.Redirect{{Source: compiled, Destination: "/new", Status: 302}}
	h := NewHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/old", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/new" {
		t.Fatalf("got (%d, %q), want (302, /new)", rec.Code, rec.Header().Get("Location"))
	}
}
