package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoad_Defaults_NoConfigFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(Overrides{Dir: dir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CleanURLs {
		t.Error("CleanURLs should default to false")
	}
	if cfg.TrailingSlash != TrailingSlashPreserve {
		t.Errorf("TrailingSlash = %q, want preserve", cfg.TrailingSlash)
	}
	if !cfg.ETag {
		t.Error("ETag should default to true")
	}
	if cfg.MaxUploadBytes != defaultMaxUploadBytes {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, defaultMaxUploadBytes)
	}
}

func TestLoad_ServeJSON_SoleSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "serve.json", `{
		"cleanUrls": true,
		"trailingSlash": "strip",
		"rewrites": [{"source": "/api/(.*)", "destination": "/api.html"}],
		"redirects": [{"source": "/old", "destination": "/new", "type": 302}],
		"headers": [{"source": "/assets/**", "headers": {"Cache-Control": "no-cache"}}]
	}`)
	// a package.json#static is also present, but serve.json must win
	// outright — sources never merge (spec.md §4.1).
	writeFile(t, dir, "package.json", `{"static": {"cleanUrls": false}}`)

	cfg, err := Load(Overrides{Dir: dir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.CleanURLs {
		t.Error("serve.json should win over package.json#static")
	}
	if cfg.TrailingSlash != TrailingSlashStrip {
		t.Errorf("TrailingSlash = %q, want strip", cfg.TrailingSlash)
	}
	if len(cfg.Rewrites) != 1 || cfg.Rewrites[0].Destination != "/api.html" {
		t.Errorf("Rewrites = %+v", cfg.Rewrites)
	}
	if len(cfg.Redirects) != 1 || cfg.Redirects[0].Status != 302 {
		t.Errorf("Redirects = %+v", cfg.Redirects)
	}
	if len(cfg.HeaderRules) != 1 {
		t.Errorf("HeaderRules = %+v", cfg.HeaderRules)
	}
}

func TestLoad_NowJSON_Wrapper(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "now.json", `{"static": {"cleanUrls": true}}`)

	cfg, err := Load(Overrides{Dir: dir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.CleanURLs {
		t.Error("expected cleanUrls from now.json's .static wrapper")
	}
}

func TestLoad_PackageJSON_StaticKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"name": "app", "static": {"directoryListing": true}}`)

	cfg, err := Load(Overrides{Dir: dir})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DirListing {
		t.Error("expected directoryListing from package.json#static")
	}
}

func TestLoad_InvalidRedirectStatus_Rejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "serve.json", `{"redirects": [{"source": "/a", "destination": "/b", "type": 418}]}`)

	if _, err := Load(Overrides{Dir: dir}); err == nil {
		t.Fatal("expected error for invalid redirect status 418")
	}
}

func TestLoad_Overrides_WinOverFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "serve.json", `{"renderSingle": false}`)

	cfg, err := Load(Overrides{Dir: dir, SingleSet: true, Single: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.EffectiveSingle() {
		t.Error("--single override should win over renderSingle:false")
	}
}

func TestLoad_PublicRootMustExist(t *testing.T) {
	if _, err := Load(Overrides{Dir: "/nonexistent/path/for/test"}); err == nil {
		t.Fatal("expected error for missing public root")
	}
}
