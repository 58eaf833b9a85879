// Package config locates, parses, and validates the serve-compatible
// configuration file (serve.json / now.json / package.json#static), then
// compiles its rewrite, redirect, and header rules into the immutable
// Config handed to the request pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"servelocal/internal/rules"
)

// TrailingSlashMode is the tri-state trailing-slash policy (spec.md §3).
type TrailingSlashMode string

const (
	TrailingSlashPreserve TrailingSlashMode = "preserve"
	TrailingSlashForce    TrailingSlashMode = "force"
	TrailingSlashStrip    TrailingSlashMode = "strip"
)

// Config is the fully-resolved, immutable configuration the request
// pipeline consumes. It is built once in main and shared by reference —
// never mutated after Load returns (spec.md Invariant 3).
type Config struct {
	PublicRoot     string
	CleanURLs      bool
	TrailingSlash  TrailingSlashMode
	RenderSingle   bool
	Single         bool // --single CLI override; wins over RenderSingle (see DESIGN.md open question)
	Symlinks       bool
	ETag           bool
	DirListing     bool
	Compress       bool
	CORS           bool
	Unlisted       []string
	Rewrites       []rules.Rewrite
	Redirects      []rules.Redirect
	HeaderRules    []rules.HeaderRule
	MaxUploadBytes int64
}

// rawConfig mirrors the on-disk JSON schema (serve.json and friends)
// before compilation. Every field is a pointer or has an explicit zero
// value so "unset" is distinguishable from "set to false/empty" —
// mirrors tspages/internal/storage/siteconfig.go's *bool convention.
type rawConfig struct {
	Public        string              `json:"public"`
	CleanURLs     *bool               `json:"cleanUrls"`
	TrailingSlash *string             `json:"trailingSlash"`
	RenderSingle  *bool               `json:"renderSingle"`
	Symlinks      *bool               `json:"symlinks"`
	ETag          *bool               `json:"etag"`
	Directory     *bool               `json:"directoryListing"`
	Compress      *bool               `json:"compress"`
	Unlisted      []string            `json:"unlisted"`
	Rewrites      []rawRewrite        `json:"rewrites"`
	Redirects     []rawRedirect       `json:"redirects"`
	Headers       []rawHeaderEntry    `json:"headers"`
	CORS          *bool               `json:"cors"`
	MaxUploadMB   *int                `json:"maxUploadMB"`
}

type rawRewrite struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

type rawRedirect struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Type        int    `json:"type"`
}

type rawHeaderEntry struct {
	Source  string            `json:"source"`
	Headers map[string]string `json:"headers"`
}

// Overrides holds CLI-flag values that take priority over the config
// file, following tspages/config/config.go's flag/env-over-file/default
// precedence pattern (there: str/intDefault/boolDefault; here: each field
// is only applied when its Set flag is true, since pflag has no implicit
// notion of "unset" for bools/ints the way empty-string did for tspages'
// string flags).
type Overrides struct {
	Dir              string
	DirSet           bool
	ConfigPath       string
	Single           bool
	SingleSet        bool
	CORS             bool
	CORSSet          bool
	NoCompression    bool
	NoCompressionSet bool
	Symlinks         bool
	SymlinksSet      bool
	NoETag           bool
	NoETagSet        bool
	MaxUploadBytes   int64
	MaxUploadSet     bool
}

const defaultMaxUploadBytes = 32 << 20

// defaults returns the built-in Config used when no config file is found.
func defaults(publicRoot string) Config {
	return Config{
		PublicRoot:     publicRoot,
		CleanURLs:      false,
		TrailingSlash:  TrailingSlashPreserve,
		Symlinks:       false,
		ETag:           true,
		DirListing:     false,
		Compress:       true,
		MaxUploadBytes: defaultMaxUploadBytes,
	}
}

// Load resolves the sole configuration source (explicit path, then
// serve.json, now.json, package.json#static, then built-in defaults —
// spec.md §4.1), parses and validates it, compiles its rule sets, and
// applies CLI overrides. It never merges two files.
func Load(o Overrides) (Config, error) {
	publicRoot, err := filepath.Abs(o.Dir)
	if err != nil {
		return Config{}, fmt.Errorf("resolving --dir: %w", err)
	}
	info, err := os.Stat(publicRoot)
	if err != nil {
		return Config{}, fmt.Errorf("public root: %w", err)
	}
	if !info.IsDir() {
		return Config{}, fmt.Errorf("public root %q is not a directory", publicRoot)
	}

	raw, sourcePath, err := resolveSource(publicRoot, o.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg := defaults(publicRoot)
	if raw != nil {
		if err := raw.validate(); err != nil {
			return Config{}, fmt.Errorf("%s: %w", sourcePath, err)
		}
		if err := raw.applyTo(&cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", sourcePath, err)
		}
	}

	applyOverrides(&cfg, o)

	return cfg, nil
}

// resolveSource implements the first-file-wins discovery order. Returns a
// nil rawConfig (not an error) when nothing is found, so built-in
// defaults apply.
func resolveSource(publicRoot, explicit string) (*rawConfig, string, error) {
	if explicit != "" {
		raw, err := parseFile(explicit, false)
		if err != nil {
			return nil, explicit, err
		}
		return raw, explicit, nil
	}

	candidate := filepath.Join(publicRoot, "serve.json")
	if exists(candidate) {
		raw, err := parseFile(candidate, false)
		return raw, candidate, err
	}

	candidate = filepath.Join(publicRoot, "now.json")
	if exists(candidate) {
		raw, err := parseFile(candidate, true)
		return raw, candidate, err
	}

	candidate = filepath.Join(publicRoot, "package.json")
	if exists(candidate) {
		raw, err := parsePackageJSON(candidate)
		return raw, candidate, err
	}

	return nil, "", nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// parseFile parses serve.json directly, or now.json by reading its
// ".now.static" wrapper key (spec.md §4.1); a now.json with no
// ".now.static" falls back to a top-level ".static" key.
func parseFile(path string, nowWrapped bool) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if !nowWrapped {
		var raw rawConfig
		if err := strictUnmarshal(path, data, &raw); err != nil {
			return nil, err
		}
		return &raw, nil
	}

	var wrapper struct {
		Now struct {
			Static json.RawMessage `json:"static"`
		} `json:"now"`
		Static json.RawMessage `json:"static"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	static := wrapper.Now.Static
	if len(static) == 0 {
		static = wrapper.Static
	}
	if len(static) == 0 {
		return &rawConfig{}, nil
	}
	var raw rawConfig
	if err := strictUnmarshal(path, static, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// parsePackageJSON reads the ".static" key of package.json.
func parsePackageJSON(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var wrapper struct {
		Static json.RawMessage `json:"static"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(wrapper.Static) == 0 {
		return &rawConfig{}, nil
	}
	var raw rawConfig
	if err := strictUnmarshal(path, wrapper.Static, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// strictUnmarshal parses data into raw and warns (not fails) about
// unrecognized top-level keys, matching tspages/config/config.go's
// md.Undecoded() warning — encoding/json has no public equivalent API, so
// the "known keys" set is built by hand from rawConfig's json tags.
func strictUnmarshal(path string, data []byte, raw *rawConfig) error {
	if err := json.Unmarshal(data, raw); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		// Not a JSON object at the root — json.Unmarshal above would
		// already have failed for rawConfig, so this is unreachable in
		// practice, but fail closed rather than panic.
		return fmt.Errorf("parsing %s: root must be a JSON object", path)
	}

	var unknown []string
	for key := range generic {
		if !knownConfigKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		slog.Warn("unknown keys in config file (check for typos)", "path", path, "keys", strings.Join(unknown, ", "))
	}
	return nil
}

var knownConfigKeys = map[string]bool{
	"public": true, "cleanUrls": true, "trailingSlash": true, "renderSingle": true,
	"symlinks": true, "etag": true, "directoryListing": true, "compress": true,
	"unlisted": true, "rewrites": true, "redirects": true, "headers": true,
	"cors": true, "maxUploadMB": true,
}
