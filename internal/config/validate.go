package config

import (
	"fmt"

	"servelocal/internal/rules"
)

// validate checks a parsed rawConfig for schema-level mistakes that
// should abort startup before any rule is compiled — mirrors
// tspages/internal/storage/siteconfig.go's Validate(), generalized from
// a single-struct check to per-rule-set validation.
func (r *rawConfig) validate() error {
	for _, rd := range r.Redirects {
		if rd.Type != 0 && !rules.ValidRedirectStatus(rd.Type) {
			return fmt.Errorf("redirect %q: invalid status %d (must be 301, 302, 307, or 308)", rd.Source, rd.Type)
		}
		if rd.Source == "" {
			return fmt.Errorf("redirect entry missing \"source\"")
		}
		if rd.Destination == "" {
			return fmt.Errorf("redirect %q missing \"destination\"", rd.Source)
		}
	}
	for _, rw := range r.Rewrites {
		if rw.Source == "" {
			return fmt.Errorf("rewrite entry missing \"source\"")
		}
		if rw.Destination == "" {
			return fmt.Errorf("rewrite %q missing \"destination\"", rw.Source)
		}
	}
	for _, h := range r.Headers {
		if h.Source == "" {
			return fmt.Errorf("headers entry missing \"source\"")
		}
		if len(h.Headers) == 0 {
			return fmt.Errorf("headers %q has no header values", h.Source)
		}
	}
	if r.TrailingSlash != nil {
		switch TrailingSlashMode(*r.TrailingSlash) {
		case TrailingSlashPreserve, TrailingSlashForce, TrailingSlashStrip:
		default:
			return fmt.Errorf("trailingSlash %q is not one of preserve, force, strip", *r.TrailingSlash)
		}
	}
	if r.MaxUploadMB != nil && *r.MaxUploadMB <= 0 {
		return fmt.Errorf("maxUploadMB must be positive, got %d", *r.MaxUploadMB)
	}
	return nil
}

// applyTo compiles r's rule sets and layers its scalar fields onto cfg.
// Every pattern-compile failure is fatal and names the offending source
// string, matching tspages' config validation texture.
func (r *rawConfig) applyTo(cfg *Config) error {
	if r.CleanURLs != nil {
		cfg.CleanURLs = *r.CleanURLs
	}
	if r.TrailingSlash != nil {
		cfg.TrailingSlash = TrailingSlashMode(*r.TrailingSlash)
	}
	if r.RenderSingle != nil {
		cfg.RenderSingle = *r.RenderSingle
	}
	if r.Symlinks != nil {
		cfg.Symlinks = *r.Symlinks
	}
	if r.ETag != nil {
		cfg.ETag = *r.ETag
	}
	if r.Directory != nil {
		cfg.DirListing = *r.Directory
	}
	if r.Compress != nil {
		cfg.Compress = *r.Compress
	}
	if r.CORS != nil {
		cfg.CORS = *r.CORS
	}
	if r.MaxUploadMB != nil {
		cfg.MaxUploadBytes = int64(*r.MaxUploadMB) << 20
	}
	if r.Unlisted != nil {
		cfg.Unlisted = r.Unlisted
	}

	for _, rw := range r.Rewrites {
		compiled, err := rules.Compile(rw.Source)
		if err != nil {
			return fmt.Errorf("rewrite %q: %w", rw.Source, err)
		}
		cfg.Rewrites = append(cfg.Rewrites, rules.Rewrite{Source: compiled, Destination: rw.Destination})
	}

	for _, rd := range r.Redirects {
		compiled, err := rules.Compile(rd.Source)
		if err != nil {
			return fmt.Errorf("redirect %q: %w", rd.Source, err)
		}
		status := rd.Type
		if status == 0 {
			status = int(rules.StatusMovedPermanently)
		}
		cfg.Redirects = append(cfg.Redirects, rules.Redirect{Source: compiled, Destination: rd.Destination, Status: status})
	}

	for _, h := range r.Headers {
		compiled, err := rules.Compile(h.Source)
		if err != nil {
			return fmt.Errorf("headers %q: %w", h.Source, err)
		}
		pairs := make([]rules.HeaderPair, 0, len(h.Headers))
		for k, v := range h.Headers {
			pairs = append(pairs, rules.HeaderPair{Key: k, Value: v})
		}
		cfg.HeaderRules = append(cfg.HeaderRules, rules.HeaderRule{Source: compiled, Headers: pairs})
	}

	return nil
}

// applyOverrides layers CLI-flag values on top of the file-or-default
// Config, generalizing tspages/config/config.go's strDefault/intDefault/
// boolDefault helpers (there: flag > env > default; here: flag > file >
// default, since there is no env tier in this project's CLI surface).
func applyOverrides(cfg *Config, o Overrides) {
	if o.SingleSet {
		cfg.Single = o.Single
		// An explicit --single, true or false, replaces renderSingle.
		cfg.RenderSingle = o.Single
	}
	if o.CORSSet {
		cfg.CORS = o.CORS
	}
	if o.NoCompressionSet && o.NoCompression {
		cfg.Compress = false
	}
	if o.SymlinksSet {
		cfg.Symlinks = o.Symlinks
	}
	if o.NoETagSet && o.NoETag {
		cfg.ETag = false
	}
	if o.MaxUploadSet {
		cfg.MaxUploadBytes = o.MaxUploadBytes
	}
}

// EffectiveSingle reports whether single-page-app fallback should apply,
// resolving the --single/renderSingle precedence (DESIGN.md open
// question: --single always wins when set).
func (c Config) EffectiveSingle() bool {
	if c.Single {
		return true
	}
	return c.RenderSingle
}
