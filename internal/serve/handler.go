package serve

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"servelocal/internal/config"
	"servelocal/internal/rules"
)

//go:embed templates/404.gohtml
var default404HTML []byte

//go:embed templates/dirlist.gohtml
var dirlistTmplStr string

var dirlistTmpl = template.Must(template.New("dirlist").Parse(dirlistTmplStr))

// RouteObserver is notified of the outcome of each request so a metrics
// layer can count requests by route kind without the pipeline importing
// the metrics package directly. r is the request being served, letting
// the observer correlate the kind with a status/duration recorded by an
// outer middleware via the request's context.
type RouteObserver func(r *http.Request, kind string)

// Handler serves a single public_root directory per the resolved Config.
// Unlike tspages' per-deployment Handler, there is exactly one content
// root for the process lifetime, so no cached-deployment-ID invalidation
// is needed — only the HTML-hint scan result is cached, keyed by path.
type Handler struct {
	Config config.Config
	Notify RouteObserver

	mu        sync.RWMutex
	hintCache map[string][]string
}

func NewHandler(cfg config.Config) *Handler {
	return &Handler{Config: cfg}
}

func (h *Handler) notify(r *http.Request, kind string) {
	if h.Notify != nil {
		h.Notify(r, kind)
	}
}

// isUnderRoot reports whether resolved is equal to root or a child of it.
func isUnderRoot(resolved, root string) bool {
	return resolved == root || strings.HasPrefix(resolved, root+string(os.PathSeparator))
}

// hasControlBytes reports whether p contains a raw NUL or other C0
// control byte, which spec.md §4.2 step 2 rejects with 400 before any
// disk access is attempted.
func hasControlBytes(p string) bool {
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == 0x7f || (c < 0x20 && c != '\t') {
			return true
		}
	}
	return false
}

// collapseSlashes replaces runs of "/" with a single "/" (spec.md §4.2
// step 2: "collapse repeated slashes").
func collapseSlashes(p string) string {
	if !strings.Contains(p, "//") {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config
	root := cfg.PublicRoot

	if hasControlBytes(r.URL.Path) {
		h.notify(r, "400")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	r.URL.Path = collapseSlashes(r.URL.Path)

	if target, status, ok := rules.MatchRedirect(r.URL.Path, cfg.Redirects); ok {
		h.notify(r, "redirect")
		http.Redirect(w, r, target, status)
		return
	}

	if target, ok := checkTrailingSlash(r.URL.Path, cfg.TrailingSlash); ok {
		h.notify(r, "redirect")
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}

	// Rewrites are tried exactly once; a rewritten path is never re-run
	// through the redirect table (DESIGN.md open question resolution).
	reqPath := r.URL.Path
	if dest, ok := rules.MatchRewrite(reqPath, cfg.Rewrites); ok {
		h.notify(r, "rewrite")
		reqPath = dest
	}

	if cfg.CleanURLs {
		if target, ok := cleanURLRedirect(reqPath); ok && h.resolvesToFile(root, reqPath) {
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}
	}

	const indexPage = "index.html"

	filePath := filepath.Clean(strings.TrimPrefix(reqPath, "/"))
	if filePath == "" || filePath == "." {
		filePath = indexPage
	}
	if strings.Contains(filePath, "..") {
		h.notify(r, "404")
		http.NotFound(w, r)
		return
	}

	fullPath := filepath.Join(root, filePath)

	resolved, err := h.resolvePath(fullPath)
	if err != nil {
		if cfg.CleanURLs {
			htmlPath := fullPath + ".html"
			if resolvedHTML, herr := h.resolvePath(htmlPath); herr == nil && isUnderRoot(resolvedHTML, root) {
				htmlFilePath := filePath + ".html"
				h.serveResolved(w, r, root, htmlFilePath, htmlPath, cfg)
				return
			}
		}
		if cfg.EffectiveSingle() {
			h.serveSingleFallback(w, r, root, indexPage, cfg)
			return
		}
		h.notify(r, "404")
		h.serve404(w, r, root, cfg)
		return
	}
	if !isUnderRoot(resolved, root) {
		h.notify(r, "404")
		http.NotFound(w, r)
		return
	}

	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		dirIndexPath := filepath.Join(fullPath, indexPage)
		if resolvedIndex, err := h.resolvePath(dirIndexPath); err == nil && isUnderRoot(resolvedIndex, root) {
			indexFilePath := filepath.Join(filePath, indexPage)
			h.serveResolved(w, r, root, indexFilePath, dirIndexPath, cfg)
			return
		}
		if cfg.DirListing {
			h.notify(r, "file")
			h.serveDirectoryListing(w, r, resolved, r.URL.Path)
			return
		}
		if cfg.EffectiveSingle() {
			h.serveSingleFallback(w, r, root, indexPage, cfg)
			return
		}
		h.notify(r, "404")
		h.serve404(w, r, root, cfg)
		return
	}

	h.serveResolved(w, r, root, filePath, fullPath, cfg)
}

// resolvePath resolves symlinks in fullPath when the config permits
// following them; when Symlinks is disabled, a path whose final
// component is itself a symlink is treated as not found.
func (h *Handler) resolvePath(fullPath string) (string, error) {
	if !h.Config.Symlinks {
		if lst, err := os.Lstat(fullPath); err == nil && lst.Mode()&os.ModeSymlink != 0 {
			return "", os.ErrNotExist
		}
	}
	return filepath.EvalSymlinks(fullPath)
}

func (h *Handler) serveResolved(w http.ResponseWriter, r *http.Request, root, filePath, fullPath string, cfg config.Config) {
	h.notify(r, "file")
	h.sendEarlyHints(w, filePath, fullPath)
	w.Header().Set("Cache-Control", defaultCacheControl(filePath))
	applyHeaderRules(w, filePath, cfg.HeaderRules)
	if cfg.ETag {
		if tag, ok := fileETag(fullPath); ok {
			w.Header().Set("ETag", tag)
		}
	}
	h.serveFileCompressed(w, r, root, fullPath, cfg)
}

func (h *Handler) serveSingleFallback(w http.ResponseWriter, r *http.Request, root, indexPage string, cfg config.Config) {
	indexPath := filepath.Join(root, indexPage)
	resolved, err := h.resolvePath(indexPath)
	if err != nil || !isUnderRoot(resolved, root) {
		h.notify(r, "404")
		h.serveDefault404(w, r)
		return
	}
	h.serveResolved(w, r, root, indexPage, indexPath, cfg)
}

func applyHeaderRules(w http.ResponseWriter, reqPath string, headerRules []rules.HeaderRule) {
	for _, pair := range rules.ApplyHeaders("/"+strings.TrimPrefix(reqPath, "/"), headerRules) {
		w.Header().Set(pair.Key, pair.Value)
	}
}

// fileETag derives a strong ETag from (size, mtime), replacing tspages'
// deploymentID-keyed scheme since this project has no deployment concept
// (spec.md Invariant 4).
func fileETag(fullPath string) (string, bool) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().UnixNano()), true
}

// defaultCacheControl mirrors tspages/internal/serve/handler.go's
// content-hash-aware caching policy.
func defaultCacheControl(filePath string) string {
	ext := strings.ToLower(path.Ext(filePath))
	switch ext {
	case ".html", ".htm":
		return "public, no-cache, stale-while-revalidate=60"
	default:
		if hasContentHash(filePath) {
			return "public, max-age=31536000, immutable"
		}
		return "public, max-age=3600, stale-while-revalidate=120"
	}
}

func hasContentHash(name string) bool {
	base := path.Base(name)
	ext := path.Ext(base)
	if ext == "" {
		return false
	}
	stem := base[:len(base)-len(ext)]
	start := 0
	for i := 0; i <= len(stem); i++ {
		if i == len(stem) || stem[i] == '.' || stem[i] == '-' {
			if start > 0 {
				seg := stem[start:i]
				if len(seg) >= 8 && isMixedAlphanumeric(seg) {
					return true
				}
			}
			start = i + 1
		}
	}
	return false
}

func isMixedAlphanumeric(s string) bool {
	var hasLetter, hasDigit bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			hasLetter = true
		case c >= '0' && c <= '9':
			hasDigit = true
		default:
			return false
		}
	}
	return hasLetter && hasDigit
}

// serveFileCompressed serves a file, preferring a precompressed variant
// on disk (.br, .gz) before falling back to on-the-fly compression, and
// skipping compression entirely when cfg.Compress is false.
func (h *Handler) serveFileCompressed(w http.ResponseWriter, r *http.Request, root, filePath string, cfg config.Config) {
	if ct := mime.TypeByExtension(filepath.Ext(filePath)); isCompressible(ct) {
		w.Header().Set("Vary", "Accept-Encoding")
	}

	if !cfg.Compress {
		serveFileContent(w, r, filePath)
		return
	}

	br := acceptsBrotli(r)
	gz := acceptsGzip(r)

	if br && servePrecompressed(w, r, root, filePath, ".br", "br") {
		return
	}
	if gz && servePrecompressed(w, r, root, filePath, ".gz", "gzip") {
		return
	}

	if br || gz {
		encoding := "gzip"
		if br {
			encoding = "br"
		}
		cw := &compressWriter{ResponseWriter: w, encoding: encoding}
		defer cw.Close() //nolint:errcheck
		serveFileContent(cw, r, filePath)
		return
	}

	serveFileContent(w, r, filePath)
}

func serveFileContent(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, filepath.Base(name), stat.ModTime(), f)
}

func servePrecompressed(w http.ResponseWriter, r *http.Request, root, origPath, ext, encoding string) bool {
	compPath := origPath + ext
	resolved, err := filepath.EvalSymlinks(compPath)
	if err != nil || !isUnderRoot(resolved, root) {
		return false
	}
	f, err := os.Open(compPath)
	if err != nil {
		return false
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return false
	}

	if ct := mime.TypeByExtension(filepath.Ext(origPath)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Encoding", encoding)
	w.Header().Set("Vary", "Accept-Encoding")

	http.ServeContent(w, r, "", stat.ModTime(), f)
	return true
}

type dirlistEntry struct {
	Name  string
	Href  string
	IsDir bool
	Size  string
}

func (h *Handler) serveDirectoryListing(w http.ResponseWriter, r *http.Request, dirPath, reqPath string) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		di, dj := entries[i].IsDir(), entries[j].IsDir()
		if di != dj {
			return di
		}
		return entries[i].Name() < entries[j].Name()
	})

	if !strings.HasSuffix(reqPath, "/") {
		reqPath += "/"
	}

	var items []dirlistEntry
	for _, e := range entries {
		name := e.Name()
		if listedIsUnlisted(name, h.Config.Unlisted) {
			continue
		}
		href := reqPath + name
		size := ""
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				size = formatBytes(info.Size())
			}
		}
		items = append(items, dirlistEntry{Name: name, Href: href, IsDir: e.IsDir(), Size: size})
	}

	parent := ""
	if reqPath != "/" {
		parent = path.Dir(strings.TrimRight(reqPath, "/"))
		if parent != "/" {
			parent += "/"
		}
	}

	var buf bytes.Buffer
	_ = dirlistTmpl.Execute(&buf, struct {
		Path    string
		Parent  string
		Entries []dirlistEntry
	}{reqPath, parent, items})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	writeBody(w, r, http.StatusOK, buf.Bytes())
}

// writeBody sets Content-Length from body, writes status, and elides the
// body entirely for HEAD requests — status and headers still match the
// GET response (spec.md §8 invariant 2), only the body is withheld.
func writeBody(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

func isHidden(name string) bool { return strings.HasPrefix(name, ".") }

// listedIsUnlisted reports whether name matches one of the configured
// "unlisted" glob patterns or starts with ".", hiding it from directory
// listings without
// affecting whether it can still be served directly (spec.md §3).
func listedIsUnlisted(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return isHidden(name)
}

func formatBytes(b int64) string {
	const (
		kB = 1024
		mB = 1024 * kB
		gB = 1024 * mB
	)
	switch {
	case b >= gB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gB))
	case b >= mB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mB))
	case b >= kB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// checkTrailingSlash returns a redirect target for the "force" and
// "strip" tri-state modes. "preserve" (and the root path) never
// redirects.
func checkTrailingSlash(reqPath string, mode config.TrailingSlashMode) (string, bool) {
	if reqPath == "/" {
		return "", false
	}
	switch mode {
	case config.TrailingSlashForce:
		if !strings.HasSuffix(reqPath, "/") && path.Ext(reqPath) == "" {
			return reqPath + "/", true
		}
	case config.TrailingSlashStrip:
		if strings.HasSuffix(reqPath, "/") {
			return strings.TrimSuffix(reqPath, "/"), true
		}
	}
	return "", false
}

// cleanURLRedirect strips a .html/.htm extension for clean URLs. Index
// files are never redirected — they are served at their directory path.
func cleanURLRedirect(reqPath string) (string, bool) {
	ext := strings.ToLower(path.Ext(reqPath))
	if ext != ".html" && ext != ".htm" {
		return "", false
	}
	base := strings.ToLower(path.Base(reqPath))
	if base == "index.html" || base == "index.htm" {
		return "", false
	}
	return strings.TrimSuffix(reqPath, path.Ext(reqPath)), true
}

// resolvesToFile reports whether reqPath (still carrying its .html/.htm
// suffix) names an existing regular file under root, so cleanURLRedirect
// only fires when the stripped form will actually resolve (spec.md §4.2
// step 5: "and the stripped form also resolves") rather than 301-ing into
// a 404.
func (h *Handler) resolvesToFile(root, reqPath string) bool {
	fullPath := filepath.Join(root, filepath.Clean(strings.TrimPrefix(reqPath, "/")))
	resolved, err := h.resolvePath(fullPath)
	if err != nil || !isUnderRoot(resolved, root) {
		return false
	}
	info, err := os.Stat(resolved)
	return err == nil && !info.IsDir()
}

func (h *Handler) serve404(w http.ResponseWriter, r *http.Request, root string, cfg config.Config) {
	custom404 := filepath.Join(root, "404.html")
	if resolved, err := h.resolvePath(custom404); err == nil && isUnderRoot(resolved, root) {
		if content, err := os.ReadFile(resolved); err == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "public, no-cache, stale-while-revalidate=60")
			writeBody(w, r, http.StatusNotFound, content)
			return
		}
	}
	h.serveDefault404(w, r)
}

func (h *Handler) serveDefault404(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	writeBody(w, r, http.StatusNotFound, default404HTML)
}
