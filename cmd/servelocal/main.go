// Command servelocal is a local-development HTTP(S) server: it serves a
// directory of static files under a serve.json-compatible rule set and
// echoes POST bodies back as structured JSON.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"servelocal/internal/clipboard"
	"servelocal/internal/config"
	"servelocal/internal/echo"
	"servelocal/internal/httplog"
	"servelocal/internal/initassets"
	"servelocal/internal/logger"
	"servelocal/internal/metrics"
	"servelocal/internal/netbind"
	"servelocal/internal/selftest"
	"servelocal/internal/serve"
	"servelocal/internal/shutdown"
	"servelocal/internal/tlsload"
)

// name/version are stamped onto X-Server/X-Powered-By/X-Version
// (spec.md §6). version is overridden at build time via -ldflags.
const name = "servelocal"

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)

	port := flags.IntP("port", "p", 0, "port to bind (required)")
	dir := flags.StringP("dir", "d", "", "directory to serve (required)")
	initFlag := flags.Bool("init", false, "write starter index.html/style.css/main.js into --dir if absent")
	testFlag := flags.Bool("test", false, "expose /self-test")
	configPath := flags.String("config", "", "explicit config file path")
	sslCert := flags.String("ssl-cert", "", "PEM or PKCS#12 certificate path")
	sslKey := flags.String("ssl-key", "", "PEM private key path (with a PEM --ssl-cert)")
	sslPass := flags.String("ssl-pass", "", "passphrase file (with a PKCS#12 --ssl-cert)")
	cors := flags.Bool("cors", false, "enable permissive CORS headers")
	single := flags.Bool("single", false, "SPA fallback to /index.html")
	noCompression := flags.Bool("no-compression", false, "disable gzip/brotli compression")
	symlinks := flags.Bool("symlinks", false, "follow symlinks instead of rejecting them")
	noETag := flags.Bool("no-etag", false, "emit Last-Modified instead of ETag")
	noRequestLogging := flags.Bool("no-request-logging", false, "silence per-request log lines")
	noClipboard := flags.Bool("no-clipboard", false, "do not copy the server URL to the clipboard")
	noPortSwitching := flags.Bool("no-port-switching", false, "fail instead of trying the next port on conflict")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log := logger.New(os.Stderr, "")
	slog.SetDefault(log)

	if *port == 0 {
		fmt.Fprintln(os.Stderr, "--port is required")
		return 2
	}
	if *port < 1 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "--port %d out of range (1-65535)\n", *port)
		return 2
	}
	if *dir == "" {
		fmt.Fprintln(os.Stderr, "--dir is required")
		return 2
	}

	if *initFlag {
		written, err := initassets.Write(*dir)
		if err != nil {
			log.Error("writing --init assets", "err", err)
			return 1
		}
		if len(written) > 0 {
			log.Info("wrote starter files", "files", written)
		}
	}

	overrides := config.Overrides{
		Dir:              *dir,
		ConfigPath:       *configPath,
		Single:           *single,
		SingleSet:        flags.Changed("single"),
		CORS:             *cors,
		CORSSet:          flags.Changed("cors"),
		NoCompression:    *noCompression,
		NoCompressionSet: flags.Changed("no-compression"),
		Symlinks:         *symlinks,
		SymlinksSet:      flags.Changed("symlinks"),
		NoETag:           *noETag,
		NoETagSet:        flags.Changed("no-etag"),
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		log.Error("loading configuration", "component", "config", "err", err)
		return 1
	}

	var tlsConfig *tls.Config
	if *sslCert != "" {
		tlsConfig, err = tlsload.Load(tlsload.Options{CertFile: *sslCert, KeyFile: *sslKey, PassphraseFile: *sslPass})
		if err != nil {
			log.Error("loading TLS material", "component", "tls", "cert", *sslCert, "err", err)
			return 1
		}
	}

	bindResult, err := netbind.Open("127.0.0.1", *port, !*noPortSwitching, log)
	if err != nil {
		log.Error("binding listener", "component", "bind", "err", err)
		return 1
	}

	fileHandler := serve.NewHandler(cfg)
	fileHandler.Notify = func(r *http.Request, kind string) {
		// A rewrite stays the recorded kind for the rest of the request.
		if p, ok := r.Context().Value(routeKindKey{}).(*string); ok && *p != "rewrite" {
			*p = kind
		}
	}

	echoHandler := echo.NewHandler(cfg.MaxUploadBytes)

	router := serve.NewRouter(cfg.CORS, fileHandler, echoHandler, serve.Identity{Name: name, Version: version})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if *testFlag {
		// The self-test fires its POSTs in-process at echoHandler, not
		// over the network, so it does not depend on which port
		// netbind.Open bound.
		mux.Handle("/self-test", selftest.Handler(echoHandler))
	}
	mux.Handle("/", withRouteMetrics(router))

	var handler http.Handler = mux
	if !*noRequestLogging {
		handler = httplog.Wrap(handler, log)
	}

	httpServer := &http.Server{
		Handler:        handler,
		TLSConfig:      tlsConfig,
		MaxHeaderBytes: 64 << 10,
	}

	if !*noClipboard {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
		}
		_ = clipboard.Copy(fmt.Sprintf("%s://127.0.0.1:%d", scheme, bindResult.Port))
	}

	log.Info("serving", "dir", cfg.PublicRoot, "port", bindResult.Port, "tls", tlsConfig != nil)
	for _, ip := range netbind.ExternalIPs() {
		log.Info("also reachable at", "addr", addrURL(tlsConfig != nil, ip, bindResult.Port))
	}

	return serveAndWait(httpServer, bindResult, tlsConfig, log)
}

type routeKindKey struct{}

type metricsRecorder struct {
	http.ResponseWriter
	status int
}

func (r *metricsRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *metricsRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// withRouteMetrics records servelocal_http_requests_total/duration by the
// route kind serve.Handler.Notify reports (file/redirect/rewrite/404),
// read back out of the request context after next has run.
func withRouteMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind := new(string)
		ctx := context.WithValue(r.Context(), routeKindKey{}, kind)
		rec := &metricsRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		if *kind != "" {
			metrics.ObserveRequest(*kind, rec.status, time.Since(start))
		}
	})
}

func addrURL(useTLS bool, host string, port int) string {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	return scheme + "://" + host + ":" + strconv.Itoa(port)
}

// serveAndWait runs the listener on its own goroutine and blocks on the
// shutdown supervisor, returning the process exit code: 0 on a clean
// drain, 1 if the listener itself failed.
func serveAndWait(srv *http.Server, bound netbind.Result, tlsConfig *tls.Config, log *slog.Logger) int {
	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			err = srv.ServeTLS(bound.Listener, "", "")
		} else {
			err = srv.Serve(bound.Listener)
		}
		if err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	done := make(chan struct{})
	go func() {
		shutdown.Run(srv, log)
		close(done)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("listener failed", "err", err)
			return 1
		}
		<-done
	case <-done:
	}
	return 0
}
