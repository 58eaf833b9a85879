package serve

import (
	"net/http"
)

// Identity is the fixed `name`/`version` pair stamped onto every response
// via X-Server, X-Powered-By, and X-Version (spec.md §6 response header
// contract). It is supplied by main, not hard-coded here, mirroring how
// tspages threads its own version string in from a build-time var.
type Identity struct {
	Name    string
	Version string
}

// allowedMethodsHeader is the fixed method set spec.md §4.2 step 1 dispatches:
// everything else gets a flat 405.
const allowedMethodsHeader = "GET, HEAD, POST, OPTIONS"

// NewRouter composes the top-level handler: unconditional identity
// headers, method dispatch (GET/HEAD to fileHandler, POST to
// echoHandler, OPTIONS to a 204 no-op, anything else 405), and — when
// cors is set — permissive CORS headers including the OPTIONS
// preflight echo of requested method/headers (spec.md §4.2 "Headers
// injection").
func NewRouter(cors bool, fileHandler http.Handler, echoHandler http.Handler, id Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Server", id.Name+"/"+id.Version)
		h.Set("X-Powered-By", id.Name)
		h.Set("X-Version", id.Version)

		if cors {
			h.Set("Access-Control-Allow-Origin", "*")
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead:
			fileHandler.ServeHTTP(w, r)
		case http.MethodPost:
			echoHandler.ServeHTTP(w, r)
		case http.MethodOptions:
			h.Set("Allow", allowedMethodsHeader)
			if cors {
				if r.Header.Get("Access-Control-Request-Method") != "" {
					h.Set("Access-Control-Allow-Methods", allowedMethodsHeader)
				}
				if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
					h.Set("Access-Control-Allow-Headers", hdr)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			h.Set("Allow", allowedMethodsHeader)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
