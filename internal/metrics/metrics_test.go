package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveRequest_AppearsInHandlerOutput(t *testing.T) {
	ObserveRequest("file", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "servelocal_http_requests_total") {
		t.Fatal("expected servelocal_http_requests_total in metrics output")
	}
}

func TestObserveEcho_AppearsInHandlerOutput(t *testing.T) {
	ObserveEcho("json")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "servelocal_echo_requests_total") {
		t.Fatal("expected servelocal_echo_requests_total in metrics output")
	}
}

func TestObserveCompression_AppearsInHandlerOutput(t *testing.T) {
	ObserveCompression(0.35)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "servelocal_compression_ratio") {
		t.Fatal("expected servelocal_compression_ratio in metrics output")
	}
}

func TestObserveBindSwitch_AppearsInHandlerOutput(t *testing.T) {
	ObserveBindSwitch("switched")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "servelocal_bind_switches_total") {
		t.Fatal("expected servelocal_bind_switches_total in metrics output")
	}
}
