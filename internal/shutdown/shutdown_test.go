package shutdown

import (
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDrain_CompletesWithNoInFlightRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: http.NewServeMux()}
	go srv.Serve(ln)

	// Give the server a moment to start accepting before draining.
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err == nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		drain(srv, discardLogger(), time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not complete within its own timeout budget")
	}
}

func TestDrain_TimesOutOnSlowRequest(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer close(release)

	client := &http.Client{Timeout: 3 * time.Second}
	reqDone := make(chan struct{})
	go func() {
		resp, err := client.Get("http://" + ln.Addr().String() + "/slow")
		if err == nil {
			resp.Body.Close()
		}
		close(reqDone)
	}()

	time.Sleep(50 * time.Millisecond) // let the slow request start

	drain(srv, discardLogger(), 100*time.Millisecond)

	release <- struct{}{}
	<-reqDone
}

func TestDrainTimeout_MatchesSpecConstant(t *testing.T) {
	if DrainTimeout != 5*time.Second {
		t.Errorf("DrainTimeout = %v, want 5s", DrainTimeout)
	}
}
