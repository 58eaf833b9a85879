// Package selftest implements the /self-test diagnostic endpoint: a
// fixed battery of in-process POSTs run against the echo engine and
// reported back as pass/fail.
package selftest

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
)

// check describes one request fired at the echo handler and what kind
// of response it should produce.
type check struct {
	Name        string
	Method      string
	ContentType string
	Body        func() []byte
	WantKind    string
}

// Result reports the outcome of a single check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Kind   string `json:"kind,omitempty"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

func checks() []check {
	return []check{
		{
			Name:        "json",
			ContentType: "application/json",
			Body:        func() []byte { return []byte(`{"ping":"pong"}`) },
			WantKind:    "json",
		},
		{
			Name:        "url-encoded-form",
			ContentType: "application/x-www-form-urlencoded",
			Body:        func() []byte { return []byte("a=1&b=2") },
			WantKind:    "form",
		},
		{
			Name:        "plain-text",
			ContentType: "text/plain",
			Body:        func() []byte { return []byte("hello from self-test") },
			WantKind:    "text",
		},
		{
			Name:     "multipart",
			WantKind: "multipart",
			Body:     nil, // built specially below, see Run
		},
	}
}

func buildMultipart() (string, []byte) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("field", "value")
	fw, _ := w.CreateFormFile("file", "sample.txt")
	fw.Write([]byte("sample file contents"))
	w.Close()
	return w.FormDataContentType(), buf.Bytes()
}

// Run fires each check against h and reports the round-tripped result.
func Run(h http.Handler) []Result {
	var results []Result
	for _, c := range checks() {
		var body []byte
		contentType := c.ContentType
		if c.Name == "multipart" {
			contentType, body = buildMultipart()
		} else {
			body = c.Body()
		}

		req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		result := Result{Name: c.Name, Status: rec.Code}
		var decoded struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.Kind = decoded.Kind
		result.Passed = rec.Code == http.StatusOK && decoded.Kind == c.WantKind
		results = append(results, result)
	}
	return results
}

// Handler returns an http.Handler that runs Run against echoHandler and
// reports the results as JSON, gated behind the --test flag by the
// caller.
func Handler(echoHandler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := Run(echoHandler)
		allPassed := true
		for _, res := range results {
			if !res.Passed {
				allPassed = false
				break
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if !allPassed {
			w.WriteHeader(http.StatusInternalServerError)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(struct {
			Passed  bool     `json:"passed"`
			Results []Result `json:"results"`
		}{Passed: allPassed, Results: results})
	})
}
