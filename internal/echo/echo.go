// Package echo implements the POST echo engine: it reads a request body
// under a configured size cap, classifies it by Content-Type, and
// reports back a structured JSON description of what it received.
package echo

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"servelocal/internal/metrics"
)

// Handler is the POST echo endpoint. It never persists request bodies to
// disk — uploaded bytes exist only for the duration of the request
// (spec.md §4.3: "no persistence of uploads").
type Handler struct {
	MaxBytes int64
}

func NewHandler(maxBytes int64) *Handler {
	return &Handler{MaxBytes: maxBytes}
}

// Response is the structured echo of a single POST request, assembled
// the same tagged-sum way tspages/internal/deploy/extract.go dispatches
// an upload by its detected kind — here the "kind" comes from
// Content-Type instead of magic bytes, because the engine must describe
// arbitrary bodies rather than extract them to disk.
type Response struct {
	Method      string              `json:"method"`
	Path        string              `json:"path"`
	Query       map[string][]string `json:"query,omitempty"`
	Headers     map[string][]string `json:"headers"`
	ContentType string              `json:"content_type"`
	Kind        string              `json:"kind"`

	JSON   any                 `json:"json_data,omitempty"`
	Form   map[string][]string `json:"form_data,omitempty"`
	Files  []FileInfo          `json:"files,omitempty"`
	Text   string              `json:"text_data,omitempty"`
	Binary *BinaryInfo         `json:"binary,omitempty"`
}

// FileInfo describes one streamed multipart file part without ever
// retaining its bytes.
type FileInfo struct {
	Field       string `json:"field_name"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// BinaryInfo describes a body the engine could not classify as
// text-like; Sample is a base64 excerpt, not the full body, so the
// response stays bounded regardless of upload size.
type BinaryInfo struct {
	Size   int64  `json:"size"`
	Sample string `json:"sampleBase64"`
}

const maxBinarySample = 4096

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := Response{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       map[string][]string(r.URL.Query()),
		Headers:     map[string][]string(r.Header),
		ContentType: r.Header.Get("Content-Type"),
	}

	mediaType, params, err := mime.ParseMediaType(resp.ContentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(resp.ContentType, ";", 2)[0])
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	switch {
	case mediaType == "application/json":
		resp.Kind = "json"
		if err := h.readJSON(r, &resp); err != nil {
			writeLimitAwareError(w, err)
			return
		}
	case mediaType == "application/x-www-form-urlencoded":
		resp.Kind = "form"
		if err := h.readForm(r, &resp); err != nil {
			writeLimitAwareError(w, err)
			return
		}
	case mediaType == "multipart/form-data":
		resp.Kind = "multipart"
		boundary := params["boundary"]
		if boundary == "" {
			http.Error(w, "multipart/form-data missing boundary", http.StatusBadRequest)
			return
		}
		if err := h.readMultipart(r, boundary, &resp); err != nil {
			writeLimitAwareError(w, err)
			return
		}
	case strings.HasPrefix(mediaType, "text/"):
		resp.Kind = "text"
		if err := h.readText(r, &resp); err != nil {
			writeLimitAwareError(w, err)
			return
		}
	default:
		resp.Kind = "binary"
		if err := h.readBinary(r, &resp); err != nil {
			writeLimitAwareError(w, err)
			return
		}
	}

	metrics.ObserveEcho(resp.Kind)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
}

func (h *Handler) readJSON(r *http.Request, resp *Response) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	resp.JSON = v
	return nil
}

func (h *Handler) readForm(r *http.Request, resp *Response) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	resp.Form = map[string][]string(r.PostForm)
	return nil
}

func (h *Handler) readText(r *http.Request, resp *Response) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	resp.Text = string(body)
	return nil
}

func (h *Handler) readBinary(r *http.Request, resp *Response) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	sample := body
	if len(sample) > maxBinarySample {
		sample = sample[:maxBinarySample]
	}
	resp.Binary = &BinaryInfo{
		Size:   int64(len(body)),
		Sample: base64.StdEncoding.EncodeToString(sample),
	}
	return nil
}

// readMultipart streams each part through multipart.Reader without ever
// writing file bytes to disk — only field values and per-file metadata
// are retained, matching spec.md's "no persistence of uploads" Non-goal.
func (h *Handler) readMultipart(r *http.Request, boundary string, resp *Response) error {
	mr := multipart.NewReader(r.Body, boundary)
	resp.Form = make(map[string][]string)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading multipart body: %w", err)
		}

		if part.FileName() == "" {
			value, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return fmt.Errorf("reading multipart field %q: %w", part.FormName(), err)
			}
			resp.Form[part.FormName()] = append(resp.Form[part.FormName()], string(value))
			continue
		}

		n, err := io.Copy(io.Discard, part)
		part.Close()
		if err != nil {
			return fmt.Errorf("reading multipart file %q: %w", part.FileName(), err)
		}
		resp.Files = append(resp.Files, FileInfo{
			Field:       part.FormName(),
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Size:        n,
		})
	}
	return nil
}

// writeLimitAwareError reports 413 when the body exceeded MaxBytes
// (http.MaxBytesReader wraps that case in a *http.MaxBytesError) and 400
// otherwise.
func writeLimitAwareError(w http.ResponseWriter, err error) {
	var mbErr *http.MaxBytesError
	if errors.As(err, &mbErr) {
		http.Error(w, fmt.Sprintf("request body exceeds %d bytes", mbErr.Limit), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}
