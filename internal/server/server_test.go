package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/abap-agent/internal/assistant"
	"github.com/xaenox/abap-agent/internal/backend"
	"github.com/xaenox/abap-agent/internal/metrics"
	"github.com/xaenox/abap-agent/internal/models"
)

// fakeBackend records the last request and answers with reply or err.
type fakeBackend struct {
	name      string
	reply     *models.Reply
	err       error
	available bool
	last      backend.Request
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Available(ctx context.Context) bool { return f.available }

func (f *fakeBackend) Submit(ctx context.Context, req backend.Request) (*models.Reply, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

// fakeThreads adds remote thread support to fakeBackend.
type fakeThreads struct {
	fakeBackend
	messages  []models.Message
	lastLimit int
}

func (f *fakeThreads) CreateThread(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "thread_new", nil
}

func (f *fakeThreads) Messages(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

func testOptions() Options {
	return Options{
		Version:          "test",
		Origins:          []string{"https://abap.example"},
		MaxFileSize:      1024,
		AllowedFileTypes: []string{".json", ".txt", ".xlsx"},
	}
}

func newTestHandler(t *testing.T, b backend.Backend) http.Handler {
	t.Helper()
	return New(b, testOptions(), zaptest.NewLogger(t)).Handler()
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestRoot(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{name: "workflow"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var resp rootResponse
	decode(t, w, &resp)
	if resp.Status != "healthy" || resp.Backend != "workflow" || resp.Version != "test" {
		t.Errorf("response: got %+v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestHealth(t *testing.T) {
	for _, available := range []bool{true, false} {
		b := &fakeBackend{name: "workflow", available: available}
		h := newTestHandler(t, b)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		var resp healthResponse
		decode(t, w, &resp)
		if resp.Reachable != available {
			t.Errorf("reachable: got %v, want %v", resp.Reachable, available)
		}
		want := 0.0
		if available {
			want = 1
		}
		if got := testutil.ToFloat64(metrics.BackendAvailable.WithLabelValues("workflow")); got != want {
			t.Errorf("availability gauge: got %v, want %v", got, want)
		}
	}
}

func TestChat(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantText string
	}{
		{
			name:     "success",
			body:     `{"thread_id":"thread_1","message":"write a report","ricef_type":"report"}`,
			wantCode: http.StatusOK,
			wantText: "REPORT zdemo.",
		},
		{
			name:     "invalid json",
			body:     `{"message":`,
			wantCode: http.StatusBadRequest,
			wantText: "invalid JSON body",
		},
		{
			name:     "empty message",
			body:     `{"message":"  "}`,
			wantCode: http.StatusBadRequest,
			wantText: "message is required",
		},
		{
			name:     "run timeout",
			body:     `{"message":"hi"}`,
			err:      fmt.Errorf("%w: run run_1 not finished after 60 polls", assistant.ErrRunTimeout),
			wantCode: http.StatusGatewayTimeout,
			wantText: "Chat failed: assistant response timeout",
		},
		{
			name:     "run failed",
			body:     `{"message":"hi"}`,
			err:      &assistant.RunFailedError{RunID: "run_1", Status: models.RunFailed, Detail: "X"},
			wantCode: http.StatusBadGateway,
			wantText: "Chat failed: run failed: X",
		},
		{
			name:     "unknown thread",
			body:     `{"thread_id":"thread_foreign","message":"hi"}`,
			err:      &assistant.UpstreamError{Op: "add message", StatusCode: http.StatusNotFound, Err: fmt.Errorf("no thread")},
			wantCode: http.StatusNotFound,
			wantText: "Chat failed",
		},
		{
			name:     "workflow backend needs a file",
			body:     `{"message":"hi"}`,
			err:      backend.ErrFileRequired,
			wantCode: http.StatusBadRequest,
			wantText: "file is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{
				name:  "assistant",
				err:   tt.err,
				reply: &models.Reply{Success: true, ThreadID: "thread_1", MessageID: "msg_1", Role: models.RoleAssistant, Content: "REPORT zdemo."},
			}
			h := newTestHandler(t, b)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			h.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d", w.Code, tt.wantCode)
			}
			if !strings.Contains(w.Body.String(), tt.wantText) {
				t.Errorf("body: got %s, want to contain %q", w.Body.String(), tt.wantText)
			}
		})
	}
}

func TestChatForwardsRequest(t *testing.T) {
	b := &fakeBackend{name: "assistant", reply: &models.Reply{ThreadID: "thread_1", MessageID: "msg_1", Role: models.RoleAssistant, Content: "ok"}}
	h := newTestHandler(t, b)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"thread_id":"thread_1","message":"hello","ricef_type":"Form"}`))
	h.ServeHTTP(w, req)

	if b.last.ThreadID != "thread_1" || b.last.Message != "hello" || b.last.Category != "Form" {
		t.Errorf("request: got %+v", b.last)
	}
	var resp chatResponse
	decode(t, w, &resp)
	if resp.MessageID != "msg_1" || resp.Role != models.RoleAssistant {
		t.Errorf("response: got %+v", resp)
	}
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(content)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	b := &fakeBackend{name: "workflow", reply: &models.Reply{Success: true, Filename: "zreport.json", Content: "RESULT"}}
	h := newTestHandler(t, b)

	body, ct := multipartBody(t, "zreport.json", []byte(`{"a":1}`), map[string]string{"message": "please", "ricef_type": "report"})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", w.Code, w.Body.String())
	}
	var resp models.Reply
	decode(t, w, &resp)
	if !resp.Success || resp.Content != "RESULT" || resp.Filename != "zreport.json" {
		t.Errorf("response: got %+v", resp)
	}
	if string(b.last.File) != `{"a":1}` || b.last.Message != "please" || b.last.Category != "report" {
		t.Errorf("request: got %+v", b.last)
	}
}

func TestUploadFailedWorkflowStillOK(t *testing.T) {
	b := &fakeBackend{name: "workflow", reply: &models.Reply{Success: false, Filename: "zreport.txt", Content: "Workflow returned error: 500", Error: "HTTP 500: boom"}}
	h := newTestHandler(t, b)

	body, ct := multipartBody(t, "zreport.txt", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var resp models.Reply
	decode(t, w, &resp)
	if resp.Success || resp.Error != "HTTP 500: boom" {
		t.Errorf("response: got %+v", resp)
	}
}

func TestUploadValidation(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		wantCode int
		wantText string
	}{
		{"missing file", "", nil, http.StatusBadRequest, "file is required"},
		{"wrong type", "zreport.pdf", []byte("%PDF"), http.StatusBadRequest, "file type .pdf not allowed"},
		{"too large", "zreport.txt", bytes.Repeat([]byte("a"), 2048), http.StatusBadRequest, "file too large"},
		{"over body limit", "zreport.txt", bytes.Repeat([]byte("a"), 2<<20), http.StatusBadRequest, "file too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{name: "workflow"}
			h := newTestHandler(t, b)

			body, ct := multipartBody(t, tt.filename, tt.content, map[string]string{"message": "x"})
			req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status: got %d, want %d", w.Code, tt.wantCode)
			}
			if !strings.Contains(w.Body.String(), tt.wantText) {
				t.Errorf("body: got %s, want to contain %q", w.Body.String(), tt.wantText)
			}
			if b.last.Filename != "" {
				t.Error("backend should not be called for rejected uploads")
			}
		})
	}
}

func TestThreadRoutes(t *testing.T) {
	created := time.Unix(1700000000, 0)
	b := &fakeThreads{
		fakeBackend: fakeBackend{name: "assistant"},
		messages: []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hi", CreatedAt: created},
			{ID: "m2", Role: models.RoleAssistant, Content: "hello", CreatedAt: created.Add(time.Second)},
		},
	}
	h := newTestHandler(t, b)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/threads", nil))
	var thread threadResponse
	decode(t, w, &thread)
	if thread.ThreadID != "thread_new" {
		t.Errorf("thread: got %q", thread.ThreadID)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/thread_1/messages", nil))
	var msgs []messageResponse
	decode(t, w, &msgs)
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].CreatedAt != 1700000001 {
		t.Errorf("messages: got %+v", msgs)
	}
	if b.lastLimit != defaultMessageLimit {
		t.Errorf("limit: got %d, want %d", b.lastLimit, defaultMessageLimit)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/thread_1/messages?limit=10", nil))
	if b.lastLimit != 10 {
		t.Errorf("limit: got %d, want 10", b.lastLimit)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/thread_1/messages?limit=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status: got %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/threads/thread_1", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "not supported") {
		t.Errorf("delete: got %d %s", w.Code, w.Body.String())
	}
}

func TestThreadRoutesAbsentForWorkflow(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{name: "workflow"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/threads", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		origin      string
		allowed     bool
	}{
		{"configured origin", false, "https://abap.example", true},
		{"unknown origin", false, "https://evil.example", false},
		{"dev server in production", false, "http://localhost:5173", false},
		{"dev server in development", true, "http://localhost:5173", true},
		{"codespaces in development", true, "https://octo-abc-5173.app.github.dev", true},
		{"codespaces other port", true, "https://octo-abc-8000.app.github.dev", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.Development = tt.development
			h := New(&fakeBackend{name: "assistant"}, opts, zaptest.NewLogger(t)).Handler()

			req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin") == tt.origin
			if got != tt.allowed {
				t.Errorf("allowed: got %v, want %v (header %q)", got, tt.allowed, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	b := &fakeThreads{fakeBackend: fakeBackend{name: "assistant"}}
	h := newTestHandler(t, b)

	route := "GET /api/threads/{thread_id}/messages"
	before := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(http.MethodGet, route, "200"))

	for _, id := range []string{"thread_a", "thread_b"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/threads/"+id+"/messages", nil))
	}

	after := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(http.MethodGet, route, "200"))
	if after-before != 2 {
		t.Errorf("requests counted: got %v, want 2", after-before)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{name: "assistant"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", w.Code)
	}
}
