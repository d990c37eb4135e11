package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRequester struct {
	lastSubject string
	lastHeader  nats.Header
	lastData    []byte
	reply       any
	err         error
}

func (f *fakeRequester) Request(_ context.Context, subject string, header nats.Header, data []byte) ([]byte, error) {
	f.lastSubject = subject
	f.lastHeader = header
	f.lastData = data
	if f.err != nil {
		return nil, f.err
	}
	return json.Marshal(f.reply)
}

func newTestServer(t *testing.T, req Requester) *Server {
	t.Helper()
	cfg := config.Default().Gateway
	cfg.StaticDir = t.TempDir()
	return New(cfg, config.HTTPConfig{Bind: "127.0.0.1", Port: 0}, req, nil, func() bool { return true }, newLogger())
}

func TestTranscribeSuccess(t *testing.T) {
	requester := &fakeRequester{reply: protocol.TranscribeReply{Text: "hello world"}}
	s := newTestServer(t, requester)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewReader([]byte("audio-bytes")))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello world" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}
	if requester.lastSubject != protocol.SubjectTranscribe {
		t.Fatalf("unexpected subject: %s", requester.lastSubject)
	}
	if string(requester.lastData) != "audio-bytes" {
		t.Fatalf("audio payload must be forwarded verbatim")
	}
	if requester.lastHeader.Get(protocol.HeaderRequestID) == "" {
		t.Fatalf("request id header missing on bus request")
	}
}

func TestTranscribeOversizedBodyRejected(t *testing.T) {
	requester := &fakeRequester{reply: protocol.TranscribeReply{Text: "unreachable"}}
	cfg := config.Default().Gateway
	cfg.StaticDir = t.TempDir()
	cfg.MaxBodyBytes = 8
	s := New(cfg, config.HTTPConfig{Bind: "127.0.0.1", Port: 0}, requester, nil, func() bool { return true }, newLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewReader([]byte("01234567-way-past-the-limit")))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if requester.lastSubject != "" {
		t.Fatalf("truncated body must not reach the worker, got request on %s with %d bytes",
			requester.lastSubject, len(requester.lastData))
	}
}

func TestTranscribeWorkerFailureMapsTo5xx(t *testing.T) {
	requester := &fakeRequester{reply: protocol.TranscribeReply{
		Error:     "audio decode failed: Invalid data found",
		ErrorKind: protocol.ErrKindDecode,
	}}
	s := newTestServer(t, requester)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewReader([]byte("junk")))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code < 500 || rec.Code > 599 {
		t.Fatalf("expected 5xx, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "Invalid data") {
		t.Fatalf("internal diagnostics must not leak: %q", rec.Body.String())
	}
}

func TestTranscribeTimeoutMapsTo504(t *testing.T) {
	requester := &fakeRequester{err: context.DeadlineExceeded}
	s := newTestServer(t, requester)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewReader([]byte("audio")))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
}

func TestTranscribeBusDownMapsTo502(t *testing.T) {
	requester := &fakeRequester{err: nats.ErrNoResponders}
	s := newTestServer(t, requester)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewReader([]byte("audio")))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestGenerateSuccess(t *testing.T) {
	requester := &fakeRequester{reply: protocol.GenerateReply{Text: "1. Red\n2. Blue"}}
	s := newTestServer(t, requester)

	payload := `{"instruction": "List two colors.", "temperature": 0.3}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "1. Red\n2. Blue" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}

	var sent protocol.GenerateRequest
	if err := json.Unmarshal(requester.lastData, &sent); err != nil {
		t.Fatalf("unmarshal forwarded request: %v", err)
	}
	if sent.Instruction != "List two colors." {
		t.Fatalf("instruction not forwarded: %+v", sent)
	}
	if sent.Temperature == nil || *sent.Temperature != 0.3 {
		t.Fatalf("temperature override not forwarded: %+v", sent)
	}
	if sent.TopK != nil {
		t.Fatalf("absent overrides must stay absent: %+v", sent)
	}
}

func TestGenerateRejectsMissingInstruction(t *testing.T) {
	s := newTestServer(t, &fakeRequester{reply: protocol.GenerateReply{}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"input": "x"}`))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStaticAssetsServed(t *testing.T) {
	requester := &fakeRequester{reply: protocol.TranscribeReply{}}
	cfg := config.Default().Gateway
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>murmur</html>"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	cfg.StaticDir = dir
	s := New(cfg, config.HTTPConfig{Bind: "127.0.0.1", Port: 0}, requester, nil, nil, newLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "murmur") {
		t.Fatalf("index not served: %q", rec.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	ready := false
	cfg := config.Default().Gateway
	cfg.StaticDir = t.TempDir()
	s := New(cfg, config.HTTPConfig{Bind: "127.0.0.1", Port: 0}, &fakeRequester{}, nil, func() bool { return ready }, newLogger())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz should always be 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", rec.Code)
	}

	ready = true
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}
