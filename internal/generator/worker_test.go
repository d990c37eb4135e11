package generator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeModel struct {
	calls  atomic.Int64
	closed atomic.Bool
	output func(prompt string) string
	err    error
}

func (m *fakeModel) Generate(_ context.Context, prompt string, _ Sampling) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	if m.output != nil {
		return m.output(prompt), nil
	}
	return prompt + "a completion</s>", nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

func testConfigs() (config.GeneratorConfig, config.SchedulerConfig) {
	cfg := config.Default().Generator
	sched := config.SchedulerConfig{GPUClass: "A10G", IdleTimeoutS: 180}
	return cfg, sched
}

func TestGenerateDefaultConfig(t *testing.T) {
	model := &fakeModel{output: func(prompt string) string {
		return prompt + "1. Red\n2. Blue</s>"
	}}
	var acquisitions atomic.Int64
	factory := func(_ context.Context) (Model, error) {
		acquisitions.Add(1)
		return model, nil
	}
	cfg, sched := testConfigs()
	w := NewWorker(cfg, sched, factory, newLogger())
	t.Cleanup(w.Close)

	text, err := w.Generate(context.Background(), "List two colors.", "", SamplingFromConfig(cfg.Sampling))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text == "" {
		t.Fatalf("expected non-empty completion")
	}
	if strings.Contains(text, ResponseDelimiter) {
		t.Fatalf("completion must not contain the delimiter: %q", text)
	}

	// Second call reuses the warm handle.
	if _, err := w.Generate(context.Background(), "List two animals.", "", SamplingFromConfig(cfg.Sampling)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquisitions.Load() != 1 {
		t.Fatalf("expected exactly one acquisition, got %d", acquisitions.Load())
	}
}

func TestGenerateMalformedOutput(t *testing.T) {
	model := &fakeModel{output: func(string) string { return "no delimiter here" }}
	factory := func(_ context.Context) (Model, error) { return model, nil }
	cfg, sched := testConfigs()
	w := NewWorker(cfg, sched, factory, newLogger())
	t.Cleanup(w.Close)

	_, err := w.Generate(context.Background(), "List two colors.", "", SamplingFromConfig(cfg.Sampling))
	var malformed *MalformedOutputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedOutputError, got %v", err)
	}
}

func TestGenerateInferenceError(t *testing.T) {
	model := &fakeModel{err: errors.New("beam search exploded")}
	factory := func(_ context.Context) (Model, error) { return model, nil }
	cfg, sched := testConfigs()
	w := NewWorker(cfg, sched, factory, newLogger())
	t.Cleanup(w.Close)

	_, err := w.Generate(context.Background(), "Hello.", "", SamplingFromConfig(cfg.Sampling))
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
}

func TestGenerateRejectsBadSampling(t *testing.T) {
	factory := func(_ context.Context) (Model, error) { return &fakeModel{}, nil }
	cfg, sched := testConfigs()
	w := NewWorker(cfg, sched, factory, newLogger())
	t.Cleanup(w.Close)

	bad := SamplingFromConfig(cfg.Sampling)
	bad.TopP = 2.0
	if _, err := w.Generate(context.Background(), "Hello.", "", bad); err == nil {
		t.Fatalf("expected sampling validation error")
	}

	bad = SamplingFromConfig(cfg.Sampling)
	bad.NumBeams = 0
	if _, err := w.Generate(context.Background(), "Hello.", "", bad); err == nil {
		t.Fatalf("expected sampling validation error")
	}
}

func TestGenerateIdleRelease(t *testing.T) {
	model := &fakeModel{}
	var acquisitions atomic.Int64
	factory := func(_ context.Context) (Model, error) {
		acquisitions.Add(1)
		return model, nil
	}
	cfg, sched := testConfigs()
	w := NewWorker(cfg, sched, factory, newLogger())
	t.Cleanup(w.Close)

	if _, err := w.Generate(context.Background(), "Hello.", "", SamplingFromConfig(cfg.Sampling)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.mu.Lock()
	w.lastUsed = w.lastUsed.Add(-time.Duration(sched.IdleTimeoutS+1) * time.Second)
	w.mu.Unlock()
	w.releaseIfIdle()
	if !model.closed.Load() {
		t.Fatalf("expected handle released after idle period")
	}

	if _, err := w.Generate(context.Background(), "Hello again.", "", SamplingFromConfig(cfg.Sampling)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquisitions.Load() != 2 {
		t.Fatalf("expected re-acquisition after release, got %d", acquisitions.Load())
	}
}

func TestResolveSamplingOverrides(t *testing.T) {
	cfg := config.Default().Generator.Sampling
	temp := 0.9
	topK := 10
	req := protocol.GenerateRequest{Temperature: &temp, TopK: &topK}

	s := ResolveSampling(cfg, req)
	if s.Temperature != 0.9 || s.TopK != 10 {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.TopP != cfg.TopP || s.NumBeams != cfg.NumBeams || s.MaxNewTokens != cfg.MaxNewTokens {
		t.Fatalf("defaults not preserved: %+v", s)
	}
}
