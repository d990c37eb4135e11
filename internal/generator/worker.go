package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Worker owns the generation model handle for one warm lifetime, with the
// same acquire-once / serialize / idle-release discipline as the
// transcription worker. Each call is a fresh single-turn generation; nothing
// carries over between calls.
type Worker struct {
	cfg     config.GeneratorConfig
	sched   config.SchedulerConfig
	factory Factory
	logger  *slog.Logger
	latency metric.Float64Histogram

	mu       sync.Mutex
	handle   Model
	lastUsed time.Time

	now      func() time.Time
	reapStop chan struct{}
	reapDone chan struct{}
}

func NewWorker(cfg config.GeneratorConfig, sched config.SchedulerConfig, factory Factory, logger *slog.Logger) *Worker {
	meter := otel.Meter("murmur/generator")
	latency, err := meter.Float64Histogram("murmur_generate_duration_seconds",
		metric.WithDescription("Wall-clock generation latency"))
	if err != nil {
		logger.Warn("latency histogram unavailable", slog.String("error", err.Error()))
	}

	w := &Worker{
		cfg:      cfg,
		sched:    sched,
		factory:  factory,
		logger:   logger.With(slog.String("component", "generator-worker")),
		latency:  latency,
		now:      time.Now,
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	go w.reapIdle()
	return w
}

// Generate builds the prompt, runs the model once and extracts the
// completion after the response delimiter.
func (w *Worker) Generate(ctx context.Context, instruction, input string, s Sampling) (string, error) {
	if instruction == "" {
		return "", fmt.Errorf("instruction must not be empty")
	}
	if err := s.validate(); err != nil {
		return "", err
	}
	start := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.handle == nil {
		if err := w.acquireLocked(ctx); err != nil {
			return "", err
		}
	}

	prompt := BuildPrompt(instruction, input)
	output, err := w.handle.Generate(ctx, prompt, s)
	w.lastUsed = w.now()
	if err != nil {
		var infErr *InferenceError
		if !errors.As(err, &infErr) {
			err = &InferenceError{Err: err}
		}
		return "", err
	}

	text, err := ParseResponse(output)
	if err != nil {
		return "", err
	}

	elapsed := w.now().Sub(start)
	if w.latency != nil {
		w.latency.Record(ctx, elapsed.Seconds())
	}
	w.logger.Info("generated completion",
		slog.Duration("latency", elapsed),
		slog.Int("prompt_chars", len(prompt)),
		slog.Int("completion_chars", len(text)))
	return text, nil
}

func (w *Worker) acquireLocked(ctx context.Context) error {
	start := w.now()
	handle, err := w.factory(ctx)
	if err != nil {
		var acqErr *AcquisitionError
		if !errors.As(err, &acqErr) {
			err = &AcquisitionError{Model: w.cfg.BaseModel, Err: err}
		}
		return err
	}
	w.handle = handle
	w.lastUsed = w.now()
	w.logger.Info("generation model acquired",
		slog.String("base_model", w.cfg.BaseModel),
		slog.String("adapter", w.cfg.AdapterModel),
		slog.Duration("cold_start", w.now().Sub(start)))
	return nil
}

// Model reports the configured base checkpoint identifier.
func (w *Worker) Model() string { return w.cfg.BaseModel }

func (s Sampling) validate() error {
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature %g out of range [0, 2]", s.Temperature)
	}
	if s.TopP <= 0 || s.TopP > 1 {
		return fmt.Errorf("top_p %g out of range (0, 1]", s.TopP)
	}
	if s.TopK < 0 {
		return fmt.Errorf("top_k %d must be >= 0", s.TopK)
	}
	if s.NumBeams < 1 {
		return fmt.Errorf("num_beams %d must be >= 1", s.NumBeams)
	}
	if s.MaxNewTokens <= 0 || s.MaxNewTokens > 4096 {
		return fmt.Errorf("max_new_tokens %d out of range (0, 4096]", s.MaxNewTokens)
	}
	return nil
}

func (w *Worker) reapIdle() {
	defer close(w.reapDone)
	interval := time.Duration(w.sched.IdleTimeoutS) * time.Second / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.reapStop:
			return
		case <-ticker.C:
			w.releaseIfIdle()
		}
	}
}

func (w *Worker) releaseIfIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handle == nil {
		return
	}
	idle := time.Duration(w.sched.IdleTimeoutS) * time.Second
	if w.now().Sub(w.lastUsed) < idle {
		return
	}
	w.releaseLocked()
}

func (w *Worker) releaseLocked() {
	if err := w.handle.Close(); err != nil {
		w.logger.Warn("failed to close generation model handle", slog.String("error", err.Error()))
	}
	w.handle = nil
	w.logger.Info("generation model handle released after idle period")
}

// Close stops the idle reaper and releases the handle.
func (w *Worker) Close() {
	close(w.reapStop)
	<-w.reapDone
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handle != nil {
		w.releaseLocked()
	}
}
