package transcriber

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Worker owns the speech model handle for one warm lifetime. The model is
// acquired lazily on first call, pinned to one compute device, serialized per
// handle, and released again after the scheduler's idle period with no call
// in flight.
type Worker struct {
	cfg     config.TranscriberConfig
	sched   config.SchedulerConfig
	decoder SampleDecoder
	factory Factory
	logger  *slog.Logger
	latency metric.Float64Histogram

	// mu serializes inference and guards the handle lifecycle. Holding it for
	// the whole call also means the idle reaper can never tear down a handle
	// with work in flight.
	mu       sync.Mutex
	handle   Recognizer
	device   string
	lastUsed time.Time

	now      func() time.Time
	reapStop chan struct{}
	reapDone chan struct{}
}

func NewWorker(cfg config.TranscriberConfig, sched config.SchedulerConfig, decoder SampleDecoder, factory Factory, logger *slog.Logger) *Worker {
	meter := otel.Meter("murmur/transcriber")
	latency, err := meter.Float64Histogram("murmur_transcribe_duration_seconds",
		metric.WithDescription("Wall-clock transcription latency from bytes in to text out"))
	if err != nil {
		logger.Warn("latency histogram unavailable", slog.String("error", err.Error()))
	}

	w := &Worker{
		cfg:      cfg,
		sched:    sched,
		decoder:  decoder,
		factory:  factory,
		logger:   logger.With(slog.String("component", "transcriber-worker")),
		latency:  latency,
		now:      time.Now,
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	go w.reapIdle()
	return w
}

// TranscribeSegment decodes the blob and runs the speech model on it. Decode
// failures propagate unmodified and never touch the model.
func (w *Worker) TranscribeSegment(ctx context.Context, raw []byte) (Result, error) {
	start := w.now()

	samples, err := w.decoder.Decode(ctx, raw)
	if err != nil {
		return Result{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.handle == nil {
		if err := w.acquireLocked(ctx); err != nil {
			return Result{}, err
		}
	}

	opts := InferenceOptions{
		Language:      w.cfg.Language,
		HalfPrecision: w.device == DeviceCUDA,
	}
	result, err := w.handle.Transcribe(ctx, samples, w.decoder.TargetRate(), opts)
	w.lastUsed = w.now()
	if err != nil {
		var infErr *InferenceError
		if !errors.As(err, &infErr) {
			err = &InferenceError{Err: err}
		}
		return Result{}, err
	}

	elapsed := w.now().Sub(start)
	if w.latency != nil {
		w.latency.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("device", w.device)))
	}
	w.logger.Info("transcribed segment",
		slog.Duration("latency", elapsed),
		slog.Int("samples", len(samples)),
		slog.String("device", w.device))
	return result, nil
}

func (w *Worker) acquireLocked(ctx context.Context) error {
	device := PickDevice(w.cfg.Device)
	start := w.now()
	handle, err := w.factory(ctx, device)
	if err != nil {
		var acqErr *AcquisitionError
		if !errors.As(err, &acqErr) {
			err = &AcquisitionError{Model: w.cfg.Model, Err: err}
		}
		return err
	}
	w.handle = handle
	w.device = device
	w.lastUsed = w.now()
	w.logger.Info("speech model acquired",
		slog.String("model", w.cfg.Model),
		slog.String("revision", w.cfg.Revision),
		slog.String("device", device),
		slog.Duration("cold_start", w.now().Sub(start)))
	return nil
}

// Device reports the compute device of the current warm handle, empty when
// cold.
func (w *Worker) Device() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handle == nil {
		return ""
	}
	return w.device
}

// Model reports the configured checkpoint identifier.
func (w *Worker) Model() string { return w.cfg.Model }

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
		w.logger.Warn("failed to close speech model handle", slog.String("error", err.Error()))
	}
	w.handle = nil
	w.device = ""
	w.logger.Info("speech model handle released after idle period")
}

// Close stops the idle reaper and releases the handle, waiting for any call
// in flight to finish first.
func (w *Worker) Close() {
	close(w.reapStop)
	<-w.reapDone
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handle != nil {
		w.releaseLocked()
	}
}
