package transcriber

import (
	"context"
)

// Result captures speech model output for one utterance.
type Result struct {
	Text     string
	Language string
	Segments []Segment
}

// Segment is an optional timed span within a transcript.
type Segment struct {
	StartMS int64
	EndMS   int64
	Text    string
}

// InferenceOptions are fixed per call from worker config and device choice.
type InferenceOptions struct {
	Language string
	// HalfPrecision is only set when inference runs on a GPU; the CPU path
	// does not support fp16.
	HalfPrecision bool
}

// Recognizer is the loaded speech model: an opaque function from samples to
// text. Implementations are not assumed reentrant; the worker serializes
// access to a handle.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts InferenceOptions) (Result, error)
	Close() error
}

// Factory acquires a model handle for the given compute device. Acquisition
// is the expensive cold-start step and happens at most once per warm worker.
type Factory func(ctx context.Context, device string) (Recognizer, error)

// SampleDecoder turns a raw audio blob into mono float32 samples.
type SampleDecoder interface {
	Decode(ctx context.Context, raw []byte) ([]float32, error)
	TargetRate() int
}
