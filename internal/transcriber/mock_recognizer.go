package transcriber

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

// NewMockFactory returns a Factory producing a recognizer that reports buffer
// shape instead of real text. Useful for wiring checks without model weights.
func NewMockFactory() Factory {
	return func(_ context.Context, _ string) (Recognizer, error) {
		return &mockRecognizer{}, nil
	}
}

func (m *mockRecognizer) Transcribe(_ context.Context, samples []float32, sampleRate int, opts InferenceOptions) (Result, error) {
	return Result{
		Text:     fmt.Sprintf("[transcript lang=%s samples=%d]", opts.Language, len(samples)),
		Language: opts.Language,
		Segments: []Segment{{
			StartMS: 0,
			EndMS:   int64(len(samples)) * 1000 / int64(sampleRate),
			Text:    fmt.Sprintf("[transcript lang=%s samples=%d]", opts.Language, len(samples)),
		}},
	}, nil
}

func (m *mockRecognizer) Close() error { return nil }
