package generator

import (
	"context"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/protocol"
)

// Sampling is the resolved sampling configuration for a single generation.
type Sampling struct {
	Temperature  float64
	TopP         float64
	TopK         int
	NumBeams     int
	MaxNewTokens int
}

// Model is the loaded causal LM plus its adaptation overlay: an opaque
// function from a prompt to the full decoded output sequence (prompt
// included). Implementations are not assumed reentrant.
type Model interface {
	Generate(ctx context.Context, prompt string, s Sampling) (string, error)
	Close() error
}

// Factory acquires a model handle. This is where the base checkpoint and the
// adapter overlay are loaded and the tokenizer special-token ids normalized.
type Factory func(ctx context.Context) (Model, error)

// SamplingFromConfig builds the default sampling parameters.
func SamplingFromConfig(cfg config.SamplingConfig) Sampling {
	return Sampling{
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
		TopK:         cfg.TopK,
		NumBeams:     cfg.NumBeams,
		MaxNewTokens: cfg.MaxNewTokens,
	}
}

// ResolveSampling overlays per-request values onto configured defaults.
func ResolveSampling(cfg config.SamplingConfig, req protocol.GenerateRequest) Sampling {
	s := SamplingFromConfig(cfg)
	if req.Temperature != nil {
		s.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		s.TopP = *req.TopP
	}
	if req.TopK != nil {
		s.TopK = *req.TopK
	}
	if req.NumBeams != nil {
		s.NumBeams = *req.NumBeams
	}
	if req.MaxTokens != nil {
		s.MaxNewTokens = *req.MaxTokens
	}
	return s
}
