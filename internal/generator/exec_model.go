package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur-core/internal/config"
)

type execModel struct {
	cmd []string
	cfg config.GeneratorConfig
}

// execRequest is the JSON contract with the local model runner. Checkpoint
// pins and the token-id overrides ride along so the runner loads exactly the
// published weights this system was tuned against.
type execRequest struct {
	Prompt          string  `json:"prompt"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
	NumBeams        int     `json:"num_beams"`
	MaxNewTokens    int     `json:"max_new_tokens"`
	BaseModel       string  `json:"base_model"`
	BaseRevision    string  `json:"base_revision"`
	AdapterModel    string  `json:"adapter_model"`
	AdapterRevision string  `json:"adapter_revision"`
	PadTokenID      int     `json:"pad_token_id"`
	BosTokenID      int     `json:"bos_token_id"`
	EosTokenID      int     `json:"eos_token_id"`
}

type execResponse struct {
	Output string `json:"output"`
}

// NewExecFactory returns a Factory backed by an external generation runner.
func NewExecFactory(cfg config.GeneratorConfig) (Factory, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse generator command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("generator command is empty")
	}
	return func(_ context.Context) (Model, error) {
		return &execModel{cmd: args, cfg: cfg}, nil
	}, nil
}

func (m *execModel) Generate(ctx context.Context, prompt string, s Sampling) (string, error) {
	payload := execRequest{
		Prompt:          prompt,
		Temperature:     s.Temperature,
		TopP:            s.TopP,
		TopK:            s.TopK,
		NumBeams:        s.NumBeams,
		MaxNewTokens:    s.MaxNewTokens,
		BaseModel:       m.cfg.BaseModel,
		BaseRevision:    m.cfg.BaseRevision,
		AdapterModel:    m.cfg.AdapterModel,
		AdapterRevision: m.cfg.AdapterRevision,
		PadTokenID:      m.cfg.PadTokenID,
		BosTokenID:      m.cfg.BosTokenID,
		EosTokenID:      m.cfg.EosTokenID,
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	base := m.cmd[0]
	args := append([]string{}, m.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("generator command failed: %w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode generator response: %w", err)
	}
	return resp.Output, nil
}

func (m *execModel) Close() error { return nil }
