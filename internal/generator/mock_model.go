package generator

import (
	"context"
	"fmt"
	"strings"
)

type mockModel struct{}

// NewMockFactory returns a Factory producing canned completions, echoing the
// full decoded sequence the way a real checkpoint would.
func NewMockFactory() Factory {
	return func(_ context.Context) (Model, error) {
		return &mockModel{}, nil
	}
}

func (m *mockModel) Generate(_ context.Context, prompt string, s Sampling) (string, error) {
	instruction := "the request"
	if idx := strings.Index(prompt, "### Instruction:\n"); idx >= 0 {
		rest := prompt[idx+len("### Instruction:\n"):]
		if end := strings.Index(rest, "\n\n###"); end >= 0 {
			instruction = strings.TrimSpace(rest[:end])
		}
	}
	completion := fmt.Sprintf("[mock completion for %q, max %d tokens]</s>", instruction, s.MaxNewTokens)
	return prompt + completion, nil
}

func (m *mockModel) Close() error { return nil }
