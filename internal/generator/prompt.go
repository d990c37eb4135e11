package generator

import (
	"fmt"
	"strings"
)

// ResponseDelimiter separates the instruction template from the completion in
// the decoded output. The model was tuned on this exact marker.
const ResponseDelimiter = "### Response:"

const (
	promptWithInput = `Below is an instruction that describes a task, paired with an input that provides further context. Write a response that appropriately completes the request.

### Instruction:
%s

### Input:
%s

### Response:
`
	promptWithoutInput = `Below is an instruction that describes a task. Write a response that appropriately completes the request.

### Instruction:
%s

### Response:
`
)

// BuildPrompt renders the instruction template. Deterministic: the same
// (instruction, input) pair always yields the same prompt.
func BuildPrompt(instruction, input string) string {
	if input != "" {
		return fmt.Sprintf(promptWithInput, instruction, input)
	}
	return fmt.Sprintf(promptWithoutInput, instruction)
}

// ParseResponse extracts the completion: everything after the response
// delimiter, stripped of a trailing end-of-sequence marker and surrounding
// whitespace. The decoded sequence includes the prompt, so a well-formed
// output always contains the delimiter.
func ParseResponse(output string) (string, error) {
	idx := strings.Index(output, ResponseDelimiter)
	if idx < 0 {
		return "", &MalformedOutputError{Output: output}
	}
	text := output[idx+len(ResponseDelimiter):]
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "</s>")
	return strings.TrimSpace(text), nil
}
