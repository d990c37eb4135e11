package generator

import "fmt"

// AcquisitionError reports a failed load of the base model or its adapter
// overlay at cold start.
type AcquisitionError struct {
	Model string
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire generation model %s: %v", e.Model, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// InferenceError reports a model failure during generation.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("generation inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// MalformedOutputError means the decoded output did not contain the response
// delimiter, so no completion can be extracted. Raised as a distinct
// condition rather than an indexing fault.
type MalformedOutputError struct {
	Output string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("model output missing response delimiter %q", ResponseDelimiter)
}
