package transcriber

import "fmt"

// AcquisitionError reports a failed model load at cold start. The worker
// stays cold so the next call acquires fresh.
type AcquisitionError struct {
	Model string
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire speech model %s: %v", e.Model, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// InferenceError reports a model failure during transcription. It is never
// downgraded to an empty transcript.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("speech inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
