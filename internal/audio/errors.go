package audio

import (
	"fmt"
	"strings"
)

// Pipeline stages reported by DecodeError.
const (
	StageProbe    = "probe"
	StageDecode   = "decode"
	StageResample = "resample"
)

// DecodeError reports a failed transcode. Stderr holds the decoder's
// diagnostic output when a subprocess exited nonzero.
type DecodeError struct {
	Stage  string
	Detail string
	Err    error
	Stderr string
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("audio %s failed", e.Stage)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if diag := strings.TrimSpace(e.Stderr); diag != "" {
		msg += ": " + diag
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }
