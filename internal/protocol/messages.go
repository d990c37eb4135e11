package protocol

import "time"

// Bus subjects. Workers subscribe on queue groups so an external NATS cluster
// can fan requests out across independently scheduled worker instances.
const (
	SubjectTranscribe = "voice.transcribe"
	SubjectGenerate   = "voice.generate"

	QueueTranscribers = "transcribers"
	QueueGenerators   = "generators"

	// HeaderRequestID carries the gateway-assigned request id on transcribe
	// requests, whose payload is the raw audio blob rather than JSON.
	HeaderRequestID = "Murmur-Request-Id"
)

// TranscribeReply is the worker's answer to a transcription request.
type TranscribeReply struct {
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Segments  []Segment `json:"segments,omitempty"`
	Model     string    `json:"model,omitempty"`
	Device    string    `json:"device,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Segment carries optional per-span timing metadata from the speech model.
type Segment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// GenerateRequest asks the generation worker for a single-turn completion.
// Sampling fields are pointers so the worker can tell "absent" from zero and
// fall back to configured defaults.
type GenerateRequest struct {
	RequestID   string   `json:"request_id"`
	Instruction string   `json:"instruction"`
	Input       string   `json:"input,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	NumBeams    *int     `json:"num_beams,omitempty"`
	MaxTokens   *int     `json:"max_new_tokens,omitempty"`
}

// GenerateReply is the worker's answer to a generation request.
type GenerateReply struct {
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Model     string    `json:"model,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error kinds surfaced in replies so the gateway can map failures without
// parsing error strings.
const (
	ErrKindDecode      = "decode"
	ErrKindAcquisition = "acquisition"
	ErrKindInference   = "inference"
	ErrKindMalformed   = "malformed_output"
	ErrKindBadRequest  = "bad_request"
	ErrKindInternal    = "internal"
)
