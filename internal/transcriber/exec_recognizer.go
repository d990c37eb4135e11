package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur-core/internal/config"
)

type execRecognizer struct {
	cmd    []string
	cfg    config.TranscriberConfig
	device string
}

type execResult struct {
	Text     string        `json:"text"`
	Language string        `json:"language"`
	Segments []execSegment `json:"segments,omitempty"`
}

type execSegment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// NewExecFactory returns a Factory backed by an external recognizer CLI. The
// command line is parsed eagerly so a bad configuration fails at startup, but
// the handle itself is only acquired on first use.
func NewExecFactory(cfg config.TranscriberConfig) (Factory, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcriber command is empty")
	}
	return func(_ context.Context, device string) (Recognizer, error) {
		if cfg.ModelPath != "" {
			if _, err := os.Stat(cfg.ModelPath); err != nil {
				return nil, &AcquisitionError{Model: cfg.Model, Err: err}
			}
		}
		return &execRecognizer{cmd: args, cfg: cfg, device: device}, nil
	}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts InferenceOptions) (Result, error) {
	file, err := os.CreateTemp("", "murmur_asr_*.wav")
	if err != nil {
		return Result{}, &InferenceError{Err: fmt.Errorf("temp file: %w", err)}
	}
	defer os.Remove(file.Name())

	if err := writeSamplesToWav(file, samples, sampleRate); err != nil {
		file.Close()
		return Result{}, &InferenceError{Err: err}
	}
	if err := file.Close(); err != nil {
		return Result{}, &InferenceError{Err: err}
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	cmdArgs = append(cmdArgs, "--language", opts.Language)
	cmdArgs = append(cmdArgs, "--device", r.device)
	if opts.HalfPrecision {
		cmdArgs = append(cmdArgs, "--fp16")
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, &InferenceError{Err: fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())}
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, &InferenceError{Err: fmt.Errorf("decode recognizer response: %w", err)}
	}

	result := Result{Text: resp.Text, Language: resp.Language}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, Segment(seg))
	}
	return result, nil
}

func (r *execRecognizer) Close() error { return nil }

// writeSamplesToWav hands float32 samples to the recognizer CLI as a 16-bit
// mono WAV, clamping at the int16 boundaries.
func writeSamplesToWav(file *os.File, samples []float32, sampleRate int) error {
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, len(samples)),
	}
	for i, s := range samples {
		v := int(s * 32768.0)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		buffer.Data[i] = v
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
