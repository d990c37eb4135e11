// Package audio converts arbitrary browser-recorded audio blobs into the mono
// float32 sample stream the speech model consumes.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// Decoder shells out to ffmpeg to demux, down-mix and resample an input blob.
// The pipeline is deliberately two-stage: the container is first decoded to
// mono 32-bit float PCM at the intermediate rate, and that stream is then
// resampled to 16-bit integer PCM at the target rate. The speech model's
// reference decoding path works this way, and collapsing the stages into a
// single resample shifts the output numerics enough to matter.
type Decoder struct {
	binPath          string
	intermediateRate int
	targetRate       int
}

func NewDecoder(cfg config.DecoderConfig) *Decoder {
	return &Decoder{
		binPath:          cfg.BinPath,
		intermediateRate: cfg.IntermediateRate,
		targetRate:       cfg.TargetRate,
	}
}

// TargetRate reports the sample rate of buffers produced by Decode.
func (d *Decoder) TargetRate() int { return d.targetRate }

// Decode returns mono float32 samples at the target rate, normalized to
// [-1.0, 1.0). The blob is written to a temp file for the duration of the
// decode because ffmpeg needs a seekable input to probe the container.
func (d *Decoder) Decode(ctx context.Context, raw []byte) ([]float32, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Stage: StageProbe, Detail: "empty audio blob"}
	}

	file, err := os.CreateTemp("", "murmur_decode_*.bin")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(raw); err != nil {
		file.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	intermediate, err := d.decodeToFloat(ctx, file.Name())
	if err != nil {
		return nil, err
	}
	pcm, err := d.resampleToInt16(ctx, intermediate)
	if err != nil {
		return nil, err
	}
	return samplesFromPCM(pcm)
}

// decodeToFloat runs the first stage: auto-detected container in, raw mono
// pcm_f32le at the intermediate rate on stdout.
func (d *Decoder) decodeToFloat(ctx context.Context, path string) ([]byte, error) {
	args := []string{
		"-nostdin",
		"-threads", "0",
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.intermediateRate),
		"-",
	}
	return d.run(ctx, StageDecode, args, nil)
}

// resampleToInt16 runs the second stage: raw f32le at the intermediate rate on
// stdin, raw mono pcm_s16le at the target rate on stdout.
func (d *Decoder) resampleToInt16(ctx context.Context, intermediate []byte) ([]byte, error) {
	args := []string{
		"-threads", "0",
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.intermediateRate),
		"-i", "-",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.targetRate),
		"-",
	}
	return d.run(ctx, StageResample, args, intermediate)
}

func (d *Decoder) run(ctx context.Context, stage string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.binPath, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	if err := cmd.Run(); err != nil {
		return nil, &DecodeError{Stage: stage, Err: err, Stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

// samplesFromPCM converts little-endian signed 16-bit PCM to float32 in
// [-1.0, 1.0) by dividing each sample by 32768.0.
func samplesFromPCM(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, &DecodeError{Stage: StageResample, Detail: "pcm output not 16-bit aligned"}
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples, nil
}
