package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Decoder.TargetRate != 16000 {
		t.Fatalf("expected default target rate 16000, got %d", cfg.Decoder.TargetRate)
	}
	if cfg.Decoder.IntermediateRate != 48000 {
		t.Fatalf("expected default intermediate rate 48000, got %d", cfg.Decoder.IntermediateRate)
	}
	if cfg.Transcriber.Model != "base.en" {
		t.Fatalf("expected default speech model base.en, got %s", cfg.Transcriber.Model)
	}
	if cfg.Generator.PadTokenID != 0 || cfg.Generator.BosTokenID != 1 || cfg.Generator.EosTokenID != 2 {
		t.Fatalf("unexpected token id defaults: pad=%d bos=%d eos=%d",
			cfg.Generator.PadTokenID, cfg.Generator.BosTokenID, cfg.Generator.EosTokenID)
	}
	if cfg.Scheduler.IdleTimeoutS != 180 {
		t.Fatalf("expected idle timeout 180s, got %d", cfg.Scheduler.IdleTimeoutS)
	}
	if cfg.Store.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral store by default, got %s", cfg.Store.RetentionMode)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur.yaml")
	data := []byte(`
transcriber:
  mode: exec
  command: "whisper-cli --json"
  language: en
generator:
  mode: openai
  openai_model: gpt-4o-mini
scheduler:
  gpu_class: A100
  idle_timeout_s: 60
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcriber.Mode != "exec" || cfg.Transcriber.Command != "whisper-cli --json" {
		t.Fatalf("transcriber overrides not applied: %+v", cfg.Transcriber)
	}
	if cfg.Generator.Mode != "openai" || cfg.Generator.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("generator overrides not applied: %+v", cfg.Generator)
	}
	if cfg.Scheduler.GPUClass != "A100" || cfg.Scheduler.IdleTimeoutS != 60 {
		t.Fatalf("scheduler overrides not applied: %+v", cfg.Scheduler)
	}
	// Untouched sections keep defaults.
	if cfg.Decoder.BinPath != "ffmpeg" {
		t.Fatalf("expected default decoder bin, got %s", cfg.Decoder.BinPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_TRANSCRIBER_LANGUAGE", "de")
	t.Setenv("MURMUR_TRANSCRIBER_DEVICE", "cpu")
	t.Setenv("MURMUR_GENERATOR_MAX_NEW_TOKENS", "256")
	t.Setenv("MURMUR_GENERATOR_TEMPERATURE", "0.4")
	t.Setenv("MURMUR_SCHEDULER_IDLE_TIMEOUT_S", "300")
	t.Setenv("MURMUR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("MURMUR_BUS_EMBEDDED", "false")
	t.Setenv("MURMUR_GATEWAY_MAX_BODY_BYTES", "1048576")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcriber.Language != "de" {
		t.Fatalf("expected language override, got %s", cfg.Transcriber.Language)
	}
	if cfg.Transcriber.Device != "cpu" {
		t.Fatalf("expected device override, got %s", cfg.Transcriber.Device)
	}
	if cfg.Generator.Sampling.MaxNewTokens != 256 {
		t.Fatalf("expected max tokens override, got %d", cfg.Generator.Sampling.MaxNewTokens)
	}
	if cfg.Generator.Sampling.Temperature != 0.4 {
		t.Fatalf("expected temperature override, got %f", cfg.Generator.Sampling.Temperature)
	}
	if cfg.Scheduler.IdleTimeoutS != 300 {
		t.Fatalf("expected idle timeout override, got %d", cfg.Scheduler.IdleTimeoutS)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Gateway.MaxBodyBytes != 1048576 {
		t.Fatalf("expected max body bytes override, got %d", cfg.Gateway.MaxBodyBytes)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"exec transcriber without command", func(c *Config) {
			c.Transcriber.Mode = "exec"
			c.Transcriber.Command = ""
		}},
		{"bad device", func(c *Config) { c.Transcriber.Device = "tpu" }},
		{"openai generator without model", func(c *Config) {
			c.Generator.Mode = "openai"
			c.Generator.OpenAIModel = ""
		}},
		{"top_p out of range", func(c *Config) { c.Generator.Sampling.TopP = 1.5 }},
		{"zero beams", func(c *Config) { c.Generator.Sampling.NumBeams = 0 }},
		{"zero max body bytes", func(c *Config) { c.Gateway.MaxBodyBytes = 0 }},
		{"idle timeout", func(c *Config) { c.Scheduler.IdleTimeoutS = 0 }},
		{"retention mode", func(c *Config) { c.Store.RetentionMode = "forever" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
