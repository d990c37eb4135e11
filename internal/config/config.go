package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type DecoderConfig struct {
	BinPath          string `yaml:"bin_path"`
	IntermediateRate int    `yaml:"intermediate_rate"`
	TargetRate       int    `yaml:"target_rate"`
}

type TranscriberConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	Model     string `yaml:"model"`
	Revision  string `yaml:"revision"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	Device    string `yaml:"device"` // auto, cuda, cpu
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SamplingConfig struct {
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	TopK         int     `yaml:"top_k"`
	NumBeams     int     `yaml:"num_beams"`
	MaxNewTokens int     `yaml:"max_new_tokens"`
}

type GeneratorConfig struct {
	Enabled         bool           `yaml:"enabled"`
	Mode            string         `yaml:"mode"` // mock, exec, openai
	Command         string         `yaml:"command"`
	BaseModel       string         `yaml:"base_model"`
	BaseRevision    string         `yaml:"base_revision"`
	AdapterModel    string         `yaml:"adapter_model"`
	AdapterRevision string         `yaml:"adapter_revision"`
	PadTokenID      int            `yaml:"pad_token_id"`
	BosTokenID      int            `yaml:"bos_token_id"`
	EosTokenID      int            `yaml:"eos_token_id"`
	OpenAIBaseURL   string         `yaml:"openai_base_url"`
	OpenAIAPIKey    string         `yaml:"openai_api_key"`
	OpenAIModel     string         `yaml:"openai_model"`
	Sampling        SamplingConfig `yaml:"sampling"`
	TimeoutMS       int            `yaml:"timeout_ms"`
}

type GatewayConfig struct {
	Enabled          bool   `yaml:"enabled"`
	StaticDir        string `yaml:"static_dir"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
	MaxBodyBytes     int64  `yaml:"max_body_bytes"`
}

// SchedulerConfig captures the contract handed to the deployment layer: which
// GPU class worker calls are bound to, and how long a warm worker may sit idle
// before its model handle is released.
type SchedulerConfig struct {
	GPUClass     string `yaml:"gpu_class"`
	IdleTimeoutS int    `yaml:"idle_timeout_s"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxUtterances int    `yaml:"max_utterances"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Decoder     DecoderConfig     `yaml:"decoder"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Store       StoreConfig       `yaml:"store"`
}

func Default() Config {
	return Config{
		ServiceName: "murmur-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Decoder: DecoderConfig{
			BinPath:          "ffmpeg",
			IntermediateRate: 48000,
			TargetRate:       16000,
		},
		Transcriber: TranscriberConfig{
			Enabled:   true,
			Mode:      "mock",
			Model:     "base.en",
			Revision:  "v20230314",
			Language:  "en",
			Device:    "auto",
			TimeoutMS: 45000,
		},
		Generator: GeneratorConfig{
			Enabled:         true,
			Mode:            "mock",
			BaseModel:       "decapoda-research/llama-7b-hf",
			BaseRevision:    "main",
			AdapterModel:    "tloen/alpaca-lora-7b",
			AdapterRevision: "main",
			// Known-broken special token ids in the pinned base checkpoint;
			// generation degrades silently without these exact values.
			PadTokenID: 0,
			BosTokenID: 1,
			EosTokenID: 2,
			Sampling: SamplingConfig{
				Temperature:  0.1,
				TopP:         0.75,
				TopK:         40,
				NumBeams:     4,
				MaxNewTokens: 128,
			},
			TimeoutMS: 60000,
		},
		Gateway: GatewayConfig{
			Enabled:          true,
			StaticDir:        "./web",
			RequestTimeoutMS: 60000,
			MaxBodyBytes:     32 << 20,
		},
		Scheduler: SchedulerConfig{
			GPUClass:     "A10G",
			IdleTimeoutS: 180,
		},
		Store: StoreConfig{
			Path:          "./data/murmur-utterances.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxUtterances: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "MURMUR_SERVICE_NAME")
	overrideString(&cfg.Environment, "MURMUR_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MURMUR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMUR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Decoder.BinPath, "MURMUR_DECODER_BIN_PATH")
	overrideInt(&cfg.Decoder.IntermediateRate, "MURMUR_DECODER_INTERMEDIATE_RATE")
	overrideInt(&cfg.Decoder.TargetRate, "MURMUR_DECODER_TARGET_RATE")
	overrideBool(&cfg.Transcriber.Enabled, "MURMUR_TRANSCRIBER_ENABLED")
	overrideString(&cfg.Transcriber.Mode, "MURMUR_TRANSCRIBER_MODE")
	overrideString(&cfg.Transcriber.Command, "MURMUR_TRANSCRIBER_COMMAND")
	overrideString(&cfg.Transcriber.Model, "MURMUR_TRANSCRIBER_MODEL")
	overrideString(&cfg.Transcriber.Revision, "MURMUR_TRANSCRIBER_REVISION")
	overrideString(&cfg.Transcriber.ModelPath, "MURMUR_TRANSCRIBER_MODEL_PATH")
	overrideString(&cfg.Transcriber.Language, "MURMUR_TRANSCRIBER_LANGUAGE")
	overrideString(&cfg.Transcriber.Device, "MURMUR_TRANSCRIBER_DEVICE")
	overrideInt(&cfg.Transcriber.TimeoutMS, "MURMUR_TRANSCRIBER_TIMEOUT_MS")
	overrideBool(&cfg.Generator.Enabled, "MURMUR_GENERATOR_ENABLED")
	overrideString(&cfg.Generator.Mode, "MURMUR_GENERATOR_MODE")
	overrideString(&cfg.Generator.Command, "MURMUR_GENERATOR_COMMAND")
	overrideString(&cfg.Generator.BaseModel, "MURMUR_GENERATOR_BASE_MODEL")
	overrideString(&cfg.Generator.BaseRevision, "MURMUR_GENERATOR_BASE_REVISION")
	overrideString(&cfg.Generator.AdapterModel, "MURMUR_GENERATOR_ADAPTER_MODEL")
	overrideString(&cfg.Generator.AdapterRevision, "MURMUR_GENERATOR_ADAPTER_REVISION")
	overrideString(&cfg.Generator.OpenAIBaseURL, "MURMUR_GENERATOR_OPENAI_BASE_URL")
	overrideString(&cfg.Generator.OpenAIAPIKey, "MURMUR_GENERATOR_OPENAI_API_KEY")
	overrideString(&cfg.Generator.OpenAIModel, "MURMUR_GENERATOR_OPENAI_MODEL")
	overrideFloat(&cfg.Generator.Sampling.Temperature, "MURMUR_GENERATOR_TEMPERATURE")
	overrideFloat(&cfg.Generator.Sampling.TopP, "MURMUR_GENERATOR_TOP_P")
	overrideInt(&cfg.Generator.Sampling.TopK, "MURMUR_GENERATOR_TOP_K")
	overrideInt(&cfg.Generator.Sampling.NumBeams, "MURMUR_GENERATOR_NUM_BEAMS")
	overrideInt(&cfg.Generator.Sampling.MaxNewTokens, "MURMUR_GENERATOR_MAX_NEW_TOKENS")
	overrideInt(&cfg.Generator.TimeoutMS, "MURMUR_GENERATOR_TIMEOUT_MS")
	overrideBool(&cfg.Gateway.Enabled, "MURMUR_GATEWAY_ENABLED")
	overrideString(&cfg.Gateway.StaticDir, "MURMUR_GATEWAY_STATIC_DIR")
	overrideInt(&cfg.Gateway.RequestTimeoutMS, "MURMUR_GATEWAY_REQUEST_TIMEOUT_MS")
	overrideInt64(&cfg.Gateway.MaxBodyBytes, "MURMUR_GATEWAY_MAX_BODY_BYTES")
	overrideString(&cfg.Scheduler.GPUClass, "MURMUR_SCHEDULER_GPU_CLASS")
	overrideInt(&cfg.Scheduler.IdleTimeoutS, "MURMUR_SCHEDULER_IDLE_TIMEOUT_S")
	overrideString(&cfg.Store.Path, "MURMUR_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "MURMUR_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "MURMUR_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxUtterances, "MURMUR_STORE_MAX_UTTERANCES")
	overrideBool(&cfg.Store.VacuumOnStart, "MURMUR_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Decoder.BinPath == "" {
		return errors.New("decoder.bin_path must not be empty")
	}
	if cfg.Decoder.IntermediateRate <= 0 {
		return errors.New("decoder.intermediate_rate must be positive")
	}
	if cfg.Decoder.TargetRate <= 0 {
		return errors.New("decoder.target_rate must be positive")
	}
	if cfg.Transcriber.Enabled {
		switch cfg.Transcriber.Mode {
		case "mock", "exec":
		default:
			return errors.New("transcriber.mode must be one of mock|exec")
		}
		if cfg.Transcriber.Mode == "exec" && cfg.Transcriber.Command == "" {
			return errors.New("transcriber.command must be set when mode=exec")
		}
		if cfg.Transcriber.Language == "" {
			return errors.New("transcriber.language must not be empty")
		}
		switch cfg.Transcriber.Device {
		case "auto", "cuda", "cpu":
		default:
			return errors.New("transcriber.device must be one of auto|cuda|cpu")
		}
	}
	if cfg.Generator.Enabled {
		switch cfg.Generator.Mode {
		case "mock", "exec", "openai":
		default:
			return errors.New("generator.mode must be one of mock|exec|openai")
		}
		if cfg.Generator.Mode == "exec" && cfg.Generator.Command == "" {
			return errors.New("generator.command must be set when mode=exec")
		}
		if cfg.Generator.Mode == "openai" && cfg.Generator.OpenAIModel == "" {
			return errors.New("generator.openai_model must be set when mode=openai")
		}
		if err := validateSampling(cfg.Generator.Sampling); err != nil {
			return err
		}
	}
	if cfg.Gateway.Enabled {
		if cfg.Gateway.RequestTimeoutMS <= 0 {
			return errors.New("gateway.request_timeout_ms must be positive")
		}
		if cfg.Gateway.MaxBodyBytes <= 0 {
			return errors.New("gateway.max_body_bytes must be positive")
		}
	}
	if cfg.Scheduler.IdleTimeoutS <= 0 {
		return errors.New("scheduler.idle_timeout_s must be positive")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	return nil
}

func validateSampling(s SamplingConfig) error {
	if s.Temperature < 0 || s.Temperature > 2 {
		return errors.New("generator.sampling.temperature must be in [0, 2]")
	}
	if s.TopP <= 0 || s.TopP > 1 {
		return errors.New("generator.sampling.top_p must be in (0, 1]")
	}
	if s.TopK < 0 {
		return errors.New("generator.sampling.top_k must be >= 0")
	}
	if s.NumBeams < 1 {
		return errors.New("generator.sampling.num_beams must be >= 1")
	}
	if s.MaxNewTokens <= 0 || s.MaxNewTokens > 4096 {
		return errors.New("generator.sampling.max_new_tokens must be in (0, 4096]")
	}
	return nil
}
