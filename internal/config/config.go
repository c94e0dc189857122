// Package config holds environment configuration, the YAML training config,
// and logger setup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider identifies an encoder backend.
type Provider string

const (
	// ProviderAdapter uses the token-level encoder service and fine-tunes
	// the in-process adapter layers on top of it.
	ProviderAdapter Provider = "adapter"

	// ProviderOllama uses a frozen sentence-level embedding model served by
	// Ollama (no fine-tuning of the encoder).
	ProviderOllama Provider = "ollama"

	// ProviderOpenAI uses frozen OpenAI embeddings (no fine-tuning).
	ProviderOpenAI Provider = "openai"
)

// Config holds environment-driven settings.
type Config struct {
	// Encoder service
	EncoderURL   string
	EncoderModel string
	Provider     Provider

	// Frozen-backend providers
	OllamaHost   string
	OpenAIAPIKey string

	// Artifacts
	CheckpointDir string
	RunDBPath     string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		EncoderURL:   getEnv("SASKANA_ENCODER_URL", "http://localhost:8090"),
		EncoderModel: getEnv("SASKANA_ENCODER_MODEL", "ltg-bert-base"),
		Provider:     Provider(getEnv("SASKANA_ENCODER_PROVIDER", string(ProviderAdapter))),

		OllamaHost:   getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),

		CheckpointDir: getEnv("SASKANA_CHECKPOINT_DIR", "checkpoints"),
		RunDBPath:     getEnv("SASKANA_RUN_DB", "runs.db"),

		LogFile:  getEnv("SASKANA_LOG_FILE", "saskana.log"),
		LogLevel: parseLogLevel(getEnv("SASKANA_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Training holds the hyperparameters of a training run, read from a YAML
// file. Unset fields keep the DefaultTraining values.
type Training struct {
	// Shared
	Dim       int     `yaml:"dim"`
	MaxTokens int     `yaml:"max_tokens"`
	Pooling   string  `yaml:"pooling"` // "mean" or "first"
	Dropout   float64 `yaml:"dropout"`
	LR        float64 `yaml:"learning_rate"`
	Decay     float64 `yaml:"weight_decay"`
	Epochs    int     `yaml:"epochs"`
	Seed      int64   `yaml:"seed"`
	ValFrac   float64 `yaml:"val_fraction"`
	AdapterFF int     `yaml:"adapter_ff_dim"`
	Heads     int     `yaml:"heads"`

	// Pairwise scorer (LCD)
	ScorerHidden  int     `yaml:"scorer_hidden"`
	Margin        float64 `yaml:"margin"`
	UpperBound    float64 `yaml:"upper_bound"`
	LowerBound    float64 `yaml:"lower_bound"`
	LambdaUpper   float64 `yaml:"lambda_upper"`
	LambdaLower   float64 `yaml:"lambda_lower"`
	LCDAdapterTop int     `yaml:"lcd_adapter_layers"`

	// Document classifier (HT)
	MaxUtterances int `yaml:"max_utterances"`
	DocLayers     int `yaml:"doc_layers"`
	DocFF         int `yaml:"doc_ff_dim"`
	DocHidden     int `yaml:"doc_hidden"`
	BatchSize     int `yaml:"batch_size"`
	HTAdapterTop  int `yaml:"ht_adapter_layers"`
}

// DefaultTraining returns the hyperparameters used in the reference runs.
func DefaultTraining() Training {
	return Training{
		Dim:       768,
		MaxTokens: 128,
		Pooling:   "mean",
		Dropout:   0.1,
		LR:        2e-5,
		Decay:     0.01,
		Epochs:    10,
		Seed:      42,
		ValFrac:   0.1,
		AdapterFF: 3072,
		Heads:     8,

		ScorerHidden:  500,
		Margin:        10,
		UpperBound:    10,
		LowerBound:    0,
		LambdaUpper:   1,
		LambdaLower:   1,
		LCDAdapterTop: 4,

		MaxUtterances: 32,
		DocLayers:     2,
		DocFF:         2048,
		DocHidden:     256,
		BatchSize:     16,
		HTAdapterTop:  2,
	}
}

// LoadTraining reads a YAML training config over the defaults. An empty
// path returns the defaults unchanged.
func LoadTraining(path string) (Training, error) {
	cfg := DefaultTraining()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Training{}, fmt.Errorf("read training config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Training{}, fmt.Errorf("parse training config %q: %w", path, err)
	}
	if cfg.Pooling != "mean" && cfg.Pooling != "first" {
		return Training{}, fmt.Errorf("training config: unknown pooling %q", cfg.Pooling)
	}
	return cfg, nil
}
