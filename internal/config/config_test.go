package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SASKANA_ENCODER_URL", "")
	t.Setenv("SASKANA_ENCODER_MODEL", "")
	t.Setenv("SASKANA_ENCODER_PROVIDER", "")

	cfg := Load()
	if cfg.EncoderURL != "http://localhost:8090" {
		t.Errorf("EncoderURL = %q", cfg.EncoderURL)
	}
	if cfg.EncoderModel != "ltg-bert-base" {
		t.Errorf("EncoderModel = %q", cfg.EncoderModel)
	}
	if cfg.Provider != ProviderAdapter {
		t.Errorf("Provider = %q, want adapter", cfg.Provider)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SASKANA_ENCODER_URL", "http://encoder:9000")
	t.Setenv("SASKANA_ENCODER_PROVIDER", "ollama")
	t.Setenv("SASKANA_LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.EncoderURL != "http://encoder:9000" {
		t.Errorf("EncoderURL = %q", cfg.EncoderURL)
	}
	if cfg.Provider != ProviderOllama {
		t.Errorf("Provider = %q, want ollama", cfg.Provider)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoadTrainingDefaults(t *testing.T) {
	cfg, err := LoadTraining("")
	if err != nil {
		t.Fatalf("LoadTraining(\"\") error = %v", err)
	}
	if cfg.Dim != 768 || cfg.Epochs != 10 || cfg.Seed != 42 {
		t.Errorf("unexpected defaults: dim %d, epochs %d, seed %d", cfg.Dim, cfg.Epochs, cfg.Seed)
	}
	if cfg.Pooling != "mean" {
		t.Errorf("Pooling = %q, want mean", cfg.Pooling)
	}
}

func TestLoadTrainingOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	yaml := "epochs: 3\npooling: first\nlearning_rate: 0.001\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadTraining(path)
	if err != nil {
		t.Fatalf("LoadTraining() error = %v", err)
	}
	if cfg.Epochs != 3 {
		t.Errorf("Epochs = %d, want 3", cfg.Epochs)
	}
	if cfg.Pooling != "first" {
		t.Errorf("Pooling = %q, want first", cfg.Pooling)
	}
	if cfg.LR != 0.001 {
		t.Errorf("LR = %g, want 0.001", cfg.LR)
	}
	// Unset fields keep their defaults.
	if cfg.Dim != 768 {
		t.Errorf("Dim = %d, want default 768", cfg.Dim)
	}
}

func TestLoadTrainingRejectsBadPooling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	if err := os.WriteFile(path, []byte("pooling: cls\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTraining(path); err == nil {
		t.Error("LoadTraining() with unknown pooling should fail")
	}
}

func TestLoadTrainingMissingFile(t *testing.T) {
	if _, err := LoadTraining(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadTraining() on a missing file should fail")
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("epoch finished", "epoch", 3)

	if !strings.Contains(stderr.String(), "epoch finished") {
		t.Error("stderr output missing the message")
	}

	var entry map[string]any
	if err := json.Unmarshal(file.Bytes(), &entry); err != nil {
		t.Fatalf("file output is not JSON: %v", err)
	}
	if entry["msg"] != "epoch finished" {
		t.Errorf("file msg = %v", entry["msg"])
	}
	if entry["epoch"] != float64(3) {
		t.Errorf("file epoch = %v", entry["epoch"])
	}
}

func TestSetupLoggerWithWritersRespectsLevel(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelWarn)

	logger.Info("should be dropped")
	if stderr.Len() != 0 || file.Len() != 0 {
		t.Error("info record emitted despite warn level")
	}
}
