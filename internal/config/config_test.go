package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"EMA_CONFIG", "EMA_ROOT", "EMA_BASE_URL", "EMA_MODEL", "DEEPSEEK_API_KEY", "OPENAI_API_KEY",
		"EMA_RULE", "EMA_STORY", "EMA_AUTO_SAVE", "EMA_NARRATION", "EMA_SPEECH_ENGINE",
		"EMA_AUDIO_BACKEND", "AWS_REGION", "DEEPGRAM_API_KEY",
	} {
		// Setenv restores the variable on cleanup, unsetting keeps .env
		// files free to fill it in.
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.Turn.DrainPeriod != 33*time.Millisecond || cfg.Turn.DrainBatchBytes != 6000 {
		t.Fatalf("unexpected drain defaults: %+v", cfg.Turn)
	}
	if cfg.Narration.Enabled || !cfg.Session.AutoSave {
		t.Fatalf("expected narration off and auto-save on by default")
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ema.yaml")
	content := `
llm:
  model: file-model
  temperature: 0.5
turn:
  drain_period: 50ms
narration:
  engine: deepgram
  rate: 150
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("EMA_MODEL", "env-model")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("EMA_NARRATION", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Model != "env-model" {
		t.Fatalf("expected environment to override the file, got %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.5 || cfg.Turn.DrainPeriod != 50*time.Millisecond {
		t.Fatalf("expected file values to be kept, got %+v %+v", cfg.LLM, cfg.Turn)
	}
	if cfg.Turn.DrainBatchBytes != 6000 {
		t.Fatalf("expected untouched values to keep their defaults, got %d", cfg.Turn.DrainBatchBytes)
	}
	if cfg.LLM.APIKey != "sk-env" || !cfg.Narration.Enabled || cfg.Narration.Engine != SpeechEngineDeepgram {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoad_DeepseekKeyWinsOverOpenAIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-deepseek")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "sk-deepseek" {
		t.Fatalf("expected deepseek key, got %q", cfg.LLM.APIKey)
	}
}

func TestLoad_ReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("EMA_STORY=manor\nEMA_RULE=DND\n"), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("EMA_RULE", "COC")

	cfg, err := Load("", envFile, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Story != "manor" {
		t.Fatalf("expected story from .env, got %q", cfg.Session.Story)
	}
	if cfg.Session.Rule != "COC" {
		t.Fatalf("expected the environment to win over .env, got %q", cfg.Session.Rule)
	}
}

func TestLoad_RejectsBadBoolean(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMA_AUTO_SAVE", "sometimes")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "EMA_AUTO_SAVE") {
		t.Fatalf("expected a parse error naming the variable, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.LLM.Model = ""
	cfg.Turn.DrainBatchBytes = 0
	cfg.Narration.Engine = "espeak"
	cfg.Narration.SampleRate = 44100

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation to fail")
	}
	for _, part := range []string{"llm.model", "drain_batch_bytes", "narration.engine", "sample_rate"} {
		if !strings.Contains(err.Error(), part) {
			t.Fatalf("expected error to mention %s, got %v", part, err)
		}
	}
}
