// Package config loads the settings of the ema-tales binary.
//
// Values are resolved in order: built-in defaults, the YAML file named by the
// --config flag or EMA_CONFIG, variables from .env files, then the process
// environment. Flags applied by the caller win over all of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SpeechEnginePolly    = "polly"
	SpeechEngineDeepgram = "deepgram"

	AudioBackendMiniaudio = "miniaudio"
	AudioBackendPortaudio = "portaudio"
)

type Config struct {
	// Root is the project directory holding Gameplay, Log and Save. Empty
	// means it is discovered from the working directory.
	Root string `yaml:"root"`

	LLM       LLMConfig       `yaml:"llm"`
	Status    StatusConfig    `yaml:"status"`
	Turn      TurnConfig      `yaml:"turn"`
	Session   SessionConfig   `yaml:"session"`
	Narration NarrationConfig `yaml:"narration"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	// APIKey is usually left empty and taken from the environment or key.txt.
	APIKey string `yaml:"api_key"`
}

type StatusConfig struct {
	HistoryWindow int     `yaml:"history_window"`
	Temperature   float64 `yaml:"temperature"`
	StrictSchema  bool    `yaml:"strict_schema"`
}

type TurnConfig struct {
	DrainPeriod     time.Duration `yaml:"drain_period"`
	DrainBatchBytes int           `yaml:"drain_batch_bytes"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`
}

type SessionConfig struct {
	AutoSave bool   `yaml:"auto_save"`
	Rule     string `yaml:"rule"`
	Story    string `yaml:"story"`
}

type NarrationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Engine  string `yaml:"engine"`
	Audio   string `yaml:"audio"`
	// Rate is the speaking rate in words per minute.
	Rate       int            `yaml:"rate"`
	SampleRate int            `yaml:"sample_rate"`
	Polly      PollyConfig    `yaml:"polly"`
	Deepgram   DeepgramConfig `yaml:"deepgram"`
}

type PollyConfig struct {
	Region   string `yaml:"region"`
	VoiceID  string `yaml:"voice_id"`
	Engine   string `yaml:"engine"`
	Language string `yaml:"language"`
}

type DeepgramConfig struct {
	Voice  string `yaml:"voice"`
	APIKey string `yaml:"api_key"`
}

func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:     "https://api.deepseek.com",
			Model:       "deepseek-chat",
			Temperature: 1.0,
		},
		Status: StatusConfig{
			HistoryWindow: 4,
			Temperature:   0.7,
		},
		Turn: TurnConfig{
			DrainPeriod:     33 * time.Millisecond,
			DrainBatchBytes: 6000,
			FinalizeTimeout: time.Minute,
		},
		Session: SessionConfig{
			AutoSave: true,
		},
		Narration: NarrationConfig{
			Enabled:    false,
			Engine:     SpeechEnginePolly,
			Audio:      AudioBackendMiniaudio,
			Rate:       200,
			SampleRate: 16000,
			Polly: PollyConfig{
				Region:  "us-east-1",
				VoiceID: "Zhiyu",
				Engine:  "neural",
			},
		},
	}
}

// Load builds the configuration. path may be empty, in which case EMA_CONFIG
// is consulted and a missing variable means no file. envFiles that do not
// exist are skipped.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("EMA_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvironment(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(files []string) error {
	var existing []string
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvironment overrides file values with environment variables.
func (c *Config) applyEnvironment(lookup func(string) (string, bool)) error {
	str := func(target *string, names ...string) {
		for _, name := range names {
			if value, ok := lookup(name); ok && value != "" {
				*target = value
				return
			}
		}
	}
	var errs []error
	boolean := func(target *bool, name string) {
		if value, ok := lookup(name); ok && value != "" {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*target = parsed
		}
	}

	str(&c.Root, "EMA_ROOT")
	str(&c.LLM.BaseURL, "EMA_BASE_URL")
	str(&c.LLM.Model, "EMA_MODEL")
	str(&c.LLM.APIKey, "DEEPSEEK_API_KEY", "OPENAI_API_KEY")
	str(&c.Session.Rule, "EMA_RULE")
	str(&c.Session.Story, "EMA_STORY")
	boolean(&c.Session.AutoSave, "EMA_AUTO_SAVE")
	boolean(&c.Narration.Enabled, "EMA_NARRATION")
	str(&c.Narration.Engine, "EMA_SPEECH_ENGINE")
	str(&c.Narration.Audio, "EMA_AUDIO_BACKEND")
	str(&c.Narration.Polly.Region, "AWS_REGION")
	str(&c.Narration.Deepgram.APIKey, "DEEPGRAM_API_KEY")

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.BaseURL == "" {
		errs = append(errs, fmt.Errorf("llm.base_url is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature))
	}
	if c.Status.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("status.history_window must not be negative"))
	}
	if c.Turn.DrainPeriod <= 0 {
		errs = append(errs, fmt.Errorf("turn.drain_period must be positive"))
	}
	if c.Turn.DrainBatchBytes <= 0 {
		errs = append(errs, fmt.Errorf("turn.drain_batch_bytes must be positive"))
	}
	if c.Turn.FinalizeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("turn.finalize_timeout must be positive"))
	}

	switch strings.ToLower(c.Narration.Engine) {
	case SpeechEnginePolly, SpeechEngineDeepgram:
	default:
		errs = append(errs, fmt.Errorf("invalid narration.engine: %q", c.Narration.Engine))
	}
	switch strings.ToLower(c.Narration.Audio) {
	case AudioBackendMiniaudio, AudioBackendPortaudio:
	default:
		errs = append(errs, fmt.Errorf("invalid narration.audio: %q", c.Narration.Audio))
	}
	if c.Narration.Rate <= 0 {
		errs = append(errs, fmt.Errorf("narration.rate must be positive"))
	}
	if c.Narration.SampleRate != 8000 && c.Narration.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("narration.sample_rate must be 8000 or 16000, got %d", c.Narration.SampleRate))
	}

	return errors.Join(errs...)
}
