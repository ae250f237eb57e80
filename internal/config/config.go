// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration with the
// precedence ENV > config file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLanguages is the caption language preference list, tried in order.
var DefaultLanguages = []string{
	"en", "es", "pt", "hi", "ko",
	"zh-Hans", "zh-Hant", "zh-CN", "zh-HK", "zh-TW", "zh",
	"ar", "id", "fr", "ja", "ru", "de",
}

// Config is the full daemon configuration.
type Config struct {
	Listen            string   `yaml:"listen"`
	DataDir           string   `yaml:"data_dir"`
	RedisAddr         string   `yaml:"redis_addr"` // empty selects the embedded backends
	RedisPassword     string   `yaml:"redis_password"`
	RedisDB           int      `yaml:"redis_db"`
	MetricsAddr       string   `yaml:"metrics_addr"` // empty disables the metrics listener
	ExportDir         string   `yaml:"export_dir"`   // empty disables markdown export
	LogLevel          string   `yaml:"log_level"`
	CORSOrigins       []string `yaml:"cors_origins"`
	RateLimitRPM      int      `yaml:"rate_limit_rpm"` // per client IP on the API group
	Workers           int      `yaml:"workers"`
	RefineConcurrency int      `yaml:"refine_concurrency"`

	OpenAI  OpenAI  `yaml:"openai"`
	Summary Summary `yaml:"summary"`
	Tracing Tracing `yaml:"tracing"`
}

// OpenAI configures the chat completion client.
type OpenAI struct {
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	ModelSmall       string        `yaml:"model_small"`
	ModelLarge       string        `yaml:"model_large"`
	RPS              float64       `yaml:"rps"`   // client-side pacing, 0 disables
	Burst            int           `yaml:"burst"` // pacing burst
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryWait        time.Duration `yaml:"retry_wait"`
	ControlTimeout   time.Duration `yaml:"control_timeout"`
	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`
}

// Summary configures the orchestrator.
type Summary struct {
	SummarizingTTL       time.Duration `yaml:"summarizing_ttl"`
	NoTranscriptTTL      time.Duration `yaml:"no_transcript_ttl"`
	SubscribeIdleTimeout time.Duration `yaml:"subscribe_idle_timeout"`
	TopPDeterministic    float64       `yaml:"top_p_deterministic"`
	TopPFreeForm         float64       `yaml:"top_p_free_form"`
	Languages            []string      `yaml:"languages"`
}

// Tracing configures the OTLP trace exporter.
type Tracing struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Listen:            ":8080",
		DataDir:           "/tmp/chapterd",
		MetricsAddr:       "",
		LogLevel:          "info",
		CORSOrigins:       []string{"*"},
		RateLimitRPM:      60,
		Workers:           4,
		RefineConcurrency: 3,
		OpenAI: OpenAI{
			BaseURL:          "https://api.openai.com/v1",
			ModelSmall:       "gpt-3.5-turbo",
			ModelLarge:       "gpt-3.5-turbo-16k",
			RPS:              5,
			Burst:            10,
			RetryAttempts:    5,
			RetryWait:        time.Second,
			ControlTimeout:   10 * time.Second,
			SummarizeTimeout: 90 * time.Second,
		},
		Summary: Summary{
			SummarizingTTL:       300 * time.Second,
			NoTranscriptTTL:      24 * time.Hour,
			SubscribeIdleTimeout: 300 * time.Second,
			TopPDeterministic:    0.1,
			TopPFreeForm:         0.8,
			Languages:            append([]string(nil), DefaultLanguages...),
		},
		Tracing: Tracing{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	if cfg.RateLimitRPM < 0 {
		return fmt.Errorf("rate_limit_rpm must be >= 0, got %d", cfg.RateLimitRPM)
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.RefineConcurrency < 1 {
		return fmt.Errorf("refine_concurrency must be >= 1, got %d", cfg.RefineConcurrency)
	}

	o := cfg.OpenAI
	if strings.TrimSpace(o.BaseURL) == "" {
		return fmt.Errorf("openai.base_url must not be empty")
	}
	if o.ModelSmall == "" || o.ModelLarge == "" {
		return fmt.Errorf("openai model pair must not be empty")
	}
	if o.RPS < 0 {
		return fmt.Errorf("openai.rps must be >= 0, got %v", o.RPS)
	}
	if o.RetryAttempts < 1 {
		return fmt.Errorf("openai.retry_attempts must be >= 1, got %d", o.RetryAttempts)
	}
	if o.ControlTimeout <= 0 || o.SummarizeTimeout <= 0 {
		return fmt.Errorf("openai timeouts must be > 0")
	}

	s := cfg.Summary
	if s.SummarizingTTL <= 0 || s.NoTranscriptTTL <= 0 || s.SubscribeIdleTimeout <= 0 {
		return fmt.Errorf("summary TTLs must be > 0")
	}
	if s.TopPDeterministic < 0 || s.TopPDeterministic > 1 || s.TopPFreeForm < 0 || s.TopPFreeForm > 1 {
		return fmt.Errorf("top_p values must be within [0, 1]")
	}
	if len(s.Languages) == 0 {
		return fmt.Errorf("summary.languages must not be empty")
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Exporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("tracing.exporter must be grpc or http, got %q", cfg.Tracing.Exporter)
		}
		if strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
			return fmt.Errorf("tracing.endpoint must not be empty when tracing is enabled")
		}
		if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
			return fmt.Errorf("tracing.sampling_rate must be within [0, 1]")
		}
	}

	return nil
}
