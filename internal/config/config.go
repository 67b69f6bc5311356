// Package config loads configuration from config.yaml and environment
// variables. The YAML file is optional: every setting has an environment
// fallback so containerized deployments can run file-less.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds the settings for one external HTTP capability.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"` // transcription only
}

// MediaClassifierConfig holds the media classification provider settings.
// The provider authenticates with OAuth2 client credentials instead of a
// static key.
type MediaClassifierConfig struct {
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// WebhookConfig holds the inbound webhook credentials.
type WebhookConfig struct {
	// VerifyToken is echoed back during the provider's subscription
	// handshake.
	VerifyToken string `yaml:"verify_token"`
	// AppSecret keys the HMAC-SHA256 payload signature.
	AppSecret string `yaml:"app_secret"`
}

// Config holds all configuration for the moderation service.
type Config struct {
	Port int

	DatabaseURL string
	RedisURL    string
	NATSURL     string

	Webhook WebhookConfig

	Transcriber     ProviderConfig
	TextClassifier  ProviderConfig
	MediaClassifier MediaClassifierConfig
	Outbound        ProviderConfig
	MediaOrigin     ProviderConfig

	// LearnerQueue is the NATS queue group learner workers join.
	LearnerQueue string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Webhook   WebhookConfig `yaml:"webhook"`
	Providers struct {
		Transcriber     ProviderConfig        `yaml:"transcriber"`
		TextClassifier  ProviderConfig        `yaml:"text_classifier"`
		MediaClassifier MediaClassifierConfig `yaml:"media_classifier"`
		Outbound        ProviderConfig        `yaml:"outbound"`
		MediaOrigin     ProviderConfig        `yaml:"media_origin"`
	} `yaml:"providers"`
	Learner struct {
		Queue string `yaml:"queue"`
	} `yaml:"learner"`
}

// Load reads configuration from the file named by CONFIG_PATH (default
// config.yaml, with ${VAR} expansion) and falls back to environment
// variables for anything the file does not set. A missing file is not an
// error; the service then runs on environment variables alone.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		slog.Warn("config file not found, using environment only", "path", configPath)
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML before parsing.
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg := &Config{
		Port:        firstNonZero(raw.Server.Port, envOrDefaultInt("PORT", 8080)),
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		NATSURL:     firstNonEmpty(raw.NATS.URL, envOrDefault("NATS_URL", "nats://localhost:4222")),
		Webhook: WebhookConfig{
			VerifyToken: firstNonEmpty(raw.Webhook.VerifyToken, os.Getenv("WEBHOOK_VERIFY_TOKEN")),
			AppSecret:   firstNonEmpty(raw.Webhook.AppSecret, os.Getenv("WEBHOOK_APP_SECRET")),
		},
		Transcriber: ProviderConfig{
			BaseURL: firstNonEmpty(raw.Providers.Transcriber.BaseURL, os.Getenv("TRANSCRIBER_URL")),
			APIKey:  firstNonEmpty(raw.Providers.Transcriber.APIKey, os.Getenv("TRANSCRIBER_API_KEY")),
			Model:   firstNonEmpty(raw.Providers.Transcriber.Model, os.Getenv("TRANSCRIBER_MODEL")),
		},
		TextClassifier: ProviderConfig{
			BaseURL: firstNonEmpty(raw.Providers.TextClassifier.BaseURL, os.Getenv("TEXT_CLASSIFIER_URL")),
			APIKey:  firstNonEmpty(raw.Providers.TextClassifier.APIKey, os.Getenv("TEXT_CLASSIFIER_API_KEY")),
		},
		MediaClassifier: MediaClassifierConfig{
			BaseURL:      firstNonEmpty(raw.Providers.MediaClassifier.BaseURL, os.Getenv("MEDIA_CLASSIFIER_URL")),
			TokenURL:     firstNonEmpty(raw.Providers.MediaClassifier.TokenURL, os.Getenv("MEDIA_CLASSIFIER_TOKEN_URL")),
			ClientID:     firstNonEmpty(raw.Providers.MediaClassifier.ClientID, os.Getenv("MEDIA_CLASSIFIER_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Providers.MediaClassifier.ClientSecret, os.Getenv("MEDIA_CLASSIFIER_CLIENT_SECRET")),
		},
		Outbound: ProviderConfig{
			BaseURL: firstNonEmpty(raw.Providers.Outbound.BaseURL, os.Getenv("OUTBOUND_URL")),
			APIKey:  firstNonEmpty(raw.Providers.Outbound.APIKey, os.Getenv("OUTBOUND_API_KEY")),
		},
		MediaOrigin: ProviderConfig{
			BaseURL: firstNonEmpty(raw.Providers.MediaOrigin.BaseURL, os.Getenv("MEDIA_ORIGIN_URL")),
			APIKey:  firstNonEmpty(raw.Providers.MediaOrigin.APIKey, os.Getenv("MEDIA_ORIGIN_API_KEY")),
		},
		LearnerQueue: firstNonEmpty(raw.Learner.Queue, envOrDefault("LEARNER_QUEUE", "learners")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL not configured — set database.url or DATABASE_URL")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
