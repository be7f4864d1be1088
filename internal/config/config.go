package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the relay gateway
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Languages LanguagesConfig `yaml:"languages"`
	Providers ProvidersConfig `yaml:"providers"`
	Relay     RelayConfig     `yaml:"relay"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Alerts    AlertsConfig    `yaml:"alerts,omitempty"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// LanguagesConfig maps conversational roles to languages.
// Boss messages default to the primary language, worker messages
// to the secondary one.
type LanguagesConfig struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
	Default   string `yaml:"default"`
}

// ProvidersConfig defines the NLU provider endpoints and credentials.
// A provider with no credentials/endpoint is simply unavailable; the
// chain skips it.
type ProvidersConfig struct {
	OpenAI    CloudProviderConfig `yaml:"openai"`
	Anthropic CloudProviderConfig `yaml:"anthropic"`
	Local     LocalProviderConfig `yaml:"local"`
}

// CloudProviderConfig defines a hosted model provider
type CloudProviderConfig struct {
	APIKey        string `yaml:"api_key,omitempty"`
	BaseURL       string `yaml:"base_url,omitempty"`
	Model         string `yaml:"model,omitempty"`
	Timeout       string `yaml:"timeout,omitempty"`
	MaxConcurrent int    `yaml:"max_concurrent,omitempty"`
}

// GetTimeout returns the invocation timeout as a time.Duration
func (c *CloudProviderConfig) GetTimeout() time.Duration {
	return parseTimeout(c.Timeout, 10*time.Second)
}

// LocalProviderConfig defines the local model sidecar
type LocalProviderConfig struct {
	URL           string `yaml:"url,omitempty"`
	Timeout       string `yaml:"timeout,omitempty"`
	MaxConcurrent int    `yaml:"max_concurrent,omitempty"`
}

// GetTimeout returns the invocation timeout as a time.Duration
func (c *LocalProviderConfig) GetTimeout() time.Duration {
	return parseTimeout(c.Timeout, 15*time.Second)
}

// RelayConfig tunes the websocket connection layer
type RelayConfig struct {
	PingInterval string `yaml:"ping_interval,omitempty"`
	PongTimeout  string `yaml:"pong_timeout,omitempty"`
	SendBuffer   int    `yaml:"send_buffer,omitempty"`
}

// GetPingInterval returns the heartbeat interval
func (r *RelayConfig) GetPingInterval() time.Duration {
	return parseTimeout(r.PingInterval, 30*time.Second)
}

// GetPongTimeout returns how long to wait for a pong before
// the connection is considered dead
func (r *RelayConfig) GetPongTimeout() time.Duration {
	return parseTimeout(r.PongTimeout, 60*time.Second)
}

// StorageConfig defines the persistence backend. An empty path
// selects the in-memory store.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"`
}

// RedisConfig defines the optional event fan-out backend
type RedisConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// AlertsConfig schedules the weather-alert sweep
type AlertsConfig struct {
	Schedule string `yaml:"schedule,omitempty"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

func parseTimeout(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Load reads and parses the config file, applying defaults and
// environment overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with sane defaults; boss speaks English,
// workers speak Spanish.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8900},
		Languages: LanguagesConfig{Primary: "en", Secondary: "es", Default: "en"},
		Providers: ProvidersConfig{
			Local: LocalProviderConfig{URL: "http://localhost:6789"},
		},
		Relay:   RelayConfig{SendBuffer: 32},
		Alerts:  AlertsConfig{Schedule: "@every 15m"},
		Logging: LoggingConfig{Level: "info"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("LOCAL_LLM_URL"); v != "" {
		cfg.Providers.Local.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" && cfg.Redis.Addr == "" {
		cfg.Redis.Addr = v
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Languages.Primary == "" || c.Languages.Secondary == "" {
		return fmt.Errorf("both primary and secondary languages must be set")
	}
	if c.Languages.Primary == c.Languages.Secondary {
		return fmt.Errorf("primary and secondary languages must differ")
	}
	if c.Languages.Default == "" {
		c.Languages.Default = c.Languages.Primary
	}
	if c.Relay.SendBuffer <= 0 {
		c.Relay.SendBuffer = 32
	}
	return nil
}
