// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/pharmagpt/internal/interaction"
	"github.com/joelkehle/pharmagpt/internal/llm"
	"github.com/joelkehle/pharmagpt/internal/store"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Edit      EditConfig      `yaml:"edit"`
	History   HistoryConfig   `yaml:"history"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	// URL is a file path for sqlite or a connection string for postgres.
	URL string `yaml:"url"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type CatalogConfig struct {
	// Path to a YAML catalog; empty uses the built-in tables.
	Path string `yaml:"path"`
}

type EditConfig struct {
	Year int `yaml:"year"`
}

type HistoryConfig struct {
	Limit int `yaml:"limit"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
			URL:    store.DefaultSQLitePath,
		},
		// Model stays empty so llm.New picks the default for the provider.
		LLM: LLMConfig{
			Provider:    llm.ProviderGroq,
			Temperature: 0,
			Timeout:     60 * time.Second,
		},
		Edit:    EditConfig{Year: interaction.DefaultEditYear},
		History: HistoryConfig{Limit: interaction.DefaultHistoryLimit},
		Events:  EventsConfig{Subject: "interactions.logged"},
		Telemetry: TelemetryConfig{
			ServiceName: "pharmagpt",
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFromFile reads path over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load returns defaults, then the file at path when set, then environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apiKeyEnv names the variable holding each provider's key.
var apiKeyEnv = map[string]string{
	llm.ProviderGroq:      "GROQ_API_KEY",
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
	llm.ProviderGemini:    "GEMINI_API_KEY",
}

func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Database.Driver = store.DriverPostgres
		}
	}
	if v := getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := getenv("LLM_PROVIDER"); v != "" && !strings.EqualFold(v, c.LLM.Provider) {
		c.LLM.Provider = strings.ToLower(v)
		c.LLM.Model = ""
	}
	if v := getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if env, ok := apiKeyEnv[c.LLM.Provider]; ok {
		if v := getenv(env); v != "" {
			c.LLM.APIKey = v
		}
	}
	if v := getenv("NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("EDIT_YEAR"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			c.Edit.Year = year
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == store.DriverPostgres && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for postgres")
	}
	if _, ok := apiKeyEnv[c.LLM.Provider]; !ok {
		return fmt.Errorf("llm.provider must be one of groq, openai, anthropic, gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.History.Limit < 0 {
		return fmt.Errorf("history.limit must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// RequireAPIKey fails when the selected provider has no key. Commands that
// never call the model skip it.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.LLM.APIKey) != "" {
		return nil
	}
	return fmt.Errorf("%s environment variable not set", apiKeyEnv[c.LLM.Provider])
}

func (c *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		Provider:    c.LLM.Provider,
		Model:       c.LLM.Model,
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		Timeout:     c.LLM.Timeout,
	}
}

func (c *Config) StoreOptions() store.Options {
	return store.Options{Driver: c.Database.Driver, DSN: c.Database.URL}
}
