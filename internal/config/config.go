// Package config handles ledgerbot configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // agent.timezone must resolve on minimal images

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/ledgerbot/config.yaml, /etc/ledgerbot/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ledgerbot", "config.yaml"))
	}

	paths = append(paths, "/etc/ledgerbot/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all ledgerbot configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"`
	Database     DatabaseConfig     `yaml:"database"`
	Conversation ConversationConfig `yaml:"conversation"`
	Agent        AgentConfig        `yaml:"agent"`
	Models       ModelsConfig       `yaml:"models"`
	Anthropic    AnthropicConfig    `yaml:"anthropic"`
	Gemini       GeminiConfig       `yaml:"gemini"`
	LINE         LINEConfig         `yaml:"line"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig selects the SQL backend for the ledger and, when the
// conversation backend is "sql", for conversation history too.
type DatabaseConfig struct {
	// Driver is one of sqlite3 (cgo), sqlite (pure Go), postgres, mysql.
	Driver string `yaml:"driver"`
	// DSN is the driver-specific data source. For the SQLite drivers
	// it is a file path; defaults to <data_dir>/ledgerbot.db.
	DSN string `yaml:"dsn"`
}

// ConversationConfig controls chat history retention.
type ConversationConfig struct {
	// Backend is sql, mongo, or memory.
	Backend          string      `yaml:"backend"`
	MaxMessages      int         `yaml:"max_messages"`
	HistoryLimit     int         `yaml:"history_limit"`
	RetentionDays    int         `yaml:"retention_days"`
	SweepIntervalSec int         `yaml:"sweep_interval_sec"`
	Mongo            MongoConfig `yaml:"mongo"`
}

// MongoConfig defines the MongoDB conversation backend connection.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// AgentConfig tunes the turn orchestrator.
type AgentConfig struct {
	MaxToolCalls     int    `yaml:"max_tool_calls"`
	ModelTimeoutSec  int    `yaml:"model_timeout_sec"`
	ToolTimeoutSec   int    `yaml:"tool_timeout_sec"`
	ConfirmWindowSec int    `yaml:"confirm_window_sec"`
	Timezone         string `yaml:"timezone"`
	// RequireClearConfirmation gates clear_expenses behind a second,
	// explicit request. Nil means the default (true).
	RequireClearConfirmation *bool `yaml:"require_clear_confirmation"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic, gemini
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// GeminiConfig defines Google Gemini API settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c GeminiConfig) Configured() bool { return c.APIKey != "" }

// LINEConfig defines the LINE Messaging API channel.
type LINEConfig struct {
	ChannelSecret      string `yaml:"channel_secret"`
	ChannelAccessToken string `yaml:"channel_access_token"`
	// APIBaseURL overrides https://api.line.me (tests, proxies).
	APIBaseURL string `yaml:"api_base_url"`
	// BindURL is the account-binding page encoded into QR codes. A
	// "{user}" placeholder is replaced with the web user id.
	BindURL string `yaml:"bind_url"`
}

// Configured reports whether both channel credentials are present.
func (c LINEConfig) Configured() bool {
	return c.ChannelSecret != "" && c.ChannelAccessToken != ""
}

// MQTTConfig defines the optional ledger event publisher.
type MQTTConfig struct {
	Broker    string `yaml:"broker"` // e.g. mqtt://localhost:1883 or mqtts://...
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BaseTopic string `yaml:"base_topic"`
	ClientID  string `yaml:"client_id"`
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Load reads configuration from a YAML file. A .env file in the config
// directory is loaded into the environment first (existing variables
// win), then ${VAR} references in the YAML are expanded.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads dir/.env when present. godotenv never overrides
// variables that are already set.
func loadDotEnv(dir string) error {
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("load %s: %w", p, err)
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && (c.Database.Driver == "sqlite3" || c.Database.Driver == "sqlite") {
		c.Database.DSN = filepath.Join(c.DataDir, "ledgerbot.db")
	}

	conv := &c.Conversation
	if conv.Backend == "" {
		conv.Backend = "sql"
	}
	if conv.MaxMessages <= 0 {
		conv.MaxMessages = 20
	}
	if conv.HistoryLimit <= 0 {
		conv.HistoryLimit = 10
	}
	if conv.RetentionDays <= 0 {
		conv.RetentionDays = 7
	}
	if conv.SweepIntervalSec <= 0 {
		conv.SweepIntervalSec = 3600
	}
	if conv.Mongo.Database == "" {
		conv.Mongo.Database = "smart-finance"
	}
	if conv.Mongo.Collection == "" {
		conv.Mongo.Collection = "conversations"
	}

	a := &c.Agent
	if a.MaxToolCalls <= 0 {
		a.MaxToolCalls = 2
	}
	if a.ModelTimeoutSec <= 0 {
		a.ModelTimeoutSec = 60
	}
	if a.ToolTimeoutSec <= 0 {
		a.ToolTimeoutSec = 10
	}
	if a.ConfirmWindowSec <= 0 {
		a.ConfirmWindowSec = 300
	}
	if a.Timezone == "" {
		a.Timezone = "Asia/Taipei"
	}

	if c.Models.Default == "" {
		c.Models.Default = "qwen3:4b"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}

	if c.LINE.APIBaseURL == "" {
		c.LINE.APIBaseURL = "https://api.line.me"
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "ledgerbot"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ledgerbot"
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver %q not supported (valid: sqlite3, sqlite, postgres, mysql)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}

	switch c.Conversation.Backend {
	case "sql", "memory":
	case "mongo":
		if c.Conversation.Mongo.URI == "" {
			return fmt.Errorf("conversation.mongo.uri is required when backend is mongo")
		}
	default:
		return fmt.Errorf("conversation.backend %q not supported (valid: sql, mongo, memory)", c.Conversation.Backend)
	}

	if c.Conversation.HistoryLimit > c.Conversation.MaxMessages {
		return fmt.Errorf("conversation.history_limit (%d) exceeds max_messages (%d)",
			c.Conversation.HistoryLimit, c.Conversation.MaxMessages)
	}

	if _, err := time.LoadLocation(c.Agent.Timezone); err != nil {
		return fmt.Errorf("agent.timezone: %w", err)
	}

	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "anthropic", "gemini":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
	}
	return nil
}

// Location returns the agent's timezone. Validate guarantees it loads.
func (a AgentConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ClearConfirmation reports whether clear_expenses needs a confirming turn.
func (a AgentConfig) ClearConfirmation() bool {
	return a.RequireClearConfirmation == nil || *a.RequireClearConfirmation
}

// Retention returns how long idle conversations are kept.
func (c ConversationConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SweepInterval returns the minimum gap between opportunistic sweeps.
func (c ConversationConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}
