package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Sia configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Model backend
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Knowledge base
	Knowledge KnowledgeConfig `json:"knowledge" mapstructure:"knowledge"`

	// Session store
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	Timeout int    `json:"timeout" mapstructure:"timeout"` // seconds
}

// ModelConfig holds model backend configuration
type ModelConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // gemini, openai, anthropic
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	MaxTokens int    `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	MaxSteps int `json:"max_steps" mapstructure:"max_steps"`
}

// ToolsConfig holds tool configuration
type ToolsConfig struct {
	Tavily TavilyConfig `json:"tavily" mapstructure:"tavily"`
}

// TavilyConfig holds web search configuration
type TavilyConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// KnowledgeConfig holds knowledge base configuration
type KnowledgeConfig struct {
	Enabled      bool            `json:"enabled" mapstructure:"enabled"`
	DocsDir      string          `json:"docs_dir" mapstructure:"docs_dir"`
	DBPath       string          `json:"db_path" mapstructure:"db_path"`
	SyncSchedule string          `json:"sync_schedule" mapstructure:"sync_schedule"`
	Embedding    EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	TTLHours      int    `json:"ttl_hours" mapstructure:"ttl_hours"`
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 60,
		},
		Model: ModelConfig{
			Provider:  "gemini",
			Model:     "gemini-2.0-flash",
			MaxTokens: 2048,
		},
		Agent: AgentConfig{
			MaxSteps: 5,
		},
		Knowledge: KnowledgeConfig{
			Enabled:      false,
			SyncSchedule: "@every 6h",
			Embedding: EmbeddingConfig{
				Model: "text-embedding-3-small",
			},
		},
		Session: SessionConfig{
			TTLHours:      24,
			SweepSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// HasModelCredential reports whether the model backend has an API key.
// A missing credential is not a startup error: the chat endpoint reports
// it per request so the rest of the service stays up.
func (c *Config) HasModelCredential() bool {
	return c.Model.APIKey != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Model.Provider {
	case "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("invalid model provider %s (must be: gemini, openai, anthropic)", c.Model.Provider)
	}

	if c.Model.Model == "" {
		return fmt.Errorf("model name is required")
	}

	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("agent max_steps must be at least 1, got %d", c.Agent.MaxSteps)
	}

	if c.Session.TTLHours < 1 {
		return fmt.Errorf("session ttl_hours must be at least 1, got %d", c.Session.TTLHours)
	}

	if c.Knowledge.Enabled && c.Knowledge.DocsDir == "" {
		return fmt.Errorf("knowledge docs_dir is required when the knowledge base is enabled")
	}

	return nil
}
