// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates chatflow configuration.
//
// Configuration is read from a TOML file (preferred) or a JSON file,
// with environment variable overrides applied after loading. A global
// instance is available via Global() for code that is not wired for
// dependency injection; tests should construct Config values directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ============================================================================
// Configuration types
// ============================================================================

// Config is the root configuration for both the client and the
// persistence server.
type Config struct {
	Preprocessing PreprocessingConfig `toml:"message_preprocessing" json:"messagePreprocessing"`
	Chat          ChatConfig          `toml:"chat" json:"chat"`
	API           APIConfig           `toml:"api" json:"api"`
	Server        ServerConfig        `toml:"server" json:"server"`
	Logging       LoggingConfig       `toml:"logging" json:"logging"`
}

// PreprocessingConfig controls the reversible prefix prepended to every
// outgoing user message, and the system message injected at request
// build time.
type PreprocessingConfig struct {
	Enabled       bool   `toml:"enabled" json:"enabled"`
	Prefix        string `toml:"prefix" json:"prefix"`
	SystemMessage string `toml:"system_message" json:"systemMessage"`
}

// ChatConfig holds completion request parameters.
type ChatConfig struct {
	Model            string  `toml:"model" json:"model"`
	Temperature      float64 `toml:"temperature" json:"temperature"`
	MaxTokens        int     `toml:"max_tokens" json:"maxTokens"`
	PresencePenalty  float64 `toml:"presence_penalty" json:"presencePenalty"`
	FrequencyPenalty float64 `toml:"frequency_penalty" json:"frequencyPenalty"`
}

// APIConfig points at the completion API.
type APIConfig struct {
	BaseURL      string `toml:"base_url" json:"baseUrl"`
	ChatEndpoint string `toml:"chat_endpoint" json:"chatEndpoint"`
	APIKey       string `toml:"api_key" json:"apiKey"`
}

// ServerConfig configures the persistence server and its client.
type ServerConfig struct {
	Host      string  `toml:"host" json:"host"`
	Port      int     `toml:"port" json:"port"`
	AuthToken string  `toml:"auth_token" json:"authToken"`
	ChatsDir  string  `toml:"chats_dir" json:"chatsDir"`
	RateLimit float64 `toml:"rate_limit" json:"rateLimit"` // requests per second per client
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level"`
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"maxSizeMB"`
	MaxBackups int    `toml:"max_backups" json:"maxBackups"`
	MaxAgeDays int    `toml:"max_age_days" json:"maxAgeDays"`
}

// BaseURL returns the persistence server's base URL.
func (s ServerConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// Addr returns the listen address for the persistence server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ============================================================================
// Defaults
// ============================================================================

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Preprocessing: PreprocessingConfig{
			Enabled: false,
			Prefix:  "",
		},
		Chat: ChatConfig{
			Model:            "",
			Temperature:      0.7,
			MaxTokens:        2000,
			PresencePenalty:  0,
			FrequencyPenalty: 0,
		},
		API: APIConfig{
			BaseURL:      "http://localhost:8080",
			ChatEndpoint: "/v1/chat/completions",
		},
		Server: ServerConfig{
			Host:      "localhost",
			Port:      3001,
			ChatsDir:  "chats",
			RateLimit: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// fillDefaults replaces zero values with defaults after a partial
// config file was loaded. Booleans and penalties are left alone: false
// and zero are meaningful settings there.
func (c *Config) fillDefaults() {
	def := Default()

	if c.Chat.Temperature == 0 {
		c.Chat.Temperature = def.Chat.Temperature
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = def.Chat.MaxTokens
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.ChatEndpoint == "" {
		c.API.ChatEndpoint = def.API.ChatEndpoint
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ChatsDir == "" {
		c.Server.ChatsDir = def.Server.ChatsDir
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = def.Server.RateLimit
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = def.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = def.Logging.MaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = def.Logging.MaxAgeDays
	}
}

// ============================================================================
// Loading
// ============================================================================

// Load reads configuration from path, dispatching on the file
// extension (.toml or .json). Missing file returns defaults, not an
// error, so a bare install works out of the box.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}

	var (
		cfg *Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		cfg, err = loadJSON(path)
	default:
		cfg, err = loadTOML(path)
	}
	if err != nil {
		return nil, err
	}

	cfg.fillDefaults()
	cfg.ApplyEnvOverrides()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %s", path, errs[0])
	}
	return cfg, nil
}

func loadTOML(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return &cfg, nil
}

func loadJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return &cfg, nil
}

// ============================================================================
// Validation
// ============================================================================

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks field ranges and returns every violation found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, ValidationError{"chat.temperature", "must be between 0 and 2"})
	}
	if c.Chat.MaxTokens < 1 {
		errs = append(errs, ValidationError{"chat.max_tokens", "must be at least 1"})
	}
	if c.Chat.PresencePenalty < -2 || c.Chat.PresencePenalty > 2 {
		errs = append(errs, ValidationError{"chat.presence_penalty", "must be between -2 and 2"})
	}
	if c.Chat.FrequencyPenalty < -2 || c.Chat.FrequencyPenalty > 2 {
		errs = append(errs, ValidationError{"chat.frequency_penalty", "must be between -2 and 2"})
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, ValidationError{"api.base_url", "must start with http:// or https://"})
	}
	if !strings.HasPrefix(c.API.ChatEndpoint, "/") {
		errs = append(errs, ValidationError{"api.chat_endpoint", "must start with /"})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", "must be between 1 and 65535"})
	}
	if c.Server.RateLimit <= 0 {
		errs = append(errs, ValidationError{"server.rate_limit", "must be positive"})
	}
	if c.Preprocessing.Enabled && strings.TrimSpace(c.Preprocessing.Prefix) == "" {
		errs = append(errs, ValidationError{"message_preprocessing.prefix", "must be set when preprocessing is enabled"})
	}

	return errs
}

// ============================================================================
// Environment overrides
// ============================================================================

// ApplyEnvOverrides overlays CHATFLOW_* environment variables onto the
// config. Secrets (API key, auth token) are the main use case so they
// can stay out of config files.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATFLOW_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("CHATFLOW_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("CHATFLOW_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("CHATFLOW_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("CHATFLOW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CHATFLOW_CHATS_DIR"); v != "" {
		c.Server.ChatsDir = v
	}
	if v := os.Getenv("CHATFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ============================================================================
// Global instance
// ============================================================================

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Global returns the process-wide config, falling back to defaults if
// SetGlobal was never called.
func Global() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalConfig == nil {
		return Default()
	}
	return globalConfig
}

// SetGlobal installs cfg as the process-wide config.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global config.
func ResetGlobalForTesting() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
}
