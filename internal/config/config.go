package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	VaultRoot        string           `json:"vault_root"`
	ScreenshotFolder string           `json:"screenshot_folder,omitempty"`
	Server           ServerConfig     `json:"server"`
	LLM              LLMConfig        `json:"llm"`
	Processing       ProcessingConfig `json:"processing"`
	Relay            RelayConfig      `json:"relay"`
	Dashboard        DashboardConfig  `json:"dashboard"`
	Logging          LoggingConfig    `json:"logging"`
}

// ServerConfig controls the local dashboard HTTP server
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LLMConfig configures the capsule extraction model
type LLMConfig struct {
	Provider         string `json:"provider"` // "openai", "ollama", "anthropic"
	Model            string `json:"model"`
	OpenAIKey        string `json:"openai_key,omitempty"`
	AnthropicKey     string `json:"anthropic_key,omitempty"`
	OllamaEndpoint   string `json:"ollama_endpoint"`
	BaseURL          string `json:"base_url,omitempty"` // overrides the provider's API endpoint
	MaxAttempts      int    `json:"max_attempts"`
	RetryBaseDelayMS int    `json:"retry_base_delay_ms"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

// ProcessingConfig controls the capture pipeline
type ProcessingConfig struct {
	MaxRetries    int `json:"max_retries"`
	DebounceMS    int `json:"debounce_ms"`
	MaxFileSizeMB int `json:"max_file_size_mb"`
}

// RelayConfig covers both the relay server and the pull client
type RelayConfig struct {
	// Pull client
	URL                 string `json:"url,omitempty"`
	AdminKey            string `json:"admin_key,omitempty"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`

	// Server
	DBPath           string  `json:"db_path"`
	Host             string  `json:"host"`
	Port             int     `json:"port"`
	MaxPending       int     `json:"max_pending"`
	DefaultRateLimit int     `json:"default_rate_limit"`
	PreAuthRPS       float64 `json:"pre_auth_rps"`
	PreAuthBurst     int     `json:"pre_auth_burst"`
}

// DashboardConfig controls which browser origins may mutate state
type DashboardConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level       string `json:"level"`        // "debug", "info", "warn", "error"
	FileEnabled bool   `json:"file_enabled"` // Mirror logs to a rotating file
	File        string `json:"file"`         // Relative paths resolve under .sieve/
	MaxSizeMB   int    `json:"max_size_mb"`  // Max file size before rotation
	MaxBackups  int    `json:"max_backups"`  // Number of backup files to keep
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		LLM: LLMConfig{
			Provider:         "openai",
			Model:            "gpt-5-mini",
			OllamaEndpoint:   "http://localhost:11434",
			MaxAttempts:      3,
			RetryBaseDelayMS: 1000,
			TimeoutSeconds:   120,
		},
		Processing: ProcessingConfig{
			MaxRetries:    5,
			DebounceMS:    1000,
			MaxFileSizeMB: 25,
		},
		Relay: RelayConfig{
			PollIntervalSeconds: 60,
			DBPath:              "relay.db",
			Host:                "127.0.0.1",
			Port:                8421,
			MaxPending:          1000,
			DefaultRateLimit:    60,
			PreAuthRPS:          5,
			PreAuthBurst:        20,
		},
		Dashboard: DashboardConfig{
			AllowedOrigins: []string{"http://localhost:8420", "http://127.0.0.1:8420"},
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: true,
			File:        "sieve.log",
			MaxSizeMB:   10,
			MaxBackups:  3,
		},
	}
}

// Load reads configuration from file, .env and environment.
// A missing file is created with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var fileCfg Config
		if err := json.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// file_enabled defaults to true when the logging section omits it
		var raw map[string]json.RawMessage
		json.Unmarshal(data, &raw)
		fileCfg.Logging.FileEnabled = true
		if section, ok := raw["logging"]; ok {
			var logging map[string]json.RawMessage
			json.Unmarshal(section, &logging)
			if _, has := logging["file_enabled"]; has {
				json.Unmarshal(logging["file_enabled"], &fileCfg.Logging.FileEnabled)
			}
		}

		cfg = &fileCfg
		cfg.applyDefaults()
	} else {
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	cfg.applyEnvOverrides()

	if cfg.VaultRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve vault root: %w", err)
		}
		cfg.VaultRoot = wd
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file
func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel(c.LLM.Provider)
	}
	if c.LLM.OllamaEndpoint == "" {
		c.LLM.OllamaEndpoint = d.LLM.OllamaEndpoint
	}
	if c.LLM.MaxAttempts == 0 {
		c.LLM.MaxAttempts = d.LLM.MaxAttempts
	}
	if c.LLM.RetryBaseDelayMS == 0 {
		c.LLM.RetryBaseDelayMS = d.LLM.RetryBaseDelayMS
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = d.LLM.TimeoutSeconds
	}
	if c.Processing.MaxRetries == 0 {
		c.Processing.MaxRetries = d.Processing.MaxRetries
	}
	if c.Processing.DebounceMS == 0 {
		c.Processing.DebounceMS = d.Processing.DebounceMS
	}
	if c.Processing.MaxFileSizeMB == 0 {
		c.Processing.MaxFileSizeMB = d.Processing.MaxFileSizeMB
	}
	if c.Relay.PollIntervalSeconds == 0 {
		c.Relay.PollIntervalSeconds = d.Relay.PollIntervalSeconds
	}
	if c.Relay.DBPath == "" {
		c.Relay.DBPath = d.Relay.DBPath
	}
	if c.Relay.Host == "" {
		c.Relay.Host = d.Relay.Host
	}
	if c.Relay.Port == 0 {
		c.Relay.Port = d.Relay.Port
	}
	if c.Relay.MaxPending == 0 {
		c.Relay.MaxPending = d.Relay.MaxPending
	}
	if c.Relay.DefaultRateLimit == 0 {
		c.Relay.DefaultRateLimit = d.Relay.DefaultRateLimit
	}
	if c.Relay.PreAuthRPS == 0 {
		c.Relay.PreAuthRPS = d.Relay.PreAuthRPS
	}
	if c.Relay.PreAuthBurst == 0 {
		c.Relay.PreAuthBurst = d.Relay.PreAuthBurst
	}
	if len(c.Dashboard.AllowedOrigins) == 0 {
		c.Dashboard.AllowedOrigins = d.Dashboard.AllowedOrigins
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = d.Logging.File
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = d.Logging.MaxBackups
	}
}

func defaultModel(provider string) string {
	switch provider {
	case "ollama":
		return "llama3.2-vision"
	case "anthropic":
		return "claude-sonnet-4-5"
	default:
		return "gpt-5-mini"
	}
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.AnthropicKey = v
	}
	if v := os.Getenv("SIEVE_VAULT_ROOT"); v != "" {
		c.VaultRoot = v
	}
	if v := os.Getenv("SIEVE_SCREENSHOT_FOLDER"); v != "" {
		c.ScreenshotFolder = v
	}
	if v := os.Getenv("SIEVE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SIEVE_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &c.Server.Port)
	}
	if v := os.Getenv("SIEVE_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("SIEVE_OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("SIEVE_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("SIEVE_OLLAMA_ENDPOINT"); v != "" {
		c.LLM.OllamaEndpoint = v
	}
	if v := os.Getenv("SIEVE_MAX_RETRIES"); v != "" {
		fmt.Sscanf(v, "%d", &c.Processing.MaxRetries)
	}
	if v := os.Getenv("SIEVE_RETRY_BASE_DELAY"); v != "" {
		// seconds, fractional allowed
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.RetryBaseDelayMS = int(secs * 1000)
		}
	}
	if v := os.Getenv("SIEVE_RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
	if v := os.Getenv("SIEVE_RELAY_ADMIN_KEY"); v != "" {
		c.Relay.AdminKey = v
	}
	if v := os.Getenv("SIEVE_RELAY_POLL_INTERVAL"); v != "" {
		fmt.Sscanf(v, "%d", &c.Relay.PollIntervalSeconds)
	}
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		c.Relay.DBPath = v
	}
	if v := os.Getenv("RELAY_HOST"); v != "" {
		c.Relay.Host = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &c.Relay.Port)
	}
	if v := os.Getenv("RELAY_MAX_PENDING_CAPTURES"); v != "" {
		fmt.Sscanf(v, "%d", &c.Relay.MaxPending)
	}
	if v := os.Getenv("SIEVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SIEVE_LOG_FILE_ENABLED"); v != "" {
		if v == "true" {
			c.Logging.FileEnabled = true
		} else if v == "false" {
			c.Logging.FileEnabled = false
		}
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "ollama", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider: %s (must be openai, ollama, or anthropic)", c.LLM.Provider)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay port: %d", c.Relay.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Processing.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.Processing.MaxRetries)
	}
	if c.Relay.MaxPending < 1 {
		return fmt.Errorf("relay max_pending must be at least 1, got %d", c.Relay.MaxPending)
	}

	if c.Relay.URL != "" {
		if !strings.HasPrefix(c.Relay.URL, "http://") && !strings.HasPrefix(c.Relay.URL, "https://") {
			return fmt.Errorf("relay url must start with http:// or https://")
		}
		if c.Relay.AdminKey == "" {
			return fmt.Errorf("relay admin_key is required when relay url is set")
		}
	}

	return nil
}

// ValidateLLM reports whether the configured provider has the credentials it needs.
// Commands that never call the model (index, relay, mcp) skip this.
func (c *Config) ValidateLLM() error {
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIKey == "" {
			return fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY)")
		}
	case "anthropic":
		if c.LLM.AnthropicKey == "" {
			return fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY)")
		}
	case "ollama":
		if c.LLM.OllamaEndpoint == "" {
			return fmt.Errorf("Ollama endpoint is required")
		}
	}
	return nil
}

// RelayClientEnabled reports whether the pull client should run
func (c *Config) RelayClientEnabled() bool {
	return c.Relay.URL != "" && c.Relay.AdminKey != ""
}

// InboxPath is where dropped files land
func (c *Config) InboxPath() string { return filepath.Join(c.VaultRoot, "Inbox") }

// FailedPath is the dead-letter folder inside the inbox
func (c *Config) FailedPath() string { return filepath.Join(c.InboxPath(), "failed") }

func (c *Config) CapsulesPath() string { return filepath.Join(c.VaultRoot, "Capsules") }

func (c *Config) AssetsPath() string { return filepath.Join(c.VaultRoot, "Assets") }

func (c *Config) LegacyPath() string { return filepath.Join(c.VaultRoot, "Legacy") }

// SievePath holds runtime state: logs, PID files, error log
func (c *Config) SievePath() string { return filepath.Join(c.VaultRoot, ".sieve") }

func (c *Config) ErrorLogPath() string { return filepath.Join(c.SievePath(), "error.log") }

func (c *Config) IndexPath() string { return filepath.Join(c.CapsulesPath(), "INDEX.md") }

func (c *Config) PIDDir() string { return filepath.Join(c.SievePath(), "run") }

// LogFilePath resolves the log file; relative names live under .sieve/
func (c *Config) LogFilePath() string {
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(c.SievePath(), c.Logging.File)
}

// ScreenshotPath returns the screenshot folder to watch, or "" if unset
func (c *Config) ScreenshotPath() string {
	if c.ScreenshotFolder == "" {
		return ""
	}
	if strings.HasPrefix(c.ScreenshotFolder, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, c.ScreenshotFolder[2:])
		}
	}
	return c.ScreenshotFolder
}

// RelayDBPath resolves the relay database; relative paths live under .sieve/
func (c *Config) RelayDBPath() string {
	if filepath.IsAbs(c.Relay.DBPath) {
		return c.Relay.DBPath
	}
	return filepath.Join(c.SievePath(), c.Relay.DBPath)
}

// EnsureVault creates the vault directory layout
func (c *Config) EnsureVault() error {
	for _, dir := range []string{
		c.InboxPath(),
		c.FailedPath(),
		c.CapsulesPath(),
		c.AssetsPath(),
		c.LegacyPath(),
		c.SievePath(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
