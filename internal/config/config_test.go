package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sieve.json")
	t.Setenv("SIEVE_VAULT_ROOT", tmpDir)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 8420 {
		t.Errorf("Expected port 8420, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host '127.0.0.1', got '%s'", cfg.Server.Host)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-5-mini" {
		t.Errorf("Expected openai/gpt-5-mini, got %s/%s", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.Processing.MaxRetries != 5 {
		t.Errorf("Expected max_retries 5, got %d", cfg.Processing.MaxRetries)
	}
	if cfg.Processing.DebounceMS != 1000 {
		t.Errorf("Expected debounce 1000ms, got %d", cfg.Processing.DebounceMS)
	}
	if cfg.Relay.Port != 8421 || cfg.Relay.MaxPending != 1000 || cfg.Relay.DefaultRateLimit != 60 {
		t.Errorf("Unexpected relay defaults: %+v", cfg.Relay)
	}
	if cfg.Relay.PollIntervalSeconds != 60 {
		t.Errorf("Expected poll interval 60, got %d", cfg.Relay.PollIntervalSeconds)
	}
	if !cfg.Logging.FileEnabled || cfg.Logging.Level != "info" {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
}

func TestLoad_ExistingConfigAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sieve.json")

	partial := `{
  "vault_root": "` + filepath.ToSlash(tmpDir) + `",
  "server": {"port": 9000},
  "llm": {"provider": "ollama"},
  "logging": {"level": "debug"}
}`
	if err := os.WriteFile(configPath, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected default host, got %q", cfg.Server.Host)
	}
	if cfg.LLM.Model != "llama3.2-vision" {
		t.Errorf("Expected provider-specific default model, got %q", cfg.LLM.Model)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %q", cfg.Logging.Level)
	}
	if !cfg.Logging.FileEnabled {
		t.Error("file_enabled should default to true when omitted")
	}
	if cfg.Processing.MaxRetries != 5 {
		t.Errorf("Expected default max_retries, got %d", cfg.Processing.MaxRetries)
	}
}

func TestLoad_ExplicitFileDisabled(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sieve.json")
	os.WriteFile(configPath, []byte(`{"vault_root": "/tmp/v", "logging": {"file_enabled": false}}`), 0644)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.FileEnabled {
		t.Error("explicit file_enabled=false should be honored")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "sieve.json")
	os.WriteFile(configPath, []byte("{not json"), 0644)

	if _, err := Load(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SIEVE_VAULT_ROOT", tmpDir)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SIEVE_OPENAI_MODEL", "gpt-test")
	t.Setenv("SIEVE_PORT", "9100")
	t.Setenv("SIEVE_MAX_RETRIES", "2")
	t.Setenv("SIEVE_RETRY_BASE_DELAY", "0.5")
	t.Setenv("SIEVE_RELAY_URL", "https://relay.example.com")
	t.Setenv("SIEVE_RELAY_ADMIN_KEY", "sieve_live_abc")
	t.Setenv("SIEVE_LOG_LEVEL", "warn")
	t.Setenv("SIEVE_LOG_FILE_ENABLED", "false")

	cfg, err := Load(filepath.Join(tmpDir, "sieve.json"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.VaultRoot != tmpDir {
		t.Errorf("VaultRoot = %q", cfg.VaultRoot)
	}
	if cfg.LLM.OpenAIKey != "sk-test" || cfg.LLM.Model != "gpt-test" {
		t.Errorf("LLM overrides not applied: %+v", cfg.LLM)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Processing.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d", cfg.Processing.MaxRetries)
	}
	if cfg.LLM.RetryBaseDelayMS != 500 {
		t.Errorf("RetryBaseDelayMS = %d", cfg.LLM.RetryBaseDelayMS)
	}
	if !cfg.RelayClientEnabled() {
		t.Error("relay client should be enabled")
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.FileEnabled {
		t.Errorf("Logging overrides not applied: %+v", cfg.Logging)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "mystery" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"zero retries", func(c *Config) { c.Processing.MaxRetries = 0 }, true},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, true},
		{"relay url without scheme", func(c *Config) {
			c.Relay.URL = "relay.example.com"
			c.Relay.AdminKey = "k"
		}, true},
		{"relay url without key", func(c *Config) { c.Relay.URL = "https://relay.example.com" }, true},
		{"relay fully configured", func(c *Config) {
			c.Relay.URL = "https://relay.example.com"
			c.Relay.AdminKey = "k"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLLM(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateLLM(); err == nil {
		t.Error("openai without key should fail")
	}
	cfg.LLM.OpenAIKey = "sk"
	if err := cfg.ValidateLLM(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.LLM.Provider = "anthropic"
	if err := cfg.ValidateLLM(); err == nil {
		t.Error("anthropic without key should fail")
	}

	cfg.LLM.Provider = "ollama"
	if err := cfg.ValidateLLM(); err != nil {
		t.Errorf("ollama with default endpoint should pass: %v", err)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.VaultRoot = "/vault"

	tests := map[string]string{
		cfg.InboxPath():    filepath.Join("/vault", "Inbox"),
		cfg.FailedPath():   filepath.Join("/vault", "Inbox", "failed"),
		cfg.CapsulesPath(): filepath.Join("/vault", "Capsules"),
		cfg.AssetsPath():   filepath.Join("/vault", "Assets"),
		cfg.LegacyPath():   filepath.Join("/vault", "Legacy"),
		cfg.ErrorLogPath(): filepath.Join("/vault", ".sieve", "error.log"),
		cfg.IndexPath():    filepath.Join("/vault", "Capsules", "INDEX.md"),
		cfg.LogFilePath():  filepath.Join("/vault", ".sieve", "sieve.log"),
		cfg.RelayDBPath():  filepath.Join("/vault", ".sieve", "relay.db"),
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}

	if cfg.ScreenshotPath() != "" {
		t.Error("screenshot path should be empty when unset")
	}
	cfg.Relay.DBPath = "/srv/relay.db"
	if cfg.RelayDBPath() != "/srv/relay.db" {
		t.Errorf("absolute db path should be kept, got %q", cfg.RelayDBPath())
	}
}

func TestEnsureVault(t *testing.T) {
	cfg := Default()
	cfg.VaultRoot = t.TempDir()

	if err := cfg.EnsureVault(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{cfg.InboxPath(), cfg.FailedPath(), cfg.CapsulesPath(), cfg.LegacyPath(), cfg.SievePath()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sieve.json")
	cfg := Default()
	cfg.VaultRoot = "/vault"
	cfg.Relay.URL = "https://relay.example.com"

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}
