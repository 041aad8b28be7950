// Package config loads the application configuration from YAML with
// environment overrides. Secret values may be stored encrypted with an
// "enc:" prefix and are decrypted at load time using a passphrase from
// the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"clara-ai/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Agent       AgentConfig                `yaml:"agent"`
	Server      ServerConfig               `yaml:"server"`
	LLM         LLMConfig                  `yaml:"llm"`
	Dispatch    DispatchConfig             `yaml:"dispatch"`
	Reminders   RemindersConfig            `yaml:"reminders"`
	Logger      LoggerConfig               `yaml:"logger"`
	Tracer      TracerConfig               `yaml:"tracer"`
	Specialists []domain.SpecialistProfile `yaml:"specialists"`
}

// AgentConfig holds conversation-level settings.
type AgentConfig struct {
	// UserName is the display name substituted into capability content.
	UserName string `yaml:"user_name"`
	// CapabilityDir optionally overrides built-in capability content.
	CapabilityDir string `yaml:"capability_dir"`
	// MirrorConversation forwards each turn to the client transcript.
	MirrorConversation bool `yaml:"mirror_conversation"`
	// InstructionWarnTokens logs a warning when assembled instructions
	// exceed this token count. 0 disables the check.
	InstructionWarnTokens int `yaml:"instruction_warn_tokens"`
}

// ServerConfig holds the data channel listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Token authenticates companion-app connections. May be stored as
	// "enc:..." and decrypted via CLARA_CONFIG_KEY. Empty disables auth.
	Token string `yaml:"token"`
	// RequestsPerMin rate limits connection attempts per client IP.
	RequestsPerMin int `yaml:"requests_per_min"`
	BurstSize      int `yaml:"burst_size"`
}

// LLMConfig points at the voice bridge that holds the realtime model
// session. The same endpoint serves instruction updates and the optional
// intent refiner's chat calls.
type LLMConfig struct {
	// BaseURL of the bridge. Empty disables remote updates; assembled
	// instructions are then only logged.
	BaseURL string `yaml:"base_url"`
	// APIKey supports "enc:" values decrypted via CLARA_CONFIG_KEY.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// RefineEnabled turns on the LLM second pass for low-confidence
	// intent classifications.
	RefineEnabled bool `yaml:"refine_enabled"`
	// RefineThreshold is the confidence below which the refiner runs.
	RefineThreshold float64 `yaml:"refine_threshold"`
	// Timeout bounds each bridge request.
	Timeout time.Duration `yaml:"timeout"`
}

// DispatchConfig tunes the tool dispatcher.
type DispatchConfig struct {
	// Timeout bounds each tool invocation (default 30s).
	Timeout time.Duration `yaml:"timeout"`
}

// RemindersConfig tunes the reminder due monitor.
type RemindersConfig struct {
	Enabled bool `yaml:"enabled"`
	// CheckSpec is a cron expression for the due scan cadence.
	CheckSpec string `yaml:"check_spec"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Agent:  AgentConfig{UserName: "friend"},
		Server: ServerConfig{Addr: "127.0.0.1:8787", RequestsPerMin: 60, BurstSize: 10},
		LLM: LLMConfig{
			Model:           "gpt-4o-realtime-preview",
			RefineThreshold: 0.7,
			Timeout:         15 * time.Second,
		},
		Dispatch: DispatchConfig{
			Timeout: 30 * time.Second,
		},
		Reminders: RemindersConfig{Enabled: true, CheckSpec: "@every 30s"},
		Logger:    LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer:    TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load reads the config from path, applies environment overrides, and
// decrypts any "enc:" secrets. An empty path yields the defaults with
// overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := validatePermissions(path); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := decryptSecrets(cfg, os.Getenv("CLARA_CONFIG_KEY")); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLARA_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CLARA_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("CLARA_USER_NAME"); v != "" {
		cfg.Agent.UserName = v
	}
	if v := os.Getenv("CLARA_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CLARA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
}

// Validate checks invariants a running process depends on.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if c.Server.Addr == "" {
		return domain.NewDomainError(op, domain.ErrConfigLoad, "server.addr must not be empty")
	}
	if c.Dispatch.Timeout < 0 {
		return domain.NewDomainError(op, domain.ErrConfigLoad, "dispatch.timeout must not be negative")
	}
	switch strings.ToLower(c.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return domain.NewDomainError(op, domain.ErrConfigLoad, fmt.Sprintf("unknown log level %q", c.Logger.Level))
	}

	seen := make(map[string]bool, len(c.Specialists))
	for _, sp := range c.Specialists {
		if sp.Name == "" {
			return domain.NewDomainError(op, domain.ErrConfigLoad, "specialist missing name")
		}
		if seen[sp.Name] {
			return domain.NewDomainError(op, domain.ErrConfigLoad, fmt.Sprintf("duplicate specialist %q", sp.Name))
		}
		seen[sp.Name] = true
	}
	return nil
}

// decryptSecrets resolves "enc:" values. A missing passphrase with
// encrypted values present is an error, not a silent plaintext fallback.
func decryptSecrets(cfg *Config, passphrase string) error {
	const op = "config.decryptSecrets"

	fields := []*string{&cfg.Server.Token, &cfg.LLM.APIKey}
	for _, f := range fields {
		if !strings.HasPrefix(*f, "enc:") {
			continue
		}
		if passphrase == "" {
			return domain.NewDomainError(op, domain.ErrDecryption, "CLARA_CONFIG_KEY not set")
		}
		plain, err := DecryptValue(strings.TrimPrefix(*f, "enc:"), passphrase)
		if err != nil {
			return domain.NewDomainError(op, domain.ErrDecryption, err.Error())
		}
		*f = plain
	}
	return nil
}

// validatePermissions rejects world-writable config files.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
