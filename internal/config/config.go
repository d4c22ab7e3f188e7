package config

import (
	"encoding/json"
	"fmt"
)

// Config is the main runtime configuration.
type Config struct {
	// DataDir holds session journals and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// WorkspaceRoot is the filesystem sandbox boundary for path-based tools.
	WorkspaceRoot string `json:"workspace_root" mapstructure:"workspace_root"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Bus     BusConfig     `json:"bus" mapstructure:"bus"`
	Tools   ToolsConfig   `json:"tools" mapstructure:"tools"`
	Session SessionConfig `json:"session" mapstructure:"session"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	AI      AIConfig      `json:"ai" mapstructure:"ai"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// BusConfig holds event bus configuration.
type BusConfig struct {
	// Policy is "block" (publisher waits on full subscriber queues) or
	// "drop_oldest" (oldest queued event is discarded).
	Policy string `json:"policy" mapstructure:"policy"`

	// BufferSize is the per-subscriber queue capacity.
	BufferSize int `json:"buffer_size" mapstructure:"buffer_size"`
}

// ToolsConfig holds tool execution limits and shell command policy.
type ToolsConfig struct {
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxOutputBytes int      `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	ShellAllow     []string `json:"shell_allow" mapstructure:"shell_allow"`
	ShellDeny      []string `json:"shell_deny" mapstructure:"shell_deny"`
}

// SessionConfig holds per-session defaults.
type SessionConfig struct {
	SystemPrompt    string   `json:"system_prompt" mapstructure:"system_prompt"`
	AuthorizedTools []string `json:"authorized_tools" mapstructure:"authorized_tools"`

	// DeletePolicy is "force_interrupt" (interrupt a running session, then
	// delete) or "reject_busy" (delete fails while the session is running).
	DeletePolicy string `json:"delete_policy" mapstructure:"delete_policy"`

	// RetentionDays is how long idle session journals are kept.
	RetentionDays int `json:"retention_days" mapstructure:"retention_days"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// AIConfig holds LLM provider configuration.
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents one provider credential.
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Bus: BusConfig{
			Policy:     "block",
			BufferSize: 64,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 60,
			MaxOutputBytes: 65536,
			ShellAllow:     []string{"ls", "cat", "rg", "git", "go", "python"},
			ShellDeny:      []string{"rm", "shutdown", "reboot", "mkfs", "dd", "fdisk"},
		},
		Session: SessionConfig{
			SystemPrompt:    "You are a helpful assistant.",
			AuthorizedTools: []string{"fs_read", "fs_write", "shell_run"},
			DeletePolicy:    "force_interrupt",
			RetentionDays:   7,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Bus.Policy {
	case "block", "drop_oldest":
	default:
		return fmt.Errorf("invalid bus policy %q (must be: block, drop_oldest)", c.Bus.Policy)
	}
	if c.Bus.BufferSize <= 0 {
		return fmt.Errorf("bus buffer size must be positive")
	}

	if c.Tools.TimeoutSeconds <= 0 {
		return fmt.Errorf("tool timeout must be positive")
	}
	if c.Tools.MaxOutputBytes <= 0 {
		return fmt.Errorf("tool output cap must be positive")
	}

	switch c.Session.DeletePolicy {
	case "force_interrupt", "reject_busy":
	default:
		return fmt.Errorf("invalid delete policy %q (must be: force_interrupt, reject_busy)", c.Session.DeletePolicy)
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		switch profile.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	return nil
}
