package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// FileConfig is the YAML structure of the agent config file.
type FileConfig struct {
	// Provider: "anthropic" | "bedrock"
	Provider string `yaml:"provider"`

	// Model ID to use (e.g. "claude-sonnet-4-5")
	Model string `yaml:"model"`

	// BaseURL overrides the default Anthropic endpoint. Long cache
	// retention is only honored on the canonical endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey can be a literal key or "${ENV_VAR}" to read from environment.
	APIKey string `yaml:"api_key"`

	// SystemPrompt is sent with every call.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps the response length (0 = model default).
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls randomness (nil = provider default).
	Temperature *float64 `yaml:"temperature"`

	// ThinkingLevel: "off" | "minimal" | "low" | "medium" | "high" | "xhigh".
	// Empty = no thinking parameter sent.
	ThinkingLevel string `yaml:"thinking_level"`

	// ThinkingBudgets optionally overrides per-level token budgets for
	// models that take a fixed budget instead of an effort parameter.
	ThinkingBudgets ThinkingBudgetsConfig `yaml:"thinking_budgets"`

	// CacheRetention: "none" | "short" | "long". Default "short".
	CacheRetention string `yaml:"cache_retention"`

	// Region is used by Amazon Bedrock (e.g. "us-east-1").
	// Defaults to AWS_DEFAULT_REGION / ~/.aws/config.
	Region string `yaml:"region"`

	// Profile is the AWS profile name for Bedrock authentication.
	Profile string `yaml:"profile"`

	// SessionsDir overrides where session JSONL files are stored.
	SessionsDir string `yaml:"sessions_dir"`

	// SteeringMode / FollowUpMode: "all" (default) | "one-at-a-time".
	SteeringMode string `yaml:"steering_mode"`
	FollowUpMode string `yaml:"follow_up_mode"`

	// Tools configures built-in and plugin tools.
	Tools ToolsConfig `yaml:"tools"`
}

// ThinkingBudgetsConfig mirrors ai.ThinkingBudgets with YAML tags.
type ThinkingBudgetsConfig struct {
	Minimal int `yaml:"minimal"`
	Low     int `yaml:"low"`
	Medium  int `yaml:"medium"`
	High    int `yaml:"high"`
	XHigh   int `yaml:"xhigh"`
}

// ToolsConfig controls which built-in tools are registered and which plugin
// executables are loaded.
type ToolsConfig struct {
	// Fetch enables the built-in HTTP fetch tool. Defaults to true; set
	// "fetch: false" to disable.
	Fetch *bool `yaml:"fetch"`

	// Plugins lists external tool executables to load at startup.
	Plugins []PluginConfig `yaml:"plugins"`
}

// PluginConfig describes a single external tool plugin.
type PluginConfig struct {
	// Path is the path to the executable.
	Path string `yaml:"path"`
	// Args are extra CLI arguments passed to the plugin process.
	Args []string `yaml:"args"`
}

// FetchEnabled resolves the fetch toggle (default true).
func (c *FileConfig) FetchEnabled() bool {
	return c.Tools.Fetch == nil || *c.Tools.Fetch
}

// LoadFileConfig reads and parses a YAML config file, expanding ${ENV_VAR}
// references in string values.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Expand environment variables in the raw YAML before parsing.
	expanded := os.ExpandEnv(string(data))

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := validateFileConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validateFileConfig(cfg *FileConfig) error {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch cfg.Provider {
	case "anthropic", "bedrock":
	case "":
		return fmt.Errorf("config: provider is required")
	default:
		return fmt.Errorf("config: unknown provider %q", cfg.Provider)
	}
	if cfg.Model == "" {
		return fmt.Errorf("config: model is required")
	}
	switch cfg.SteeringMode {
	case "", string(QueueModeAll), string(QueueModeOne):
	default:
		return fmt.Errorf("config: invalid steering_mode %q", cfg.SteeringMode)
	}
	switch cfg.FollowUpMode {
	case "", string(QueueModeAll), string(QueueModeOne):
	default:
		return fmt.Errorf("config: invalid follow_up_mode %q", cfg.FollowUpMode)
	}
	return nil
}
