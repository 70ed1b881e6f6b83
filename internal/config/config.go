// Package config holds the crewd runtime configuration: the agent roster,
// provider credentials, budgets, and gateway settings.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration for the crewd kernel.
type Config struct {
	Team      TeamConfig      `json:"team"`
	Provider  ProviderConfig  `json:"provider"`
	Session   SessionConfig   `json:"session"`
	Gateway   GatewayConfig   `json:"gateway"`
	History   HistoryConfig   `json:"history"`
	Tools     ToolsConfig     `json:"tools"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// DataDir holds the event log and other runtime files.
	DataDir string `json:"data_dir"`
	// PromptsDir holds the prompt template files; empty uses embedded defaults.
	PromptsDir string `json:"prompts_dir,omitempty"`
}

// TeamConfig names the fixed agent set and their temperatures.
type TeamConfig struct {
	Leader        string             `json:"leader"`
	Collaborators []string           `json:"collaborators"`
	Temperatures  map[string]float64 `json:"temperatures,omitempty"`

	// StartBudget is the initial work-credit balance of every agent.
	StartBudget int `json:"start_budget"`
}

// Names returns leader plus collaborators, leader first.
func (t TeamConfig) Names() []string {
	return append([]string{t.Leader}, t.Collaborators...)
}

// Temperature resolves an agent's temperature, falling back to the leader
// and collaborator defaults.
func (t TeamConfig) Temperature(name string) float64 {
	if temp, ok := t.Temperatures[name]; ok {
		return temp
	}
	if name == t.Leader {
		return 0.6
	}
	return 0.7
}

// ProviderConfig points at the reasoning oracle.
type ProviderConfig struct {
	Name    string `json:"name"`
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model"`

	// MaxTokens bounds each oracle response.
	MaxTokens int `json:"max_tokens"`
}

// SessionConfig bounds one orchestrator session.
type SessionConfig struct {
	// MaxSteps bounds the leader-driven session loop.
	MaxSteps int `json:"max_steps"`
	// MaxToolRounds bounds one collaborator awakening.
	MaxToolRounds int `json:"max_tool_rounds"`
	// RequireTitleTool makes the leader call set_conversation_title before
	// solving the task.
	RequireTitleTool bool `json:"require_title_tool"`
}

// GatewayConfig configures the HTTP/WebSocket surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	RateLimitRPM   int      `json:"rate_limit_rpm"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// HistoryConfig selects the conversation store backend. A non-empty
// PostgresDSN selects Postgres; otherwise the embedded SQLite file is used.
type HistoryConfig struct {
	SQLitePath  string `json:"sqlite_path"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`
}

// ToolsConfig configures tool backends.
type ToolsConfig struct {
	BraveAPIKey string `json:"brave_api_key,omitempty"`
	// PythonTimeoutSecs bounds python_run executions.
	PythonTimeoutSecs int `json:"python_timeout_secs"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Team: TeamConfig{
			Leader:        "Atlas",
			Collaborators: []string{"Harper", "Benjamin", "Lucas"},
			StartBudget:   10,
		},
		Provider: ProviderConfig{
			Name:      "openai",
			APIBase:   "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Session: SessionConfig{
			MaxSteps:      15,
			MaxToolRounds: 3,
		},
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         8731,
			RateLimitRPM: 20,
		},
		History: HistoryConfig{
			SQLitePath: "~/.crewd/history.db",
		},
		Tools: ToolsConfig{
			PythonTimeoutSecs: 30,
		},
		DataDir: "~/.crewd/data",
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
