package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads a JSON5 config file, applies it over Default, then applies
// CREWD_* environment overrides. A missing file is not an error; the
// defaults plus environment are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Team.Leader == "" {
		return nil, fmt.Errorf("config: team.leader must not be empty")
	}
	if len(cfg.Team.Collaborators) == 0 {
		return nil, fmt.Errorf("config: team.collaborators must not be empty")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CREWD_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("CREWD_API_BASE"); v != "" {
		cfg.Provider.APIBase = v
	}
	if v := os.Getenv("CREWD_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("CREWD_BRAVE_API_KEY"); v != "" {
		cfg.Tools.BraveAPIKey = v
	}
	if v := os.Getenv("CREWD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CREWD_SQLITE_PATH"); v != "" {
		cfg.History.SQLitePath = v
	}
	if v := os.Getenv("CREWD_POSTGRES_DSN"); v != "" {
		cfg.History.PostgresDSN = v
	}
	if v := os.Getenv("CREWD_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
	if v := os.Getenv("CREWD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("CREWD_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
}
