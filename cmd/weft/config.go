package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weft-run/weft/internal/plugins"
)

// JobConfig is one recurring workflow trigger from settings.json. The
// referenced workflow must be defined through workflow.define before the
// job can run; until then each attempt fails and is retried on the next
// tick.
type JobConfig struct {
	Workflow string         `json:"workflow"`
	Version  int            `json:"version,omitempty"`
	Cron     string         `json:"cron"`
	Input    map[string]any `json:"input,omitempty"`
}

// Config holds the weft server settings. Values are layered: defaults,
// then ~/.weft/settings.json, then WEFT_* environment variables.
type Config struct {
	LogLevel   string                   `json:"log_level"`
	Journal    string                   `json:"journal"`
	Evaluator  string                   `json:"evaluator"`
	PoolSize   int                      `json:"pool_size"`
	PanelAddr  string                   `json:"panel_addr,omitempty"`
	HTTPAllow  []string                 `json:"http_allow"`
	StrictVars bool                     `json:"strict_variables"`
	Jobs       []JobConfig              `json:"jobs,omitempty"`
	Plugins    []plugins.ProviderConfig `json:"plugins,omitempty"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:  "info",
		Evaluator: "template",
		PoolSize:  4,
	}
}

// weftDir returns the weft configuration directory (~/.weft).
func weftDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return filepath.Join(home, ".weft")
}

func settingsPath() string {
	return filepath.Join(weftDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath())
}

func loadConfigFrom(path string) Config {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("WEFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WEFT_JOURNAL"); v != "" {
		cfg.Journal = v
	}
	if v := os.Getenv("WEFT_EVALUATOR"); v != "" {
		cfg.Evaluator = v
	}
	if v := os.Getenv("WEFT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("WEFT_PANEL"); v != "" {
		cfg.PanelAddr = v
	}
	if v := os.Getenv("WEFT_HTTP_ALLOW"); v != "" {
		cfg.HTTPAllow = splitList(v)
	}
	if v := os.Getenv("WEFT_STRICT_VARIABLES"); v != "" {
		cfg.StrictVars = v == "true" || v == "1"
	}

	return cfg
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func slogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
