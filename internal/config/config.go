package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// FileName is the config file looked up in the global and repo directories.
const FileName = "config.toml"

// EnvPrefix prefixes environment overrides, e.g. CRITIQUE_COMPLETION_MODEL.
const EnvPrefix = "CRITIQUE_"

// Config holds application configuration.
type Config struct {
	Editor     EditorConfig     `koanf:"editor"`
	Completion CompletionConfig `koanf:"completion"`
	Session    SessionConfig    `koanf:"session"`
	Export     ExportConfig     `koanf:"export"`
	DB         DBConfig         `koanf:"db"`
	MCP        MCPConfig        `koanf:"mcp"`
	Web        WebConfig        `koanf:"web"`
	Log        LogConfig        `koanf:"log"`
}

type EditorConfig struct {
	// MaxLines caps the document; longer input is truncated from the tail.
	MaxLines         int    `koanf:"max_lines"`
	DefaultTheme     string `koanf:"default_theme"`
	ClearResetsTheme bool   `koanf:"clear_resets_theme"`
}

// CompletionConfig selects and tunes the completion provider.
type CompletionConfig struct {
	// Provider is one of openai, ollama, anthropic.
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	// BaseURL overrides the provider endpoint (OpenAI-compatible gateways, remote Ollama).
	BaseURL string `koanf:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself is never read from config files.
	APIKeyEnv string        `koanf:"api_key_env"`
	Timeout   time.Duration `koanf:"timeout"`
	// RequestsPerMinute paces outgoing requests. 0 means unlimited.
	RequestsPerMinute int `koanf:"requests_per_minute"`
	Burst             int `koanf:"burst"`
}

type SessionConfig struct {
	Name string `koanf:"name"`
}

type ExportConfig struct {
	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.critique/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `koanf:"allowed_paths"`

	// AllowUnsafePaths disables directory restrictions for import/export.
	// When true, any directory is allowed (but symlink and extension checks still apply).
	AllowUnsafePaths bool `koanf:"allow_unsafe_paths"`
}

type DBConfig struct {
	// MaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	MaxOpenConns int `koanf:"max_open_conns"`
	MaxIdleConns int `koanf:"max_idle_conns"`
}

type MCPConfig struct {
	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `koanf:"disabled_tools"`
}

type WebConfig struct {
	Bind string `koanf:"bind"`
	Port int    `koanf:"port"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Providers lists the supported completion providers.
var Providers = []string{"openai", "ollama", "anthropic"}

// defaults is the lowest configuration layer.
var defaults = map[string]any{
	"editor.max_lines":               1000,
	"editor.default_theme":           "dark",
	"editor.clear_resets_theme":      true,
	"completion.provider":            "openai",
	"completion.model":               "gpt-4o",
	"completion.base_url":            "",
	"completion.api_key_env":         "OPENAI_API_KEY",
	"completion.timeout":             "60s",
	"completion.requests_per_minute": 0,
	"completion.burst":               1,
	"session.name":                   "default",
	"export.allow_unsafe_paths":      false,
	"web.bind":                       "127.0.0.1",
	"web.port":                       7717,
	"log.level":                      "info",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(defaults, "."), nil)
	var cfg Config
	_ = k.Unmarshal("", &cfg)
	return &cfg
}

// Load loads configuration from baseDir/config.toml over the defaults,
// then applies environment overrides.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.critique.
func Load(baseDir string) (*Config, error) {
	return load(filepath.Join(baseDir, FileName), "")
}

// LoadWithRepo loads configuration from both global (~/.critique) and repo (.critique) directories.
// Repo config is found by walking upward from startDir to find the nearest .critique/config.toml.
// Layers apply in order defaults, global, repo, environment; later layers win for
// scalars while list values are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	return load(filepath.Join(globalDir, FileName), FindRepoConfig(startDir))
}

// LoadFile loads configuration from an explicit file path. A missing file is an error.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return load(path, "")
}

// FindRepoConfig walks upward from startDir to find the nearest .critique/config.toml.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".critique", FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root, not found
			return ""
		}
		dir = parent
	}
}

func load(globalPath, repoPath string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	var allowed, disabled [][]string
	for _, path := range []string{globalPath, repoPath} {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		if err := k.Merge(layer); err != nil {
			return nil, fmt.Errorf("error merging %s: %w", path, err)
		}
		allowed = append(allowed, layer.Strings("export.allowed_paths"))
		disabled = append(disabled, layer.Strings("mcp.disabled_tools"))
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// Lists accumulate across files instead of being replaced.
	cfg.Export.AllowedPaths = mergeStringSlice(append(allowed, cfg.Export.AllowedPaths)...)
	cfg.MCP.DisabledTools = mergeStringSlice(append(disabled, cfg.MCP.DisabledTools)...)

	return &cfg, nil
}

// loadLayer parses one TOML file. A missing file yields nil, nil.
func loadLayer(path string) (*koanf.Koanf, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	layer := koanf.New(".")
	if err := layer.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("error loading config %s: %w", path, err)
	}
	return layer, nil
}

// envKey maps CRITIQUE_COMPLETION_API_KEY_ENV to completion.api_key_env:
// the first underscore after the prefix separates section from key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// mergeStringSlice combines slices in order, trims whitespace, and removes duplicates.
func mergeStringSlice(lists ...[]string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}
	return result
}

var logLevels = []string{"trace", "debug", "info", "warn", "error", "disabled"}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if !contains(Providers, cfg.Completion.Provider) {
		return fmt.Errorf("unknown completion provider %q (want one of %s)", cfg.Completion.Provider, strings.Join(Providers, ", "))
	}
	if cfg.Completion.Model == "" {
		return fmt.Errorf("completion model is required")
	}
	if cfg.Completion.Timeout < 0 {
		return fmt.Errorf("completion timeout must not be negative")
	}
	if cfg.Completion.RequestsPerMinute < 0 {
		return fmt.Errorf("completion requests_per_minute must not be negative")
	}
	if cfg.Editor.MaxLines <= 0 {
		return fmt.Errorf("editor max_lines must be positive, got %d", cfg.Editor.MaxLines)
	}
	if cfg.Editor.DefaultTheme != "dark" && cfg.Editor.DefaultTheme != "light" {
		return fmt.Errorf("editor default_theme must be dark or light, got %q", cfg.Editor.DefaultTheme)
	}
	if !contains(logLevels, cfg.Log.Level) {
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		return fmt.Errorf("web port out of range: %d", cfg.Web.Port)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
