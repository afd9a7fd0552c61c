package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CODEXD_"
)

// Load reads configuration from the YAML file at configPath, then applies
// environment overrides.
//
// Precedence (highest to lowest):
//  1. CODEXD_* environment variables
//  2. YAML config file (default ~/.config/codexd/config.yaml)
//  3. Defaults
//
// The file is optional. When present it must live in ~/.config/codexd/ or
// /etc/codexd/, be at most 1MB, and have 0600 or 0400 permissions.
//
// Environment variables map onto keys by splitting on the first underscore
// after the prefix:
//
//	CODEXD_SERVER_PORT          -> server.port
//	CODEXD_LLM_API_KEY          -> llm.api_key
//	CODEXD_GITHUB_WEBHOOK_SECRET -> github.webhook_secret
//
// OPENAI_API_KEY and GITHUB_TOKEN are used when the matching secret is unset.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k
	applyEnvFallbacks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps CODEXD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func applyEnvFallbacks(cfg *Config) {
	if !cfg.LLM.APIKey.IsSet() {
		cfg.LLM.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if !cfg.GitHub.Token.IsSet() {
		cfg.GitHub.Token = Secret(os.Getenv("GITHUB_TOKEN"))
	}
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	// Validate through the opened descriptor to avoid a stat/open race.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// DefaultDir returns ~/.config/codexd.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "codexd"), nil
}

// EnsureConfigDir creates the config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := DefaultDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks that path is inside an allowed directory. It
// runs whether or not the file exists.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	dir, err := DefaultDir()
	if err != nil {
		return err
	}
	for _, allowed := range []string{dir, "/etc/codexd"} {
		if resolved == allowed || strings.HasPrefix(resolved, allowed+string(filepath.Separator)) {
			return nil
		}
	}
	return errors.New("config file must be in ~/.config/codexd/ or /etc/codexd/")
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
