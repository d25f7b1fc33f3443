package config

import (
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
	EnvPrefix = "QAFLOW_"
)

// DefaultPath returns ~/.config/qaflow/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "qaflow", "config.yaml"), nil
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. QAFLOW_* environment variables
//  2. YAML config file
//  3. Defaults
//
// An empty configPath selects DefaultPath. A missing file is not an error.
// The file must live under ~/.config/qaflow/ or /etc/qaflow/, be at most 1MB
// and have 0600 or 0400 permissions, since it holds backend credentials.
//
// Environment variables split on the first underscore after the prefix:
//
//	QAFLOW_JIRA_API_TOKEN          -> jira.api_token
//	QAFLOW_SERVER_HTTP_PORT        -> server.http_port
//	QAFLOW_DEPLOY_VERIFY_ENVIRONMENT -> deploy.verify_environment
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range map[string]any{
		"orchestration.require_build":     true,
		"orchestration.retry.max_retries": 3,
		"secrets.enabled":                 true,
	} {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to seed defaults: %w", err)
		}
	}

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
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

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps QAFLOW_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Stat the open descriptor so the checked file is the one read.
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

// validateConfigPath checks the path is inside an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	for _, dir := range []string{filepath.Join(home, ".config", "qaflow"), "/etc/qaflow"} {
		if r, err := filepath.EvalSymlinks(dir); err == nil {
			dir = r
		}
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/qaflow/ or /etc/qaflow/")
}

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
