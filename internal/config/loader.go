package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Values missing from the
// file keep their Defaults().
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", absPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML config bytes on top of Defaults(), interpolating ${VAR}
// references from the environment, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	normalize(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} with the environment value. Unknown
// variables are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func normalize(cfg *Config) {
	cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Service.LogLevel))
	cfg.Workspace.LinkMode = strings.ToLower(strings.TrimSpace(cfg.Workspace.LinkMode))
	if cfg.Workspace.LinkMode == "" {
		cfg.Workspace.LinkMode = LinkModeAuto
	}
	cfg.Workspace.VirtualPrefix = strings.TrimSpace(cfg.Workspace.VirtualPrefix)
	if len(cfg.Workspace.VirtualPrefix) > 1 {
		cfg.Workspace.VirtualPrefix = strings.TrimRight(cfg.Workspace.VirtualPrefix, "/")
	}

	formats := make([]string, 0, len(cfg.Outputs.Formats))
	seen := make(map[string]bool, len(cfg.Outputs.Formats))
	for _, f := range cfg.Outputs.Formats {
		f = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f)), ".")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		formats = append(formats, f)
	}
	cfg.Outputs.Formats = formats
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	if cfg.Workspace.DataDir == "" {
		return fmt.Errorf("workspace.data_dir is required")
	}
	if !strings.HasPrefix(cfg.Workspace.VirtualPrefix, "/") || cfg.Workspace.VirtualPrefix == "/" {
		return fmt.Errorf("workspace.virtual_prefix must be an absolute path below / (got %q)", cfg.Workspace.VirtualPrefix)
	}
	switch cfg.Workspace.LinkMode {
	case LinkModeAuto, LinkModeSymlink, LinkModeCopy:
	default:
		return fmt.Errorf("workspace.link_mode must be one of: auto, symlink, copy (got %q)", cfg.Workspace.LinkMode)
	}
	if cfg.Workspace.Retention < 0 {
		return fmt.Errorf("workspace.retention must not be negative")
	}

	if len(cfg.Outputs.Formats) == 0 {
		return fmt.Errorf("outputs.formats must list at least one extension")
	}

	if cfg.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(cfg.Gateway.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("gateway.url must be an http(s) URL (got %q)", cfg.Gateway.URL)
	}
	if cfg.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}
	if cfg.Gateway.KernelName == "" {
		return fmt.Errorf("gateway.kernel_name is required")
	}
	if m := envVarPattern.FindStringSubmatch(cfg.Gateway.Token); len(m) > 1 {
		return fmt.Errorf("gateway.token: environment variable ${%s} is not set", m[1])
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if m := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey); len(m) > 1 {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", m[1])
		}
	}
	if cfg.API.MaxConcurrent < 0 {
		return fmt.Errorf("api.max_concurrent must not be negative")
	}

	return nil
}

// EngineDataDir returns the data directory as seen by the execution engine.
func (c *Config) EngineDataDir() string {
	if c.Workspace.EngineDataDir != "" {
		return c.Workspace.EngineDataDir
	}
	if abs, err := filepath.Abs(c.Workspace.DataDir); err == nil {
		return abs
	}
	return c.Workspace.DataDir
}

// LockPath is the instance lock held by a running server.
func (c *Config) LockPath() string {
	return filepath.Join(c.Workspace.DataDir, "mntdata.lock")
}
