package config

import "time"

// Config represents the complete mntdata configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Outputs   OutputsConfig   `yaml:"outputs"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	API       APIConfig       `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// CatalogConfig points at the SQLite file catalog.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// WorkspaceConfig defines where session workspaces live and how inputs are linked.
type WorkspaceConfig struct {
	// DataDir is the root data directory; workspaces live in {data_dir}/uploads/{session}.
	DataDir string `yaml:"data_dir"`
	// EngineDataDir is DataDir as mounted inside the execution engine.
	// Empty means the engine shares our filesystem view.
	EngineDataDir string `yaml:"engine_data_dir,omitempty"`
	VirtualPrefix string `yaml:"virtual_prefix"`
	LinkMode      string `yaml:"link_mode"` // auto | symlink | copy
	// Retention is only consulted by the explicit prune command.
	Retention time.Duration `yaml:"retention,omitempty"`
}

// OutputsConfig defines which generated files are captured.
type OutputsConfig struct {
	Formats        []string `yaml:"formats"`
	FormatKeywords []string `yaml:"format_keywords,omitempty"`
	IntentKeywords []string `yaml:"intent_keywords,omitempty"`
	Exclude        []string `yaml:"exclude,omitempty"`
}

// GatewayConfig defines the Jupyter Enterprise Gateway connection.
type GatewayConfig struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token,omitempty"`
	KernelName   string        `yaml:"kernel_name"`
	Username     string        `yaml:"username"`
	Timeout      time.Duration `yaml:"timeout"`
	ReadyTimeout time.Duration `yaml:"ready_timeout,omitempty"`
	InitCode     string        `yaml:"init_code,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Listen        string        `yaml:"listen"`
	Auth          APIAuthConfig `yaml:"auth"`
	MaxConcurrent int           `yaml:"max_concurrent,omitempty"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// Link modes.
const (
	LinkModeAuto    = "auto"
	LinkModeSymlink = "symlink"
	LinkModeCopy    = "copy"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "mntdata",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Catalog: CatalogConfig{
			Path: "./data/catalog.db",
		},
		Workspace: WorkspaceConfig{
			DataDir:       "./data",
			VirtualPrefix: "/mnt/data",
			LinkMode:      LinkModeAuto,
			Retention:     7 * 24 * time.Hour,
		},
		Outputs: OutputsConfig{
			Formats: []string{"xlsx", "xls", "csv", "pdf"},
			Exclude: []string{"**/.ipynb_checkpoints/**", "**/__pycache__/**", "**/~$*"},
		},
		Gateway: GatewayConfig{
			URL:          "http://127.0.0.1:8888",
			KernelName:   "python3",
			Username:     "code-interpreter",
			Timeout:      60 * time.Second,
			ReadyTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Enabled:       false,
			Listen:        "127.0.0.1:8080",
			MaxConcurrent: 8,
		},
	}
}
