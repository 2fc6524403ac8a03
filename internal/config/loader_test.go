package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty document keeps defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/mnt/data", cfg.Workspace.VirtualPrefix)
				assert.Equal(t, LinkModeAuto, cfg.Workspace.LinkMode)
				assert.Equal(t, []string{"xlsx", "xls", "csv", "pdf"}, cfg.Outputs.Formats)
				assert.Equal(t, 60*time.Second, cfg.Gateway.Timeout)
			},
		},
		{
			name: "overrides and normalization",
			yaml: `
service:
  log_level: DEBUG
workspace:
  data_dir: /srv/owui
  virtual_prefix: /mnt/data/
  link_mode: Copy
outputs:
  formats: [".XLSX", "pdf", "pdf", " docx "]
gateway:
  url: https://gateway.internal:8888
  timeout: 2m
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Service.LogLevel)
				assert.Equal(t, "/srv/owui", cfg.Workspace.DataDir)
				assert.Equal(t, "/mnt/data", cfg.Workspace.VirtualPrefix)
				assert.Equal(t, LinkModeCopy, cfg.Workspace.LinkMode)
				assert.Equal(t, []string{"xlsx", "pdf", "docx"}, cfg.Outputs.Formats)
				assert.Equal(t, 2*time.Minute, cfg.Gateway.Timeout)
			},
		},
		{
			name: "env interpolation",
			yaml: `
gateway:
  url: http://gw:8888
  token: ${MNTDATA_TEST_TOKEN}
`,
			env: map[string]string{"MNTDATA_TEST_TOKEN": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "s3cret", cfg.Gateway.Token)
			},
		},
		{
			name: "unset env var is reported",
			yaml: `
gateway:
  token: ${MNTDATA_TEST_MISSING_TOKEN}
`,
			wantErr: "MNTDATA_TEST_MISSING_TOKEN",
		},
		{
			name:    "unknown field rejected",
			yaml:    "workspace:\n  mount: /x\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "bad link mode",
			yaml:    "workspace:\n  link_mode: hardlink\n",
			wantErr: "workspace.link_mode",
		},
		{
			name:    "relative virtual prefix",
			yaml:    "workspace:\n  virtual_prefix: mnt/data\n",
			wantErr: "workspace.virtual_prefix",
		},
		{
			name:    "gateway url must be http",
			yaml:    "gateway:\n  url: ftp://gw\n",
			wantErr: "gateway.url",
		},
		{
			name:    "no formats",
			yaml:    "outputs:\n  formats: []\n",
			wantErr: "outputs.formats",
		},
		{
			name:    "api enabled without listen",
			yaml:    "api:\n  enabled: true\n  listen: \"\"\n",
			wantErr: "api.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	content := "workspace:\n  data_dir: " + filepath.Join(dir, "data") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Workspace.DataDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestEngineDataDir(t *testing.T) {
	cfg := Defaults()
	cfg.Workspace.DataDir = "/srv/data"
	assert.Equal(t, "/srv/data", cfg.EngineDataDir())

	cfg.Workspace.EngineDataDir = "/home/jovyan/data"
	assert.Equal(t, "/home/jovyan/data", cfg.EngineDataDir())
}
