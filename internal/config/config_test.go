package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Mmap)
	assert.True(t, cfg.Catalog)
	assert.False(t, cfg.Remote.Configured())
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(EnvStore, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvStore, "")
	t.Setenv(EnvLogLevel, "")

	path := filepath.Join(t.TempDir(), "flasharc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_dir: /var/lib/flasharc
compress: true
compression_level: 2
mmap: false
remote:
  type: s3
  bucket: backups
  prefix: hosts/web1
  insecure: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/flasharc", cfg.StoreDir)
	assert.True(t, cfg.Compress)
	assert.Equal(t, 2, cfg.CompressionLevel)
	assert.False(t, cfg.Mmap)
	// Unset keys keep their defaults.
	assert.Equal(t, 10, cfg.CacheSize)
	assert.True(t, cfg.Catalog)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Remote.Configured())
	assert.Equal(t, "backups", cfg.Remote.Bucket)
	assert.Equal(t, "hosts/web1", cfg.Remote.Prefix)
	assert.True(t, cfg.Remote.Insecure)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvStore, "/tmp/override")
	t.Setenv(EnvLogLevel, "debug")

	path := filepath.Join(t.TempDir(), "flasharc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_dir: /from/file\nlog_level: error\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override", cfg.StoreDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvStore, "")
	t.Setenv(EnvLogLevel, "")

	tests := []struct {
		name    string
		content string
	}{
		{"Syntax", "store_dir: [unclosed"},
		{"CompressionLevel", "compression_level: 9"},
		{"CacheSize", "cache_size: -1"},
		{"LogLevel", "log_level: loud"},
		{"RemoteType", "remote:\n  type: ftp\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSave(t *testing.T) {
	t.Setenv(EnvStore, "")
	t.Setenv(EnvLogLevel, "")

	cfg := Default()
	cfg.StoreDir = "/data/archives"
	cfg.Remote = Remote{Type: "file", Directory: "/mnt/bucket"}

	path := filepath.Join(t.TempDir(), "nested", "flasharc.yaml")
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
