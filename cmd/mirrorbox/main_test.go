package main

import (
	"path/filepath"
	"testing"

	"github.com/mirrorbox/mirrorbox/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigFromViper(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()

	localDir := t.TempDir()
	viper.Set("server_url", "http://drive.test")
	viper.Set("ledger_path", filepath.Join(t.TempDir(), "ledger.db"))
	viper.Set("workers", 3)
	viper.Set("pairs", []map[string]any{
		{"local_dir": localDir, "remote_path": "work/reports"},
	})

	cfg, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://drive.test", cfg.ServerURL)
	assert.Equal(t, 3, cfg.Workers)
	require.Len(t, cfg.Pairs, 1)
	assert.Equal(t, localDir, cfg.Pairs[0].LocalDir)
	assert.Equal(t, "/work/reports", cfg.Pairs[0].RemotePath)
}

func TestBuildConfigRejectsEmpty(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()

	_, err := buildConfig()
	assert.Error(t, err)
}

func TestConfigFileRoundTripThroughViper(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()

	localDir := t.TempDir()
	saved := &config.Config{
		Pairs:      []config.DirPair{{LocalDir: localDir, RemotePath: "/work"}},
		ServerURL:  "http://drive.test",
		LedgerPath: filepath.Join(t.TempDir(), "ledger.db"),
		Workers:    2,
	}
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, saved.Save(path))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, saved.ServerURL, cfg.ServerURL)
	assert.Equal(t, saved.Pairs, cfg.Pairs)
}
