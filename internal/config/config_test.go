package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchSpecConstants(t *testing.T) {
	d := Defaults()
	require.Equal(t, 64, d.CacheCapacity)
	require.Equal(t, 512, d.SectorSize)
	require.EqualValues(t, 0x08048000, d.UserFloor)
	require.EqualValues(t, 0xC0000000, d.UserCeiling)
	require.EqualValues(t, 32, d.StackGrowthSlack)
}

func TestLoadWithNoConfigFileReturnsDefaults(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v, "")
	require.NoError(t, err)
	require.Equal(t, Defaults().CacheCapacity, cfg.CacheCapacity)
}

func TestLoadOverridesFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernelfs.yaml")
	content := "cache-capacity: 128\nlog-level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	v := viper.New()
	cfg, err := Load(v, path)
	require.NoError(t, err)
	require.Equal(t, 128, cfg.CacheCapacity)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadMissingConfigFileErrors(t *testing.T) {
	v := viper.New()
	_, err := Load(v, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
