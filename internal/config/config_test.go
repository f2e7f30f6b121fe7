// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired sets the minimal environment a valid config needs.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ONAIR_INGEST_HOST", "ingest.example.com")
	t.Setenv("ONAIR_MOTHERSTREAM_URL", "rtmp://downstream.example.com/live/main")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.CompositorHost)
	assert.Equal(t, 4455, cfg.CompositorPort)
	assert.Equal(t, DefaultSwapInterval, cfg.SwapInterval)
	assert.Equal(t, 2*time.Second, cfg.JobDelay)
	assert.Equal(t, time.Second, cfg.HealthPollInterval)
	assert.Equal(t, 30*time.Second, cfg.PriorityTimeout)
	assert.Equal(t, ":8013", cfg.Listen)
	assert.Equal(t, "/var/lib/onair", cfg.DataDir)
}

func TestLoadDeterministic(t *testing.T) {
	setRequired(t)
	first, err := Load("")
	require.NoError(t, err)
	second, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("config load not deterministic (-first +second):\n%s", diff)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest host")
	assert.Contains(t, err.Error(), "motherstream url")
}

func TestEnvOverridesFile(t *testing.T) {
	setRequired(t)
	t.Setenv("ONAIR_SWAP_INTERVAL", "45m")
	t.Setenv("ONAIR_SCENE", "FromEnv")

	path := filepath.Join(t.TempDir(), "onair.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"swap_interval: 10m\nscene: FromFile\nloading_source: SPINNER\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.SwapInterval, "environment wins over file")
	assert.Equal(t, "FromEnv", cfg.Scene)
	assert.Equal(t, "SPINNER", cfg.LoadingSource, "file wins over defaults")
}

func TestLoadUnknownFileKey(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "onair.yaml")
	require.NoError(t, os.WriteFile(path, []byte("swap_intervall: 10m\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err, "typos in the config file fail loudly")
}

func TestLoadMissingFile(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRanges(t *testing.T) {
	setRequired(t)
	t.Setenv("ONAIR_COMPOSITOR_PORT", "70000")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	t.Setenv("ONAIR_COMPOSITOR_PORT", "4455")
	t.Setenv("ONAIR_ALSO_RECORD", "true")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ONAIR_RECORD_URL")
}

func TestDerivedURLs(t *testing.T) {
	setRequired(t)
	t.Setenv("ONAIR_DATA_DIR", "/tmp/onair")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:4455/", cfg.CompositorURL())
	assert.Equal(t, "rtmp://ingest.example.com:1935/live", cfg.IngestRTMPBase())
	assert.Equal(t, "/tmp/onair/QUEUE.json", cfg.QueuePath())
	assert.Equal(t, "/tmp/onair/users.db", cfg.UsersDBPath())
}
