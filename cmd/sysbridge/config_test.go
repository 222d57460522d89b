package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Actions.AllowReboot, "reboot must default to allowed")
	assert.True(t, cfg.Actions.AllowShutdown, "shutdown must default to allowed")
	assert.Equal(t, defaultChangeInterval, cfg.Volume.ChangeInterval)
}

func TestLoadConfigFile_MergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
bus:
  url: ws://bus.local:8181/core
actions:
  allow_shutdown: false
  ntp_server: time.example.org
volume:
  change_interval: 5
`)

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ws://bus.local:8181/core", cfg.Bus.URL)
	assert.True(t, cfg.Actions.AllowReboot, "unmentioned gate keeps its default")
	assert.False(t, cfg.Actions.AllowShutdown, "file can turn a gate off")
	assert.Equal(t, "time.example.org", cfg.Actions.NTPServer)
	assert.Equal(t, 5, cfg.Volume.ChangeInterval)

	// Untouched sections keep their defaults.
	assert.Equal(t, defaultIPCSocketPath, cfg.IPC.SocketPath)
	assert.Equal(t, defaultMixerControl, cfg.Mixer.Control)
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, `
bus:
  url: ws://127.0.0.1:8181/core
  uri: typo
`)

	_, err := LoadConfigFile(path)
	assert.ErrorContains(t, err, "decode config yaml")
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = LoadConfigFile("")
	assert.ErrorContains(t, err, "config path is empty")
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	busURL := "ws://override:8181/core"
	allowReboot := false
	logLevel := "debug"

	FlagOverrides{
		BusURL:      &busURL,
		AllowReboot: &allowReboot,
		LogLevel:    &logLevel,
	}.Apply(&cfg)

	assert.Equal(t, busURL, cfg.Bus.URL)
	assert.False(t, cfg.Actions.AllowReboot, "explicit false override applies")
	assert.True(t, cfg.Actions.AllowShutdown, "unset override must not leak")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfigValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty bus url", func(c *Config) { c.Bus.URL = "" }, "bus.url"},
		{"empty socket", func(c *Config) { c.IPC.SocketPath = "" }, "ipc.socket_path"},
		{"empty ntp server", func(c *Config) { c.Actions.NTPServer = "" }, "actions.ntp_server"},
		{"zero change interval", func(c *Config) { c.Volume.ChangeInterval = 0 }, "volume.change_interval"},
		{"oversized change interval", func(c *Config) { c.Volume.ChangeInterval = 101 }, "volume.change_interval"},
		{"negative debounce", func(c *Config) { c.Volume.DebounceMS = -1 }, "volume.debounce_ms"},
		{"zero mixer timeout", func(c *Config) { c.Mixer.TimeoutMS = 0 }, "mixer.timeout_ms"},
		{"empty log level", func(c *Config) { c.Logging.Level = "" }, "logging.level"},
		{"unknown timeout key", func(c *Config) { c.Actions.TimeoutsMS = map[string]int{"play.music": 1000} }, "not a process-backed"},
		{"volume timeout key", func(c *Config) { c.Actions.TimeoutsMS = map[string]int{CmdVolumeSet: 1000} }, "not a process-backed"},
		{"non-positive timeout", func(c *Config) { c.Actions.TimeoutsMS = map[string]int{CmdNTPSync: 0} }, "must be > 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs/sysbridge.log"), ExpandPath("~/logs/sysbridge.log"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/var/log/sysbridge.log", ExpandPath("/var/log/sysbridge.log"))
	assert.Equal(t, "", ExpandPath(""))
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		"info":    LogLevelInfo,
		"Debug":   LogLevelDebug,
	} {
		got, err := parseLogLevel(in)
		require.NoError(t, err, "level %q", in)
		assert.Equal(t, want, got)
	}

	_, err := parseLogLevel("verbose")
	assert.Error(t, err)
}
