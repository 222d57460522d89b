package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the sysbridge daemon.
//
// This is intentionally user-facing and stable-ish. Keep defaults and validation
// centralized so the rest of the code can assume a well-formed config.
//
// Design goals:
// - Make config file the primary configuration surface.
// - Keep flags for small overrides and for environments where a file is awkward.
// - Preserve the assistant contract's defaults (power commands allowed) while
//   letting hardened deployments turn them off.
type Config struct {
	// Message bus connection
	Bus BusConfig `yaml:"bus"`

	// Local IPC configuration (used by sysbridge-ctl)
	IPC IPCConfig `yaml:"ipc"`

	// Built-in system action overrides
	Actions ActionsConfig `yaml:"actions"`

	// Privilege elevation
	Privilege PrivilegeConfig `yaml:"privilege"`

	// ALSA mixer backend
	Mixer MixerConfig `yaml:"mixer"`

	// Volume semantics
	Volume VolumeConfig `yaml:"volume"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type BusConfig struct {
	URL string `yaml:"url"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type ActionsConfig struct {
	NTPServer   string `yaml:"ntp_server"`
	SSHUnit     string `yaml:"ssh_unit"`
	ServiceUnit string `yaml:"service_unit"`

	// Power actions are allowed by default, matching the assistant's
	// historical contract; kiosk or multi-user hosts can turn them off.
	AllowReboot   bool `yaml:"allow_reboot"`
	AllowShutdown bool `yaml:"allow_shutdown"`

	// Per-command timeout overrides, keyed by command id
	// (e.g. "ntp.sync": 60000).
	TimeoutsMS map[string]int `yaml:"timeouts_ms,omitempty"`

	// SIGTERM -> SIGKILL escalation delay for overrunning processes.
	KillGraceMS int `yaml:"kill_grace_ms"`

	// How long shutdown waits for in-flight commands to finish.
	DrainTimeoutMS int `yaml:"drain_timeout_ms"`
}

type PrivilegeConfig struct {
	// Command prepended to privileged actions. Empty string means the
	// daemon itself runs with enough privilege and no wrapper is needed.
	Command string `yaml:"command"`
}

type MixerConfig struct {
	Command   string `yaml:"command"`
	Control   string `yaml:"control"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type VolumeConfig struct {
	// Step size for volume.increase / volume.decrease, percent points.
	ChangeInterval int `yaml:"change_interval"`

	// Identical volume.set requests inside this window are answered from
	// the cached state without touching the mixer.
	DebounceMS int `yaml:"debounce_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`

	// Optional log file; empty means stderr only. Rotation applies when set.
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Bus: BusConfig{
			URL: defaultBusURL,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		Actions: ActionsConfig{
			NTPServer:      defaultNTPServer,
			SSHUnit:        defaultSSHUnit,
			ServiceUnit:    defaultServiceUnit,
			AllowReboot:    true,
			AllowShutdown:  true,
			KillGraceMS:    defaultKillGraceMS,
			DrainTimeoutMS: defaultDrainTimeoutMS,
		},
		Privilege: PrivilegeConfig{
			Command: defaultSudoCommand,
		},
		Mixer: MixerConfig{
			Command:   defaultMixerCommand,
			Control:   defaultMixerControl,
			TimeoutMS: defaultMixerTimeoutMS,
		},
		Volume: VolumeConfig{
			ChangeInterval: defaultChangeInterval,
			DebounceMS:     defaultDebounceMS,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - The file must be valid YAML.
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer is
// non-nil. This keeps the config file as the primary configuration source
// while still allowing ad-hoc overrides for debugging/systemd overrides.
type FlagOverrides struct {
	BusURL        *string
	IPCSocketPath *string

	AllowReboot   *bool
	AllowShutdown *bool

	MixerControl *string

	LogLevel *string
	LogFile  *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a “zero value”).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.BusURL != nil {
		cfg.Bus.URL = *o.BusURL
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.AllowReboot != nil {
		cfg.Actions.AllowReboot = *o.AllowReboot
	}
	if o.AllowShutdown != nil {
		cfg.Actions.AllowShutdown = *o.AllowShutdown
	}

	if o.MixerControl != nil {
		cfg.Mixer.Control = *o.MixerControl
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Bus
	if c.Bus.URL == "" {
		return errors.New("bus.url must not be empty")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Actions
	if c.Actions.NTPServer == "" {
		return errors.New("actions.ntp_server must not be empty")
	}
	if c.Actions.SSHUnit == "" {
		return errors.New("actions.ssh_unit must not be empty")
	}
	if c.Actions.ServiceUnit == "" {
		return errors.New("actions.service_unit must not be empty")
	}
	for id, ms := range c.Actions.TimeoutsMS {
		if KindOf(id) == KindUnknown || KindOf(id).IsVolume() {
			return fmt.Errorf("actions.timeouts_ms: %q is not a process-backed command", id)
		}
		if ms <= 0 {
			return fmt.Errorf("actions.timeouts_ms[%q] must be > 0", id)
		}
	}
	if c.Actions.KillGraceMS <= 0 {
		return errors.New("actions.kill_grace_ms must be > 0")
	}
	if c.Actions.DrainTimeoutMS <= 0 {
		return errors.New("actions.drain_timeout_ms must be > 0")
	}

	// Mixer
	if c.Mixer.Command == "" {
		return errors.New("mixer.command must not be empty")
	}
	if c.Mixer.Control == "" {
		return errors.New("mixer.control must not be empty")
	}
	if c.Mixer.TimeoutMS <= 0 {
		return errors.New("mixer.timeout_ms must be > 0")
	}

	// Volume
	if c.Volume.ChangeInterval <= 0 || c.Volume.ChangeInterval > 100 {
		return errors.New("volume.change_interval must be between 1 and 100")
	}
	if c.Volume.DebounceMS < 0 {
		return errors.New("volume.debounce_ms must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if c.Logging.File != "" {
		if c.Logging.MaxSizeMB <= 0 {
			return errors.New("logging.max_size_mb must be > 0 when logging.file is set")
		}
		if c.Logging.MaxBackups < 0 {
			return errors.New("logging.max_backups must be >= 0")
		}
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like logging.file.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
