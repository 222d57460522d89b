package main

import (
	"fmt"
	"time"
)

// ============================================================================
// Action Registry
// ============================================================================
// The registry is the static table mapping command ids to executable action
// descriptors. It is built once at startup from the built-in table plus
// config overrides and is immutable afterwards, so lookups need no locking.
// Duplicate registration is a configuration error and fails startup.
// ============================================================================

// Command ids as they appear on the bus. These strings are an external
// contract shared with the assistant skills; do not rename them.
const (
	CmdNTPSync           = "ntp.sync"
	CmdSSHStatus         = "ssh.status"
	CmdSSHEnable         = "ssh.enable"
	CmdSSHDisable        = "ssh.disable"
	CmdReboot            = "reboot"
	CmdShutdown          = "shutdown"
	CmdConfigureLanguage = "configure.language"
	CmdServiceRestart    = "service.restart"
	CmdVolumeGet         = "volume.get"
	CmdVolumeSet         = "volume.set"
	CmdVolumeIncrease    = "volume.increase"
	CmdVolumeDecrease    = "volume.decrease"
	CmdVolumeMute        = "volume.mute"
	CmdVolumeUnmute      = "volume.unmute"
	CmdVolumeMuteToggle  = "volume.mute.toggle"
)

// CommandKind is the closed enumeration of commands the daemon understands.
// String-keyed dispatch happens exactly once, at the edge, via KindOf; from
// there on the code switches over kinds so the compiler can see every case.
type CommandKind int

const (
	KindUnknown CommandKind = iota
	KindNTPSync
	KindSSHStatus
	KindSSHEnable
	KindSSHDisable
	KindReboot
	KindShutdown
	KindConfigureLanguage
	KindServiceRestart
	KindVolumeGet
	KindVolumeSet
	KindVolumeIncrease
	KindVolumeDecrease
	KindVolumeMute
	KindVolumeUnmute
	KindVolumeMuteToggle
)

var commandKinds = map[string]CommandKind{
	CmdNTPSync:           KindNTPSync,
	CmdSSHStatus:         KindSSHStatus,
	CmdSSHEnable:         KindSSHEnable,
	CmdSSHDisable:        KindSSHDisable,
	CmdReboot:            KindReboot,
	CmdShutdown:          KindShutdown,
	CmdConfigureLanguage: KindConfigureLanguage,
	CmdServiceRestart:    KindServiceRestart,
	CmdVolumeGet:         KindVolumeGet,
	CmdVolumeSet:         KindVolumeSet,
	CmdVolumeIncrease:    KindVolumeIncrease,
	CmdVolumeDecrease:    KindVolumeDecrease,
	CmdVolumeMute:        KindVolumeMute,
	CmdVolumeUnmute:      KindVolumeUnmute,
	CmdVolumeMuteToggle:  KindVolumeMuteToggle,
}

// KindOf maps a command id to its kind; unknown ids map to KindUnknown.
func KindOf(commandID string) CommandKind {
	return commandKinds[commandID]
}

// IsVolume reports whether the kind is served by the volume controller
// rather than a process invocation.
func (k CommandKind) IsVolume() bool {
	return k >= KindVolumeGet && k <= KindVolumeMuteToggle
}

// ActionDescriptor describes one process-backed OS action. Argument template
// elements may contain {name} placeholders resolved from request parameters
// (or Defaults for optional ones) before the process is spawned.
type ActionDescriptor struct {
	CommandID  string
	Path       string
	Args       []string
	Defaults   map[string]string
	Privileged bool
	Timeout    time.Duration
	Idempotent bool
}

// Registry is the immutable command-id → descriptor table.
type Registry struct {
	actions map[string]ActionDescriptor
}

// newRegistry builds the registry from the built-in action table, applying
// config-supplied defaults and timeout overrides.
func newRegistry(cfg ActionsConfig) (*Registry, error) {
	r := &Registry{actions: make(map[string]ActionDescriptor)}
	for _, desc := range builtinActions(cfg) {
		if err := r.register(desc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(desc ActionDescriptor) error {
	if desc.CommandID == "" {
		return fmt.Errorf("action descriptor without command id")
	}
	if desc.Path == "" {
		return fmt.Errorf("action %q: empty executable path", desc.CommandID)
	}
	if desc.Timeout <= 0 {
		return fmt.Errorf("action %q: timeout must be positive", desc.CommandID)
	}
	if _, exists := r.actions[desc.CommandID]; exists {
		return fmt.Errorf("duplicate action registration for %q", desc.CommandID)
	}
	r.actions[desc.CommandID] = desc
	return nil
}

// Resolve looks up the descriptor for a command id.
func (r *Registry) Resolve(commandID string) (ActionDescriptor, bool) {
	desc, ok := r.actions[commandID]
	return desc, ok
}

// CommandIDs returns the registered command ids (order unspecified).
func (r *Registry) CommandIDs() []string {
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	return ids
}

// builtinActions is the fixed action table. Volume commands are absent on
// purpose: they never resolve to a process invocation.
func builtinActions(cfg ActionsConfig) []ActionDescriptor {
	timeout := func(commandID string, def time.Duration) time.Duration {
		if ms, ok := cfg.TimeoutsMS[commandID]; ok && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
		return def
	}

	return []ActionDescriptor{
		{
			CommandID:  CmdNTPSync,
			Path:       "sntp",
			Args:       []string{"-sS", "{server}"},
			Defaults:   map[string]string{"server": cfg.NTPServer},
			Privileged: true,
			Timeout:    timeout(CmdNTPSync, 30*time.Second),
			Idempotent: true,
		},
		{
			CommandID:  CmdSSHStatus,
			Path:       "systemctl",
			Args:       []string{"is-active", "--quiet", "{unit}"},
			Defaults:   map[string]string{"unit": cfg.SSHUnit},
			Timeout:    timeout(CmdSSHStatus, 10*time.Second),
			Idempotent: true,
		},
		{
			CommandID:  CmdSSHEnable,
			Path:       "systemctl",
			Args:       []string{"enable", "--now", "{unit}"},
			Defaults:   map[string]string{"unit": cfg.SSHUnit},
			Privileged: true,
			Timeout:    timeout(CmdSSHEnable, 15*time.Second),
			Idempotent: true,
		},
		{
			CommandID:  CmdSSHDisable,
			Path:       "systemctl",
			Args:       []string{"disable", "--now", "{unit}"},
			Defaults:   map[string]string{"unit": cfg.SSHUnit},
			Privileged: true,
			Timeout:    timeout(CmdSSHDisable, 15*time.Second),
			Idempotent: true,
		},
		{
			CommandID:  CmdReboot,
			Path:       "shutdown",
			Args:       []string{"-r", "now"},
			Privileged: true,
			Timeout:    timeout(CmdReboot, 10*time.Second),
		},
		{
			CommandID:  CmdShutdown,
			Path:       "shutdown",
			Args:       []string{"-h", "now"},
			Privileged: true,
			Timeout:    timeout(CmdShutdown, 10*time.Second),
		},
		{
			CommandID:  CmdConfigureLanguage,
			Path:       "localectl",
			Args:       []string{"set-locale", "LANG={lang}"},
			Privileged: true,
			Timeout:    timeout(CmdConfigureLanguage, 15*time.Second),
			Idempotent: true,
		},
		{
			CommandID:  CmdServiceRestart,
			Path:       "systemctl",
			Args:       []string{"restart", "{unit}"},
			Defaults:   map[string]string{"unit": cfg.ServiceUnit},
			Privileged: true,
			Timeout:    timeout(CmdServiceRestart, 30*time.Second),
			Idempotent: true,
		},
	}
}
