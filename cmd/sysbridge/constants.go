package main

// Volume behavior defaults, matching the assistant's historical contract:
// volume.set without a percent parameter means 50, and increase/decrease move
// in steps of 10.
const (
	defaultVolumePercent  = 50
	defaultChangeInterval = 10
	defaultDebounceMS     = 50
	defaultMixerCommand   = "amixer"
	defaultMixerControl   = "Master"
	defaultMixerTimeoutMS = 2000
)

// Process executor defaults.
const (
	// SIGTERM -> SIGKILL escalation delay for processes that overrun their
	// deadline.
	defaultKillGraceMS = 2000

	// Captured stderr attached to a failure detail is truncated to this
	// many bytes.
	maxStderrDetail = 4096

	defaultSudoCommand = "sudo"
)

// Action table defaults; all overridable via the actions config section.
const (
	defaultNTPServer   = "pool.ntp.org"
	defaultSSHUnit     = "ssh"
	defaultServiceUnit = "voice-assistant.service"
)

// Daemon defaults.
const (
	defaultBusURL         = "ws://127.0.0.1:8181/core"
	defaultIPCSocketPath  = "/tmp/sysbridge.sock"
	defaultDrainTimeoutMS = 5000
	requestQueueSize      = 64
)
