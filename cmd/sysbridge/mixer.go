package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Mixer abstracts the OS audio mixer so the volume controller can be tested
// against a fake.
type Mixer interface {
	// Get reports the current output level (0–100) and mute switch.
	Get(ctx context.Context) (level int, muted bool, err error)
	// SetLevel applies an absolute output level (0–100).
	SetLevel(ctx context.Context, level int) error
	// SetMute flips the output mute switch without touching the level.
	SetMute(ctx context.Context, muted bool) error
}

var (
	mixerPercentRe = regexp.MustCompile(`\[(\d+)%\]`)
	mixerSwitchRe  = regexp.MustCompile(`\[(on|off)\]`)
)

// AlsaMixer drives the system mixer through the amixer command-line tool.
// Each call is a short-lived process bounded by its own timeout; mixer calls
// are not registry actions and never require privilege.
type AlsaMixer struct {
	command string
	control string
	timeout time.Duration
	logger  *slog.Logger
}

func NewAlsaMixer(cfg MixerConfig, logger *slog.Logger) *AlsaMixer {
	return &AlsaMixer{
		command: cfg.Command,
		control: cfg.Control,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:  logger,
	}
}

func (m *AlsaMixer) run(ctx context.Context, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	out, err := exec.CommandContext(cctx, m.command, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %v", m.command, strings.Join(args, " "), err)
	}
	return string(out), nil
}

func (m *AlsaMixer) Get(ctx context.Context) (int, bool, error) {
	out, err := m.run(ctx, "get", m.control)
	if err != nil {
		return 0, false, err
	}

	pm := mixerPercentRe.FindStringSubmatch(out)
	if pm == nil {
		return 0, false, fmt.Errorf("no volume percentage in %s output for control %q", m.command, m.control)
	}
	level, err := strconv.Atoi(pm[1])
	if err != nil {
		return 0, false, fmt.Errorf("parse volume percentage %q: %v", pm[1], err)
	}

	// Controls without a playback switch report as unmuted.
	muted := false
	if sm := mixerSwitchRe.FindStringSubmatch(out); sm != nil {
		muted = sm[1] == "off"
	}

	m.logger.Debug("mixer state", "level", level, "muted", muted)
	return level, muted, nil
}

func (m *AlsaMixer) SetLevel(ctx context.Context, level int) error {
	_, err := m.run(ctx, "set", m.control, fmt.Sprintf("%d%%", level))
	return err
}

func (m *AlsaMixer) SetMute(ctx context.Context, muted bool) error {
	arg := "unmute"
	if muted {
		arg = "mute"
	}
	_, err := m.run(ctx, "set", m.control, arg)
	return err
}
