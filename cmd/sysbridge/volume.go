package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Volume Controller
// ============================================================================
// The controller owns the single process-wide VolumeState and serializes all
// mutations behind one mutex, so interleaved increase/decrease requests from
// concurrent workers cannot lose updates. The cached state is written only
// after the mixer call succeeded; on failure it keeps the last known-good
// value. Mute is a flag layered over the level: muting never alters the
// stored level.
// ============================================================================

// VolumeState is a snapshot of the controller's view of the output mixer.
type VolumeState struct {
	Level     int       `json:"level"`
	Muted     bool      `json:"muted"`
	ChangedAt time.Time `json:"changed_at"`
}

// VolumeController serializes volume operations over a Mixer.
type VolumeController struct {
	mu       sync.Mutex
	mixer    Mixer
	logger   *slog.Logger
	debounce time.Duration

	state  VolumeState
	synced bool

	lastSetAt    time.Time
	lastSetLevel int
}

func NewVolumeController(mixer Mixer, debounce time.Duration, logger *slog.Logger) *VolumeController {
	return &VolumeController{
		mixer:        mixer,
		debounce:     debounce,
		logger:       logger,
		lastSetLevel: -1,
	}
}

// Sync seeds the cached state from the mixer. Called once at startup; a
// failure is not fatal because every operation re-syncs lazily.
func (c *VolumeController) Sync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.refreshLocked(ctx)
	return err
}

// Get queries the mixer and returns the refreshed state. Other processes can
// change the output level behind our back, so get is never served purely
// from cache.
func (c *VolumeController) Get(ctx context.Context) (VolumeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// Set applies an absolute level. Out-of-range input clamps rather than
// errors. A repeat of the same level inside the debounce window is answered
// from cache without another mixer call.
func (c *VolumeController) Set(ctx context.Context, level int) (VolumeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	level = clampLevel(level)
	now := time.Now()
	if c.synced && level == c.lastSetLevel && now.Sub(c.lastSetAt) < c.debounce {
		c.logger.Debug("volume set debounced", "level", level)
		return c.state, nil
	}

	if err := c.mixer.SetLevel(ctx, level); err != nil {
		return c.state, err
	}
	c.state.Level = level
	c.state.ChangedAt = now
	c.synced = true
	c.lastSetAt = now
	c.lastSetLevel = level
	return c.state, nil
}

// Step moves the level by delta, clamped to [0,100].
func (c *VolumeController) Step(ctx context.Context, delta int) (VolumeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.synced {
		if _, err := c.refreshLocked(ctx); err != nil {
			return c.state, err
		}
	}

	level := clampLevel(c.state.Level + delta)
	if err := c.mixer.SetLevel(ctx, level); err != nil {
		return c.state, err
	}
	c.state.Level = level
	c.state.ChangedAt = time.Now()
	return c.state, nil
}

// Mute sets the mute flag. The stored level is untouched.
func (c *VolumeController) Mute(ctx context.Context) (VolumeState, error) {
	return c.setMute(ctx, true)
}

// Unmute clears the mute flag.
func (c *VolumeController) Unmute(ctx context.Context) (VolumeState, error) {
	return c.setMute(ctx, false)
}

// ToggleMute flips the mute flag based on the current state.
func (c *VolumeController) ToggleMute(ctx context.Context) (VolumeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.synced {
		if _, err := c.refreshLocked(ctx); err != nil {
			return c.state, err
		}
	}
	return c.applyMuteLocked(ctx, !c.state.Muted)
}

func (c *VolumeController) setMute(ctx context.Context, muted bool) (VolumeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyMuteLocked(ctx, muted)
}

func (c *VolumeController) applyMuteLocked(ctx context.Context, muted bool) (VolumeState, error) {
	if err := c.mixer.SetMute(ctx, muted); err != nil {
		return c.state, err
	}
	c.state.Muted = muted
	c.state.ChangedAt = time.Now()
	return c.state, nil
}

func (c *VolumeController) refreshLocked(ctx context.Context) (VolumeState, error) {
	level, muted, err := c.mixer.Get(ctx)
	if err != nil {
		return c.state, err
	}
	if level != c.state.Level || muted != c.state.Muted || !c.synced {
		c.state.ChangedAt = time.Now()
	}
	c.state.Level = clampLevel(level)
	c.state.Muted = muted
	c.synced = true
	return c.state, nil
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}
