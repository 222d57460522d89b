package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeMixer is a test double for the ALSA mixer.
type fakeMixer struct {
	mu    sync.Mutex
	level int
	muted bool

	getCalls      int
	setCalls      int
	setMuteCalls  int
	failNextLevel bool
	failGet       bool
}

func newFakeMixer(level int, muted bool) *fakeMixer {
	return &fakeMixer{level: level, muted: muted}
}

func (f *fakeMixer) Get(ctx context.Context) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failGet {
		return 0, false, errors.New("mixer unavailable")
	}
	return f.level, f.muted, nil
}

func (f *fakeMixer) SetLevel(ctx context.Context, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.failNextLevel {
		f.failNextLevel = false
		return errors.New("mixer write failed")
	}
	f.level = level
	return nil
}

func (f *fakeMixer) SetMute(ctx context.Context, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setMuteCalls++
	f.muted = muted
	return nil
}

func TestVolumeController_SetClampsRange(t *testing.T) {
	mixer := newFakeMixer(50, false)
	vc := NewVolumeController(mixer, 0, testLogger())

	state, err := vc.Set(context.Background(), 150)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if state.Level != 100 {
		t.Errorf("expected level clamped to 100, got %d", state.Level)
	}

	state, err = vc.Set(context.Background(), -10)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if state.Level != 0 {
		t.Errorf("expected level clamped to 0, got %d", state.Level)
	}
}

func TestVolumeController_StepFromMixerState(t *testing.T) {
	mixer := newFakeMixer(50, false)
	vc := NewVolumeController(mixer, 0, testLogger())

	// First step syncs lazily from the mixer, then applies the delta.
	state, err := vc.Step(context.Background(), 10)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if state.Level != 60 {
		t.Errorf("expected 60 after first step, got %d", state.Level)
	}

	state, _ = vc.Step(context.Background(), 10)
	if state.Level != 70 {
		t.Errorf("expected 70 after second step, got %d", state.Level)
	}

	state, _ = vc.Step(context.Background(), -30)
	if state.Level != 40 {
		t.Errorf("expected 40 after step down, got %d", state.Level)
	}
}

func TestVolumeController_StepClampsAtBounds(t *testing.T) {
	mixer := newFakeMixer(95, false)
	vc := NewVolumeController(mixer, 0, testLogger())

	state, err := vc.Step(context.Background(), 10)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if state.Level != 100 {
		t.Errorf("expected clamp at 100, got %d", state.Level)
	}

	// Stepping past the ceiling stays at the ceiling.
	state, _ = vc.Step(context.Background(), 10)
	if state.Level != 100 {
		t.Errorf("expected 100 again, got %d", state.Level)
	}
}

func TestVolumeController_MuteDoesNotTouchLevel(t *testing.T) {
	mixer := newFakeMixer(70, false)
	vc := NewVolumeController(mixer, 0, testLogger())
	if err := vc.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	state, err := vc.Mute(context.Background())
	if err != nil {
		t.Fatalf("Mute failed: %v", err)
	}
	if !state.Muted {
		t.Error("expected muted state")
	}
	if state.Level != 70 {
		t.Errorf("mute changed level: got %d, want 70", state.Level)
	}
	if mixer.setCalls != 0 {
		t.Errorf("mute must not write the level, got %d SetLevel calls", mixer.setCalls)
	}

	state, err = vc.Unmute(context.Background())
	if err != nil {
		t.Fatalf("Unmute failed: %v", err)
	}
	if state.Muted {
		t.Error("expected unmuted state")
	}
	if state.Level != 70 {
		t.Errorf("unmute changed level: got %d, want 70", state.Level)
	}
}

func TestVolumeController_ToggleMuteIsInvolution(t *testing.T) {
	mixer := newFakeMixer(40, false)
	vc := NewVolumeController(mixer, 0, testLogger())

	state, err := vc.ToggleMute(context.Background())
	if err != nil {
		t.Fatalf("ToggleMute failed: %v", err)
	}
	if !state.Muted {
		t.Error("expected muted after first toggle")
	}

	state, err = vc.ToggleMute(context.Background())
	if err != nil {
		t.Fatalf("ToggleMute failed: %v", err)
	}
	if state.Muted {
		t.Error("expected unmuted after second toggle")
	}
}

func TestVolumeController_MixerFailurePreservesState(t *testing.T) {
	mixer := newFakeMixer(50, false)
	vc := NewVolumeController(mixer, 0, testLogger())
	if err := vc.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	mixer.failNextLevel = true
	_, err := vc.Set(context.Background(), 80)
	if err == nil {
		t.Fatal("expected error from failing mixer")
	}

	// Cached state still reflects the last successful observation.
	state, err := vc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Level != 50 {
		t.Errorf("failed set leaked into state: got %d, want 50", state.Level)
	}
}

func TestVolumeController_DebounceSkipsIdenticalSet(t *testing.T) {
	mixer := newFakeMixer(50, false)
	vc := NewVolumeController(mixer, time.Second, testLogger())

	if _, err := vc.Set(context.Background(), 30); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := vc.Set(context.Background(), 30); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if mixer.setCalls != 1 {
		t.Errorf("expected 1 mixer write for repeated identical set, got %d", mixer.setCalls)
	}

	// A different level goes through.
	if _, err := vc.Set(context.Background(), 31); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if mixer.setCalls != 2 {
		t.Errorf("expected 2 mixer writes after a new level, got %d", mixer.setCalls)
	}
}

func TestVolumeController_ConcurrentStepsDoNotLoseUpdates(t *testing.T) {
	mixer := newFakeMixer(50, false)
	vc := NewVolumeController(mixer, 0, testLogger())
	if err := vc.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// 100 paired +1/-1 steps from level 50: every interleaving keeps the
	// level inside [0,100], where clamping is the identity, so the net
	// result must be exactly the starting level.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := vc.Step(context.Background(), 1); err != nil {
				t.Errorf("Step failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := vc.Step(context.Background(), -1); err != nil {
				t.Errorf("Step failed: %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := vc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.Level != 50 {
		t.Errorf("lost update under concurrency: got %d, want 50", state.Level)
	}
}
