package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// ============================================================================
// Command Dispatcher
// ============================================================================
// The dispatcher maps one decoded CommandRequest to exactly one
// CommandResult. Per request it walks Received -> Resolving -> {Executing |
// Rejected} -> Completed; no request-specific state survives past the reply.
//
// Routing: volume kinds go straight to the volume controller; everything
// else resolves through the registry and runs on the process executor.
// ============================================================================

// processRunner is the executor seam; tests substitute a fake.
type processRunner interface {
	Execute(ctx context.Context, desc ActionDescriptor, req CommandRequest) CommandResult
}

// Dispatcher is stateless across requests beyond its collaborator handles.
type Dispatcher struct {
	registry *Registry
	runner   processRunner
	volume   *VolumeController
	logger   *slog.Logger

	allowReboot    bool
	allowShutdown  bool
	changeInterval int
}

func NewDispatcher(registry *Registry, runner processRunner, volume *VolumeController, cfg ActionsConfig, volCfg VolumeConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:       registry,
		runner:         runner,
		volume:         volume,
		logger:         logger,
		allowReboot:    cfg.AllowReboot,
		allowShutdown:  cfg.AllowShutdown,
		changeInterval: volCfg.ChangeInterval,
	}
}

// Dispatch resolves and executes one request. It always returns a result;
// errors are classified into the outcome taxonomy, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, req CommandRequest) CommandResult {
	if req.CommandID == "" {
		return newResult(req, OutcomeInvalidParameters, "missing command_id")
	}

	kind := KindOf(req.CommandID)
	if kind == KindUnknown {
		return newResult(req, OutcomeNotFound, fmt.Sprintf("unknown command %q", req.CommandID))
	}

	if kind.IsVolume() {
		return d.dispatchVolume(ctx, kind, req)
	}

	desc, ok := d.registry.Resolve(req.CommandID)
	if !ok {
		return newResult(req, OutcomeNotFound, fmt.Sprintf("no action registered for %q", req.CommandID))
	}

	switch kind {
	case KindReboot:
		if !d.allowReboot {
			return newResult(req, OutcomeFailure, "reboot disabled by configuration")
		}
	case KindShutdown:
		if !d.allowShutdown {
			return newResult(req, OutcomeFailure, "shutdown disabled by configuration")
		}
	}

	execCtx := ctx
	if !desc.Idempotent {
		// A host reboot in flight must complete even if the daemon is
		// being torn down; interrupting it could leave the OS half-stopped.
		execCtx = context.WithoutCancel(ctx)
	}

	res := d.runner.Execute(execCtx, desc, req)
	return d.interpret(kind, req, res)
}

// interpret applies per-command result shaping after execution.
func (d *Dispatcher) interpret(kind CommandKind, req CommandRequest, res CommandResult) CommandResult {
	switch kind {
	case KindSSHStatus:
		// systemctl is-active exits non-zero for an inactive unit; that is
		// an answer, not an error.
		if res.Outcome == OutcomeSuccess {
			res.Payload = map[string]any{"enabled": true}
		} else if res.Outcome == OutcomeFailure && res.exitCode > 0 {
			res.Outcome = OutcomeSuccess
			res.Detail = ""
			res.Payload = map[string]any{"enabled": false}
		}

	case KindConfigureLanguage:
		if res.Outcome == OutcomeSuccess {
			if lang, ok := req.Parameters["lang"]; ok {
				res.Payload = map[string]any{"lang": lang}
			}
		}

	case KindReboot, KindShutdown:
		// Fire-and-forget: the OS accepted the call. Whether this reply
		// still reaches anyone is up to the race with the shutdown.
		if res.Outcome == OutcomeSuccess {
			res.Payload = map[string]any{"accepted": true}
		}
	}
	return res
}

func (d *Dispatcher) dispatchVolume(ctx context.Context, kind CommandKind, req CommandRequest) CommandResult {
	var (
		state VolumeState
		err   error
	)

	switch kind {
	case KindVolumeGet:
		state, err = d.volume.Get(ctx)

	case KindVolumeSet:
		level, perr := intParam(req.Parameters, "percent", defaultVolumePercent)
		if perr != nil {
			return newResult(req, OutcomeInvalidParameters, perr.Error())
		}
		state, err = d.volume.Set(ctx, level)

	case KindVolumeIncrease:
		state, err = d.volume.Step(ctx, d.changeInterval)

	case KindVolumeDecrease:
		state, err = d.volume.Step(ctx, -d.changeInterval)

	case KindVolumeMute:
		state, err = d.volume.Mute(ctx)

	case KindVolumeUnmute:
		state, err = d.volume.Unmute(ctx)

	case KindVolumeMuteToggle:
		state, err = d.volume.ToggleMute(ctx)

	default:
		return newResult(req, OutcomeNotFound, fmt.Sprintf("unhandled volume command %q", req.CommandID))
	}

	if err != nil {
		d.logger.Error("volume operation failed", "command_id", req.CommandID, "error", err)
		return newResult(req, OutcomeFailure, err.Error())
	}

	res := newResult(req, OutcomeSuccess, "")
	res.Payload = map[string]any{"percent": state.Level, "muted": state.Muted}
	return res
}

// intParam reads an optional integer parameter, tolerating the float64 that
// JSON decoding produces for all numbers.
func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return int(math.Round(t)), nil
	case int:
		return t, nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, v)
	}
}
