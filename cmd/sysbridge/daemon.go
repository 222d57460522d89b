package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Dispatch Loop
// ============================================================================
// Each inbound request runs on its own goroutine so a hung process invocation
// (network time sync, mixer call) cannot block unrelated commands. The loop
// itself only tracks workers; all routing policy lives in the Dispatcher.
//
// Shutdown semantics:
//   - Exits when ctx is canceled, after draining in-flight workers up to the
//     drain timeout. Non-idempotent actions run on a detached context and
//     are allowed to finish (see Dispatcher).
//   - Exits cleanly when the requests channel is closed.
// ============================================================================

// commandDispatcher lets tests drive the loop with a stub.
type commandDispatcher interface {
	Dispatch(ctx context.Context, req CommandRequest) CommandResult
}

// inboundRequest pairs a decoded request with the surface-specific way of
// delivering its result.
type inboundRequest struct {
	req   CommandRequest
	reply func(CommandResult)
}

func runDaemon(ctx context.Context, requests <-chan inboundRequest, dispatcher commandDispatcher, drainTimeout time.Duration, logger *slog.Logger) {
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatch loop stopping; draining in-flight commands")
			waitWithTimeout(&wg, drainTimeout, logger)
			return

		case in, ok := <-requests:
			if !ok {
				logger.Info("dispatch loop stopping (requests channel closed)")
				waitWithTimeout(&wg, drainTimeout, logger)
				return
			}

			wg.Add(1)
			go func(in inboundRequest) {
				defer wg.Done()
				started := time.Now()
				res := dispatcher.Dispatch(ctx, in.req)
				logger.Info("command completed",
					"command_id", res.CommandID,
					"correlation_id", res.CorrelationID,
					"outcome", res.Outcome,
					"elapsed", time.Since(started))
				in.reply(res)
			}(in)
		}
	}
}

func waitWithTimeout(wg *sync.WaitGroup, d time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		logger.Warn("shutdown drain timed out with commands still in flight", "timeout", d)
	}
}
