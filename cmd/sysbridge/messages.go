package main

import (
	"crypto/rand"
	"encoding/hex"
)

// ============================================================================
// Command Messages
// ============================================================================
// CommandRequest and CommandResult are the only shapes that cross component
// boundaries: the bus gateway and the IPC server decode inbound traffic into
// a CommandRequest, the dispatcher turns it into exactly one CommandResult,
// and the originating surface carries the result back out.
// ============================================================================

// Outcome is the terminal classification of a dispatched command.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeFailure           Outcome = "failure"
	OutcomeTimeout           Outcome = "timeout"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeInvalidParameters Outcome = "invalid_parameters"
)

// CommandRequest is one decoded inbound command. It is read-only after
// construction and discarded once the dispatcher has produced its result.
type CommandRequest struct {
	CommandID     string         `json:"command_id"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// CommandResult is the single reply produced for a CommandRequest.
type CommandResult struct {
	CommandID     string         `json:"command_id"`
	CorrelationID string         `json:"correlation_id"`
	Outcome       Outcome        `json:"outcome"`
	Detail        string         `json:"detail,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`

	// exitCode is the raw process exit status for executor-backed results.
	// The dispatcher uses it to reinterpret status-probe commands; it is
	// never serialized.
	exitCode int
}

// newResult builds a result that answers req with the given outcome.
func newResult(req CommandRequest, outcome Outcome, detail string) CommandResult {
	return CommandResult{
		CommandID:     req.CommandID,
		CorrelationID: req.CorrelationID,
		Outcome:       outcome,
		Detail:        detail,
	}
}

// newCorrelationID generates an opaque token for requests that arrived
// without one, so every reply can be paired with its request.
func newCorrelationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read does not fail on supported platforms; keep the reply
		// well-formed regardless.
		return "0000000000000000"
	}
	return hex.EncodeToString(b[:])
}
