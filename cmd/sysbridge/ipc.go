package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server gives local tooling (sysbridge-ctl, scripts, installers) the
// same command surface as the bus without needing a bus connection.
//
// Protocol: line-delimited JSON
//   - Client sends: a CommandRequest {"command_id": ..., "parameters": {...}}
//   - Server responds: the CommandResult for that request
//
// Each connection runs on its own goroutine and dispatches synchronously, so
// responses on one connection arrive in request order while connections stay
// independent of each other.
// ============================================================================

// runIPCServer serves the Unix domain socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, dispatcher commandDispatcher, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, dispatcher, logger)
	}
}

func handleIPCConnection(ctx context.Context, conn net.Conn, dispatcher commandDispatcher, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection opened")

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		var req CommandRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			res := newResult(CommandRequest{}, OutcomeInvalidParameters, fmt.Sprintf("parse request: %v", err))
			if encErr := encoder.Encode(res); encErr != nil {
				logger.Error("IPC failed to send error response", "error", encErr)
			}
			continue
		}
		if req.CorrelationID == "" {
			req.CorrelationID = newCorrelationID()
		}

		res := dispatcher.Dispatch(ctx, req)
		if err := encoder.Encode(res); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// SendIPCRequest sends one request to a running daemon and returns the
// decoded result. Used by tests and external tooling.
func SendIPCRequest(socketPath string, req CommandRequest) (CommandResult, error) {
	var res CommandResult

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return res, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return res, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return res, fmt.Errorf("send request: %w", err)
	}

	if err := json.NewDecoder(conn).Decode(&res); err != nil {
		return res, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}
