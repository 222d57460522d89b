package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Bus Gateway - Assistant Message Bus Client
// ============================================================================
// The assistant message bus is a WebSocket JSON pub/sub transport. Every
// envelope is {type, data, context}: command requests arrive with the
// command id as type and the parameters as data; replies go out as
// "<command_id>.response" with the originating context preserved so the bus
// can route them back to the requester.
//
// The transport itself (broker, routing, sessions) is external; this client
// only connects, reads, and emits.
// ============================================================================

// BusMessage is one bus envelope.
type BusMessage struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// BusClient manages the WebSocket connection to the message bus.
type BusClient struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	logger *slog.Logger
}

// NewBusClient validates the URL and establishes the initial connection,
// retrying with a short backoff while the bus comes up.
func NewBusClient(wsURL string, logger *slog.Logger) (*BusClient, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid bus URL: %w", err)
	}

	client := &BusClient{url: wsURL, logger: logger}
	if err := client.connectWithRetry(); err != nil {
		return nil, err
	}
	return client, nil
}

func (b *BusClient) connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}

	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.Dial(b.url, nil)
	if err != nil {
		return err
	}

	b.conn = conn
	return nil
}

func (b *BusClient) connectWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		err := b.connect()
		if err == nil {
			b.logger.Info("connected to message bus", "url", b.url)
			return nil
		}
		lastErr = err
		b.logger.Warn("bus connection failed; retrying...", "error", err, "attempt", attempt+1)
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("failed to connect to bus after 10 attempts: %w", lastErr)
}

// Read blocks until the next bus envelope arrives.
func (b *BusClient) Read() (*BusMessage, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("no bus connection")
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg BusMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode bus message: %w", err)
	}
	return &msg, nil
}

// Emit publishes one envelope. Writes are serialized; a failed write marks
// the connection broken so the next reconnect starts clean.
func (b *BusClient) Emit(msg *BusMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return fmt.Errorf("no bus connection")
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}

// Close tears the connection down, unblocking any pending Read.
func (b *BusClient) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

// requestFromBus turns a command-typed envelope into a CommandRequest. The
// correlation id rides in the message context; one is generated when absent
// so the reply is still pairable.
func requestFromBus(msg *BusMessage) CommandRequest {
	req := CommandRequest{
		CommandID:  msg.Type,
		Parameters: msg.Data,
	}
	if id, ok := msg.Context["correlation_id"].(string); ok && id != "" {
		req.CorrelationID = id
	} else {
		req.CorrelationID = newCorrelationID()
	}
	return req
}

// resultMessage builds the reply envelope for a completed command.
func resultMessage(res CommandResult, reqContext map[string]any) *BusMessage {
	data := map[string]any{
		"command_id":     res.CommandID,
		"correlation_id": res.CorrelationID,
		"outcome":        string(res.Outcome),
	}
	if res.Detail != "" {
		data["detail"] = res.Detail
	}
	if res.Payload != nil {
		data["payload"] = res.Payload
	}
	return &BusMessage{
		Type:    res.CommandID + ".response",
		Data:    data,
		Context: reqContext,
	}
}

// runBusLoop reads bus traffic and feeds command-typed messages into the
// dispatch queue. It reconnects on read errors and exits when ctx is
// canceled (Close from the shutdown watcher unblocks the pending read).
func runBusLoop(ctx context.Context, bus *BusClient, requests chan<- inboundRequest, logger *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := bus.Read()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("bus loop stopping (shutdown)")
				return nil
			}
			logger.Warn("bus read failed; reconnecting", "error", err)
			if err := bus.connectWithRetry(); err != nil {
				return fmt.Errorf("bus reconnect: %w", err)
			}
			continue
		}

		if KindOf(msg.Type) == KindUnknown {
			logger.Debug("ignoring bus message", "type", msg.Type)
			continue
		}

		req := requestFromBus(msg)
		reqContext := msg.Context
		reply := func(res CommandResult) {
			if err := bus.Emit(resultMessage(res, reqContext)); err != nil {
				logger.Error("failed to publish result", "command_id", res.CommandID, "error", err)
			}
		}

		select {
		case requests <- inboundRequest{req: req, reply: reply}:
		case <-ctx.Done():
			return nil
		}
	}
}
