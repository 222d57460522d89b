package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// bus-listen - Message Bus Debug Listener
// ============================================================================
// Connects to the assistant message bus and pretty-prints every envelope it
// sees. Optionally sends a single command message and waits for the matching
// response, which makes it a quick end-to-end probe for a running sysbridge
// daemon:
//
//   bus-listen
//   bus-listen -send ssh.status
//   bus-listen -send volume.set -data '{"percent": 70}'
// ============================================================================

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:8181/core", "Message bus websocket URL")
		send    = flag.String("send", "", "Send a single command message and wait for its response")
		data    = flag.String("data", "", "JSON data payload for -send (e.g. '{\"percent\": 70}')")
		timeout = flag.Int("timeout", 35, "Seconds to wait for a response in -send mode")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// Ping ticker keeps long idle listens alive through proxies.
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	// Single-send mode: publish one command, print envelopes until the
	// matching response type shows up.
	if *send != "" {
		msg := map[string]any{"type": *send}
		if *data != "" {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(*data), &parsed); err != nil {
				log.Fatalf("invalid -data JSON: %v", err)
			}
			msg["data"] = parsed
		}
		payload, _ := json.Marshal(msg)

		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, payload)
		writeMu.Unlock()
		if err != nil {
			log.Fatalf("failed to send: %v", err)
		}
		log.Printf("sent %s, waiting for %s.response...", *send, *send)

		deadline := time.Now().Add(time.Duration(*timeout) * time.Second)
		wantType := *send + ".response"
		for time.Now().Before(deadline) {
			conn.SetReadDeadline(deadline)
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Fatalf("failed to read response: %v", err)
			}
			msgType := printEnvelope(raw)
			if msgType == wantType {
				return
			}
		}
		log.Fatalf("no response within %ds", *timeout)
	}

	// Listen mode: print everything until the connection drops or we get a
	// shutdown signal.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			switch messageType {
			case websocket.TextMessage:
				printEnvelope(raw)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(raw))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
	}
}

// printEnvelope pretty-prints one bus message and returns its type field.
func printEnvelope(raw []byte) string {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		fmt.Printf("[RAW] %s\n", string(raw))
		return ""
	}

	msgType, _ := msg["type"].(string)
	pretty, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		fmt.Printf("[%s] %s\n", msgType, string(raw))
		return msgType
	}
	fmt.Printf("%s %s\n", time.Now().Format("15:04:05.000"), string(pretty))
	return msgType
}
