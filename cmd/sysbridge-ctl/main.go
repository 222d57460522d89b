package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
)

// ============================================================================
// sysbridge-ctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the sysbridge daemon via its Unix socket, so
// scripts and operators can exercise the same command surface as the message
// bus without a bus connection.
//
// Usage:
//   sysbridge-ctl ssh.status
//   sysbridge-ctl volume.set 70
//   sysbridge-ctl service.restart nginx.service
//   sysbridge-ctl ntp.sync time.example.org
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/sysbridge.sock)
// ============================================================================

// CommandRequest mirrors the daemon's request shape (duplicated for a
// standalone binary).
type CommandRequest struct {
	CommandID  string         `json:"command_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommandResult mirrors the daemon's reply shape.
type CommandResult struct {
	CommandID     string         `json:"command_id"`
	CorrelationID string         `json:"correlation_id"`
	Outcome       string         `json:"outcome"`
	Detail        string         `json:"detail,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func main() {
	socketPath := "/tmp/sysbridge.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		os.Exit(0)
	}

	req, err := buildRequest(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	res, err := sendRequest(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	printResult(res)
	if res.Outcome != "success" {
		os.Exit(1)
	}
}

// buildRequest maps the positional arguments onto a request. The first
// argument is the command id; the optional second argument fills the
// command's primary parameter.
func buildRequest(args []string) (CommandRequest, error) {
	req := CommandRequest{CommandID: args[0]}

	arg := ""
	if len(args) > 1 {
		arg = args[1]
	}

	switch args[0] {
	case "ntp.sync":
		if arg != "" {
			req.Parameters = map[string]any{"server": arg}
		}

	case "ssh.status", "ssh.enable", "ssh.disable":
		if arg != "" {
			req.Parameters = map[string]any{"unit": arg}
		}

	case "reboot", "shutdown",
		"volume.get", "volume.increase", "volume.decrease",
		"volume.mute", "volume.unmute", "volume.mute.toggle":
		if arg != "" {
			return req, fmt.Errorf("%s takes no arguments", args[0])
		}

	case "configure.language":
		if arg == "" {
			return req, fmt.Errorf("configure.language requires a locale (e.g. en_GB.UTF-8)")
		}
		req.Parameters = map[string]any{"lang": arg}

	case "service.restart":
		if arg != "" {
			req.Parameters = map[string]any{"unit": arg}
		}

	case "volume.set":
		if arg != "" {
			percent, err := strconv.Atoi(arg)
			if err != nil {
				return req, fmt.Errorf("invalid percent value %q", arg)
			}
			req.Parameters = map[string]any{"percent": percent}
		}

	default:
		return req, fmt.Errorf("unknown command: %s", args[0])
	}

	return req, nil
}

func sendRequest(socketPath string, req CommandRequest) (CommandResult, error) {
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

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return res, fmt.Errorf("send request: %w", err)
	}

	if err := json.NewDecoder(conn).Decode(&res); err != nil {
		return res, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}

func printResult(res CommandResult) {
	fmt.Printf("%s: %s\n", res.CommandID, res.Outcome)
	if res.Detail != "" {
		fmt.Printf("  detail: %s\n", res.Detail)
	}
	if len(res.Payload) > 0 {
		keys := make([]string, 0, len(res.Payload))
		for k := range res.Payload {
			keys = append(keys, k)
		}
		// Stable output for scripting
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %v\n", k, res.Payload[k])
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `sysbridge-ctl - Control the sysbridge daemon via IPC

Usage:
  sysbridge-ctl [options] <command> [arg]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/sysbridge.sock)

Commands:
  ntp.sync [server]           Synchronize the system clock
  ssh.status [unit]           Report whether the SSH service is active
  ssh.enable [unit]           Enable and start the SSH service
  ssh.disable [unit]          Disable and stop the SSH service
  reboot                      Reboot the host (can be disabled in config)
  shutdown                    Power the host off (can be disabled in config)
  configure.language <lang>   Set the system locale (e.g. en_GB.UTF-8)
  service.restart [unit]      Restart a systemd unit
  volume.get                  Report output volume and mute state
  volume.set [percent]        Set output volume (default 50)
  volume.increase             Raise volume by the configured step
  volume.decrease             Lower volume by the configured step
  volume.mute                 Mute the output
  volume.unmute               Unmute the output
  volume.mute.toggle          Toggle the mute switch

Examples:
  sysbridge-ctl volume.set 70
  sysbridge-ctl -socket /run/sysbridge.sock ssh.status
`)
}
