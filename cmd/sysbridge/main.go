package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("sysbridge v%s\n", version)
	fmt.Println("Message-bus adapter exposing host OS control actions")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sysbridge [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that subscribes to a voice-assistant message bus (WebSocket)")
	fmt.Println("  and executes host OS control commands on its behalf: NTP sync, SSH")
	fmt.Println("  enable/disable, reboot/shutdown, locale configuration, service")
	fmt.Println("  restart, and ALSA volume control. Every command is answered with a")
	fmt.Println("  typed response message carrying the request's correlation id.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional; flags override file values)")
	fmt.Println()
	fmt.Println("  -bus-url string")
	fmt.Printf("        Message bus websocket URL (default %q)\n", defaultBusURL)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for local control (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -allow-reboot")
	fmt.Println("        Permit the reboot command (default true)")
	fmt.Println()
	fmt.Println("  -allow-shutdown")
	fmt.Println("        Permit the shutdown command (default true)")
	fmt.Println()
	fmt.Println("  -mixer-control string")
	fmt.Printf("        ALSA mixer control name (default %q)\n", defaultMixerControl)
	fmt.Println()
	fmt.Println("  -env string")
	fmt.Println("        Path to a .env file to load before reading the environment")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-file string")
	fmt.Println("        Log file path with rotation; empty logs to stdout")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  SYSBRIDGE_BUS_URL    - overrides bus.url")
	fmt.Println("  SYSBRIDGE_IPC_SOCKET - overrides ipc.socket_path")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults, connecting to a local bus")
	fmt.Println("  sysbridge")
	fmt.Println()
	fmt.Println("  # Config file plus an ad-hoc override")
	fmt.Println("  sysbridge -config /etc/sysbridge/config.yaml -log-level debug")
	fmt.Println()
	fmt.Println("  # Disallow power commands on a shared host")
	fmt.Println("  sysbridge -allow-reboot=false -allow-shutdown=false")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Privileged actions run through the configured privilege.command")
	fmt.Println("    (default \"sudo\"); grant passwordless sudo for exactly the")
	fmt.Println("    binaries in the action table, nothing broader.")
	fmt.Println("  - reboot and shutdown are allowed by default; disable them via")
	fmt.Println("    config or flags on hosts where that is unacceptable.")
	fmt.Println()
}

func main() {
	// Check for version/help flags early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	// Parse command-line flags
	var (
		configPath    = flag.String("config", "", "Path to YAML config file")
		busURL        = flag.String("bus-url", "", "Message bus websocket URL")
		ipcSocketPath = flag.String("ipc-socket", "", "Unix domain socket path for local control")
		allowReboot   = flag.Bool("allow-reboot", true, "Permit the reboot command")
		allowShutdown = flag.Bool("allow-shutdown", true, "Permit the shutdown command")
		mixerControl  = flag.String("mixer-control", "", "ALSA mixer control name")
		envFile       = flag.String("env", "", "Path to a .env file to load")
		logLevelStr   = flag.String("log-level", "", "Log level: error, warn, info, debug")
		logFile       = flag.String("log-file", "", "Log file path; empty logs to stdout")
		showVersion   = flag.Bool("version", false, "Print version and exit")
		showHelp      = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Optional .env file, then real environment
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintln(os.Stderr, "error: load env file:", err)
			os.Exit(1)
		}
	}

	// Config precedence: defaults < file < environment < flags
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if v := os.Getenv("SYSBRIDGE_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("SYSBRIDGE_IPC_SOCKET"); v != "" {
		cfg.IPC.SocketPath = v
	}

	overrides := FlagOverrides{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bus-url":
			overrides.BusURL = busURL
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocketPath
		case "allow-reboot":
			overrides.AllowReboot = allowReboot
		case "allow-shutdown":
			overrides.AllowShutdown = allowShutdown
		case "mixer-control":
			overrides.MixerControl = mixerControl
		case "log-level":
			overrides.LogLevel = logLevelStr
		case "log-file":
			overrides.LogFile = logFile
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel, cfg.Logging)

	// Build the action registry
	registry, err := newRegistry(cfg.Actions)
	if err != nil {
		logger.Error("failed to build action registry", "error", err)
		os.Exit(1)
	}

	// Privilege elevation for actions marked privileged
	var elevator Elevator
	if cfg.Privilege.Command != "" {
		elevator = SudoElevator{Path: cfg.Privilege.Command}
	} else {
		elevator = NoElevator{}
	}

	executor := NewProcessExecutor(elevator,
		time.Duration(cfg.Actions.KillGraceMS)*time.Millisecond, logger)

	// Mixer + volume controller
	mixer := NewAlsaMixer(cfg.Mixer, logger)
	volume := NewVolumeController(mixer,
		time.Duration(cfg.Volume.DebounceMS)*time.Millisecond, logger)

	dispatcher := NewDispatcher(registry, executor, volume, cfg.Actions, cfg.Volume, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Prime the volume state; a missing mixer is not fatal, volume commands
	// will report their own failures.
	if err := volume.Sync(ctx); err != nil {
		logger.Warn("could not read initial mixer state", "error", err)
	}

	// Connect to the message bus
	bus, err := NewBusClient(cfg.Bus.URL, logger)
	if err != nil {
		logger.Error("failed to connect to message bus", "url", cfg.Bus.URL, "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	logger.Debug("starting sysbridge", "version", version)
	logger.Info("listening",
		"bus_url", cfg.Bus.URL,
		"ipc_socket", cfg.IPC.SocketPath,
		"mixer_control", cfg.Mixer.Control,
		"allow_reboot", cfg.Actions.AllowReboot,
		"allow_shutdown", cfg.Actions.AllowShutdown)

	requests := make(chan inboundRequest, requestQueueSize)
	drainTimeout := time.Duration(cfg.Actions.DrainTimeoutMS) * time.Millisecond

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(requests)
		return runBusLoop(gctx, bus, requests, logger)
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, dispatcher, logger)
	})

	g.Go(func() error {
		runDaemon(gctx, requests, dispatcher, drainTimeout, logger)
		return nil
	})

	// Unblock the bus read loop when shutting down.
	g.Go(func() error {
		<-gctx.Done()
		bus.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}
