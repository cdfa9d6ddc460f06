package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"portagent/config"
	"portagent/engine"
	"portagent/logging"
	"portagent/metrics"
)

const (
	appName    = "port_agent"
	appVersion = "3.0.0"
)

// tickInterval bounds the poll/select timeout the engine's cooperative
// loop waits between iterations.
const tickInterval = 50 * time.Millisecond

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	args, err := config.ParseArgs(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, config.Usage())
		return 1
	}

	if args.Help {
		fmt.Print(config.Usage())
		return 0
	}
	if args.Version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		return 0
	}

	cfg := config.New()
	queue := config.NewQueue()

	if args.ConfFile != "" {
		if err := config.LoadConfigFile(cfg, queue, args.ConfFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load %s: %v\n", args.ConfFile, err)
			return 1
		}
	}
	if args.CommandPort != 0 {
		cfg.ObservatoryCommandPort = args.CommandPort
	}
	if args.MetricsPort != 0 {
		cfg.MetricsPort = args.MetricsPort
	}

	if cfg.ObservatoryCommandPort == 0 {
		fmt.Fprintln(os.Stderr, "Error: -p/--command_port is required")
		return 1
	}

	if args.Kill {
		return killRunningInstance(cfg)
	}

	for _, dir := range []string{cfg.PidDir, cfg.LogDir, cfg.ConfDir, cfg.DataDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot create directory %s: %v\n", dir, err)
			return 2
		}
	}

	logger := logging.New(cfg.LogDir, cfg.ObservatoryCommandPort, cfg.LogLevel)
	if args.Verbose {
		logger.RaiseToDebug()
	}
	logger.Info("starting port agent", "version", appVersion, "command_port", cfg.ObservatoryCommandPort, "single", args.Single)

	bus := metrics.NewBus()
	collector := metrics.NewCollector()

	metricsAddr := ""
	if cfg.MetricsPort > 0 {
		metricsAddr = ":" + strconv.Itoa(cfg.MetricsPort)
	}
	metricsSrv := metrics.NewServer(metricsAddr, collector)
	if err := metricsSrv.Start(); err != nil {
		logger.Warn("metrics server failed to start", "error", err)
	}
	defer metricsSrv.Stop()

	eng := engine.New(cfg, logger, bus, collector)
	eng.EnterUnconfigured()
	if args.PPID != 0 {
		eng.SetPPID(args.PPID)
	}
	for _, tag := range queue.Drain() {
		eng.Queue().Enqueue(tag)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		eng.Shutdown()
	}()

	pidWritten := false
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		eng.Tick(time.Now())

		if !pidWritten && eng.State() >= engine.Configured {
			if err := writePIDFile(cfg); err != nil {
				logger.Warn("failed to write pid file", "error", err)
			} else {
				pidWritten = true
			}
		}

		if eng.State() == engine.Shutdown {
			break
		}
	}

	if pidWritten {
		os.Remove(cfg.PidFile())
	}
	logger.Info("port agent stopped")
	return eng.ExitCode()
}

func writePIDFile(cfg *config.Config) error {
	return os.WriteFile(cfg.PidFile(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func killRunningInstance(cfg *config.Config) int {
	data, err := os.ReadFile(cfg.PidFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read pid file: %v\n", err)
		return 2
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed pid file: %v\n", err)
		return 2
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to signal pid %d: %v\n", pid, err)
		return 3
	}
	return 0
}
