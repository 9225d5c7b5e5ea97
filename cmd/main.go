package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sleepywoodpecker/mindball-serial/internal/arena"
	"sleepywoodpecker/mindball-serial/internal/config"
	"sleepywoodpecker/mindball-serial/internal/logger"
	"sleepywoodpecker/mindball-serial/internal/monitor"
	"sleepywoodpecker/mindball-serial/internal/telemetry"
)

const LOG_FILE_PATH = "mindball.logs"

type runFlags struct {
	configPath     string
	variant        string
	ports          []string
	baud           int
	logFile        string
	logLevel       string
	telemetryAddr  string
	arenaDelay     time.Duration
	stopOnDecision bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mindball",
		Short:        "Play mindball with one or two serial EEG headsets",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Acquire, process and run a race until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "path to a JSON config file")
	f.StringVar(&flags.variant, "variant", string(arena.VariantSingle), "game variant (single, dual)")
	f.StringArrayVarP(&flags.ports, "port", "p", nil, "serial device, once per player")
	f.IntVar(&flags.baud, "baud", config.DEFAULT_BAUDRATE, "baud rate of every device")
	f.StringVar(&flags.logFile, "log-file", LOG_FILE_PATH, "JSON log file, empty to log to the console only")
	f.StringVar(&flags.logLevel, "log-level", "info", "minimum log level")
	f.StringVar(&flags.telemetryAddr, "telemetry-addr", "", "telegraf UDP address, empty to disable telemetry")
	f.DurationVar(&flags.arenaDelay, "arena-delay", 2*time.Second, "wait before the race starts")
	f.BoolVar(&flags.stopOnDecision, "stop-on-decision", false, "exit once the race is decided")

	return cmd
}

// buildConfig layers the config file, then any flag the user set explicitly.
func buildConfig(cmd *cobra.Command, flags runFlags) (*config.Config, error) {
	var cfg *config.Config
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default(arena.Variant(flags.variant))
		cfg.Variant = arena.Variant(flags.variant)
	}

	changed := cmd.Flags().Changed
	if changed("variant") && cfg.Variant != arena.Variant(flags.variant) {
		return nil, fmt.Errorf("--variant %s conflicts with the config file variant %s", flags.variant, cfg.Variant)
	}
	if changed("port") {
		if len(flags.ports) != len(cfg.Devices) {
			return nil, fmt.Errorf("variant %s needs %d --port flag(s), got %d", cfg.Variant, len(cfg.Devices), len(flags.ports))
		}
		for i, port := range flags.ports {
			cfg.Devices[i].Port = port
		}
	}
	if changed("baud") {
		for i := range cfg.Devices {
			cfg.Devices[i].BaudRate = flags.baud
		}
	}
	if changed("log-file") || flags.configPath == "" {
		cfg.LogFile = flags.logFile
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if changed("telemetry-addr") {
		cfg.TelemetryAddr = flags.telemetryAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, flags runFlags) error {
	// first initialize the main logger
	log, err := logger.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	m, err := monitor.New(cfg, log)
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.Stop(); err != nil {
			log.Warn("[main] error while stopping monitor", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.TelemetryAddr != "" {
		// initialize UDP connection to telegraf
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.TelemetryAddr)
		if err != nil {
			return err
		}
		udpConn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			return err
		}
		defer udpConn.Close()

		sampler := telemetry.NewSampler(cfg.TelemetryInterval.Std(), udpConn, m, log)
		go sampler.Run(runCtx)
	}

	go m.Run(runCtx)

	arenaTimer := time.NewTimer(flags.arenaDelay)
	defer arenaTimer.Stop()

	for {
		select {
		case <-runCtx.Done():
			log.Info("[main] shutting down")
			return nil
		case <-arenaTimer.C:
			m.StartArena()
		case decision := <-m.Decisions():
			log.Info("[main] winner decided",
				zap.String("session", decision.SessionID.String()),
				zap.Stringer("winner", decision.Winner),
			)
			if flags.stopOnDecision {
				return nil
			}
		case err := <-m.Errors():
			log.Error("[main] device lost, stopping", zap.Error(err))
			return err
		}
	}
}
