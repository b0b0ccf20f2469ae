package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alepersan/hckworker/internal/checkengine"
	"github.com/alepersan/hckworker/internal/config"
	"github.com/alepersan/hckworker/internal/ipc"
	"github.com/alepersan/hckworker/internal/logging"
	"github.com/alepersan/hckworker/internal/metrics"
	"github.com/alepersan/hckworker/internal/reactor"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hckworker",
	Short: "Pipelined HTTP health-check worker with a keep-alive connection pool",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a config file (optional)")
	rootCmd.Flags().String("log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "", "override log.format (console, json)")
	rootCmd.Flags().String("listener-path", "", "override listener.path")
	rootCmd.Flags().String("metrics-addr", "", "override metrics.addr")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)

	logging.Init(logging.Level(cfg.Log.Level), logging.Format(cfg.Log.Format))
	log := logging.WithComponent("coordinator")

	metrics.ServeBackground(cfg.Metrics.Addr, log)

	listener, err := ipc.Listen(cfg.Listener.Path)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}

	rx, err := reactor.New()
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("creating reactor: %w", err)
	}

	engine := checkengine.NewEngine(rx, listener, log, metrics.Recorder{})
	if err := engine.Start(); err != nil {
		_ = listener.Close()
		_ = rx.Close()
		return fmt.Errorf("registering listener: %w", err)
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		close(stop)
	}()

	log.Info().Str("listener", cfg.Listener.Path).Msg("worker started")
	err = engine.Run(stop)
	_ = rx.Close()
	return err
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v, _ := cmd.Flags().GetString("listener-path"); v != "" {
		cfg.Listener.Path = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.Metrics.Addr = v
	}
}
