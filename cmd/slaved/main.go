package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusdp/slaved/pkg/broadcast"
	"github.com/nimbusdp/slaved/pkg/config"
	"github.com/nimbusdp/slaved/pkg/daemon"
	"github.com/nimbusdp/slaved/pkg/fault"
	"github.com/nimbusdp/slaved/pkg/launcher"
	"github.com/nimbusdp/slaved/pkg/log"
	"github.com/nimbusdp/slaved/pkg/logwatch"
	"github.com/nimbusdp/slaved/pkg/metrics"
	"github.com/nimbusdp/slaved/pkg/registry"
	"github.com/nimbusdp/slaved/pkg/supervisor"
	"github.com/nimbusdp/slaved/pkg/timer"
	"github.com/nimbusdp/slaved/pkg/transport"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "slaved",
	Short:   "slaved - slave lifecycle supervisor and fault manager",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("slaved version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	runCmd.Flags().String("config", "", "Path to YAML config file (overrides "+config.ConfigPathEnvVar+")")
	runCmd.Flags().String("slave-binary", "/usr/libexec/slaved/slave", "Path to the slave worker binary the reference launcher execs")
	runCmd.Flags().String("rpc-addr", "127.0.0.1:7780", "Address the WebSocket slave transport listens on")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address the Prometheus/health HTTP server listens on")
	runCmd.Flags().Duration("reconcile-interval", 10*time.Second, "Interval between reconciliation sweeps")
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the slave lifecycle supervisor daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		slaveBinary, _ := cmd.Flags().GetString("slave-binary")
		rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		sweepInterval, _ := cmd.Flags().GetDuration("reconcile-interval")

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		reg := registry.New(registry.Config{MaxLoad: cfg.SlaveMaxLoad, DefaultABI: cfg.DefaultABI})
		timers := timer.New(nil)

		watcher, err := logwatch.New(cfg.SlaveLogPath)
		if err != nil {
			return fmt.Errorf("failed to start crash-log watcher: %w", err)
		}
		defer watcher.Close()

		wsTransport := transport.New()
		broker := broadcast.NewBroker()
		broker.Start()
		defer broker.Stop()

		faults := fault.New(logwatch.NewFileLogReader(cfg.SlaveLogPath), nil, wsTransport, broker)
		procLauncher := launcher.New(slaveBinary)

		engine := supervisor.New(reg, timers, faults, procLauncher, wsTransport, nil, cfg)

		metrics.RegisterComponent("dispatch", true, "starting")
		metrics.RegisterComponent("transport", true, "starting")
		metrics.RegisterComponent("logwatch", true, "starting")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/healthz", metrics.HealthHandler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		mainLogger := log.WithComponent("main")
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				mainLogger.Error().Err(err).Msg("metrics server error")
			}
		}()

		sup := daemon.New(engine, watcher, wsTransport, procLauncher.Exits(), rpcAddr, sweepInterval)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mainLogger.Info().
			Str("rpc_addr", rpcAddr).
			Str("metrics_addr", metricsAddr).
			Str("slave_log_path", cfg.SlaveLogPath).
			Msg("slaved starting")

		serveErr := sup.Serve(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)

		if serveErr != nil && serveErr != context.Canceled {
			mainLogger.Info().Err(serveErr).Msg("slaved stopped")
		}
		return nil
	},
}
