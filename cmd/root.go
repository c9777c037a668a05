// Package cmd implements commands for the fairdraw executable.
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oasisprotocol/fairdraw/cmd/common"
	"github.com/oasisprotocol/fairdraw/cmd/engine"
	"github.com/oasisprotocol/fairdraw/config"
	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/metrics"
)

var (
	// Path to the configuration file.
	configFile string

	rootCmd = &cobra.Command{
		Use:   "fairdraw",
		Short: "Commit-reveal randomness engine",
		Run:   rootMain,
	}
)

// Service is a service run by fairdraw.
type Service interface {
	// Start runs the service until ctx is cancelled.
	Start(ctx context.Context) error

	// Name returns the name of the service.
	Name() string
}

func rootMain(cmd *cobra.Command, args []string) {
	// Initialize config.
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}

	// Initialize common environment.
	if err = common.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := common.RootLogger()

	// Trap Ctrl+C and SIGTERM; the latter is issued by Kubernetes to request a shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize services.
	var services []Service
	if cfg.Engine != nil {
		engineService, err := engine.Init(ctx, cfg.Engine)
		if err != nil {
			logger.Error("failed to initialize engine service", "err", err)
			os.Exit(1)
		}
		services = append(services, engineService)
	}
	if cfg.Metrics != nil {
		pullService, err := metrics.NewPullService(cfg.Metrics.PullEndpoint, logger)
		if err != nil {
			logger.Error("failed to initialize metrics service", "err", err)
			os.Exit(1)
		}
		services = append(services, pullService)
		if cfg.Metrics.PprofEndpoint != "" {
			services = append(services, common.NewPprofService(cfg.Metrics.PprofEndpoint, logger))
		}
	}
	if len(services) == 0 {
		logger.Error("no services configured")
		os.Exit(1)
	}

	// Run services. The first one to fail takes the others down with it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	for _, s := range services {
		wg.Add(1)
		go func(s Service) {
			defer wg.Done()
			if err := s.Start(ctx); err != nil {
				logger.Error("service failed", "service", s.Name(), "err", err)
				cancel()
			}
		}(s)
	}

	logger.Info("started all services", "count", len(services))
	wg.Wait()
	logger.Info("all services have exited")
}

// Execute spawns the main entry point after handing the config file.
func Execute() {
	// Debug hook. If we receive SIGUSR1, dump all goroutines.
	go dumpGoroutinesOnSignal(syscall.SIGUSR1)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "./conf/server.yml", "path to the config.yml file")

	for _, f := range []func(*cobra.Command){
		engine.Register,
	} {
		f(rootCmd)
	}
}

// Starts listening for the specified signals, and logs a dump of all
// goroutines when the process receives one of those signals.
func dumpGoroutinesOnSignal(signals ...os.Signal) {
	logger := log.NewDefaultLogger("toplevel")
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)
	logger.Info("listening for signals", "signals", signals)
	for range c {
		b := bytes.NewBufferString("")
		_ = pprof.Lookup("goroutine").WriteTo(b, 1)
		logger.Warn("USER-REQUESTED DUMP: all goroutines", "goroutines_all", b.String())

		b = bytes.NewBufferString("")
		_ = pprof.Lookup("mutex").WriteTo(b, 1)
		logger.Warn("USER-REQUESTED DUMP: stack traces of holders of contended mutexes", "goroutines_mutex", b.String())
	}
}
