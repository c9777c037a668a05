// Package engine implements the `engine` sub-command and the session
// inspection sub-commands.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cmdCommon "github.com/oasisprotocol/fairdraw/cmd/common"
	"github.com/oasisprotocol/fairdraw/commitment"
	"github.com/oasisprotocol/fairdraw/common"
	"github.com/oasisprotocol/fairdraw/config"
	"github.com/oasisprotocol/fairdraw/engine"
	"github.com/oasisprotocol/fairdraw/log"
	"github.com/oasisprotocol/fairdraw/storage"
)

const (
	moduleName = "engine_service"
)

var (
	// Path to the configuration file.
	configFile string

	// Session to inspect.
	sessionID string

	// Paging for the list command.
	listAfter string
	listLimit int

	engineCmd = &cobra.Command{
		Use:   "engine",
		Short: "Run the session engine and deadline sweeper",
		Run:   runEngine,
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Recompute and check a session's result",
		Run:   runVerify,
	}

	showCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the public view of a session",
		Run:   runShow,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Print a page of session views in id order",
		Run:   runList,
	}
)

// errNotPersistent is returned when an inspection command targets a
// backend whose sessions live only inside the engine process.
var errNotPersistent = errors.New("storage backend is not persistent; inspection needs postgres, pogreb or redis")

// checkInspectable rejects configurations an inspection command cannot
// read sessions from.
func checkInspectable(cfg *config.EngineConfig) error {
	if !cfg.Storage.Persistent() {
		return fmt.Errorf("%w (backend %q)", errNotPersistent, cfg.Storage.Backend)
	}
	return nil
}

// loadConfig reads the config file and initializes logging, exiting on
// failure.
func loadConfig() *config.Config {
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("config init failed",
			"error", err,
		)
		os.Exit(1)
	}
	if err = cmdCommon.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	if cfg.Engine == nil {
		cmdCommon.RootLogger().Error("engine config not provided")
		os.Exit(1)
	}
	return cfg
}

func runEngine(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := Init(ctx, cfg.Engine)
	if err != nil {
		os.Exit(1)
	}
	if err = service.Start(ctx); err != nil {
		os.Exit(1)
	}
}

func runVerify(cmd *cobra.Command, args []string) {
	inspect(func(ctx context.Context, m *engine.Manager) (any, error) {
		return m.Verify(ctx, sessionID)
	})
}

func runShow(cmd *cobra.Command, args []string) {
	inspect(func(ctx context.Context, m *engine.Manager) (any, error) {
		return m.GetSessionView(ctx, sessionID)
	})
}

func runList(cmd *cobra.Command, args []string) {
	inspect(func(ctx context.Context, m *engine.Manager) (any, error) {
		return m.List(ctx, listAfter, listLimit)
	})
}

// inspect runs fn against a manager over the configured store and prints
// its result as JSON.
func inspect(fn func(context.Context, *engine.Manager) (any, error)) {
	cfg := loadConfig()
	logger := cmdCommon.RootLogger().WithModule(moduleName)
	ctx := context.Background()

	if err := checkInspectable(cfg.Engine); err != nil {
		logger.Error("cannot inspect sessions", "error", err)
		os.Exit(1)
	}

	// Inspection never wipes the store it reads from.
	engineCfg := *cfg.Engine
	storageCfg := *engineCfg.Storage
	storageCfg.WipeStorage = false
	engineCfg.Storage = &storageCfg

	service, err := Init(ctx, &engineCfg)
	if err != nil {
		os.Exit(1)
	}
	defer service.Close()

	out, err := fn(ctx, service.Manager)
	if err != nil {
		logger.Error("request failed",
			"session", sessionID,
			"kind", engine.Kind(err),
			"error", err,
		)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("failed to encode output", "error", err)
		os.Exit(1)
	}
}

// Service runs the session engine.
type Service struct {
	Manager *engine.Manager
	Sweeper *engine.Sweeper

	store  storage.SessionStore
	logger *log.Logger
}

// Init initializes the engine service.
func Init(ctx context.Context, cfg *config.EngineConfig) (*Service, error) {
	logger := cmdCommon.RootLogger().WithModule(moduleName)

	service, err := NewService(ctx, cfg, logger)
	if err != nil {
		logger.Error("service failed to start",
			"error", err,
		)
		return nil, err
	}
	return service, nil
}

// NewService opens the configured store and builds the manager and
// sweeper on top of it.
func NewService(ctx context.Context, cfg *config.EngineConfig, logger *log.Logger) (*Service, error) {
	logger.Info("initializing engine service", "backend", cfg.Storage.Backend)

	store, err := cmdCommon.NewStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	manager, err := engine.NewManager(store, logger, engine.Options{
		MaxSaveAttempts: cfg.MaxSaveAttempts,
		RetryInitial:    cfg.RetryInitial,
		RetryMaximum:    cfg.RetryMaximum,
		Algorithm:       commitment.Algorithm(cfg.CommitmentAlgorithm),
	})
	if err != nil {
		common.CloseOrLog(store, logger)
		return nil, err
	}

	return &Service{
		Manager: manager,
		Sweeper: engine.NewSweeper(manager, cfg.SweepInterval, cfg.SweepParallelism, logger),
		store:   store,
		logger:  logger,
	}, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return "engine"
}

// Start runs the sweeper until ctx is cancelled, then closes the store.
func (s *Service) Start(ctx context.Context) error {
	defer s.Close()
	s.logger.Info("starting engine service")

	if err := s.Sweeper.Start(ctx); err != nil {
		s.logger.Error("sweeper failed", "error", err)
		return err
	}
	s.logger.Info("engine service stopped cleanly")
	return nil
}

// Close releases the session store.
func (s *Service) Close() {
	common.CloseOrLog(s.store, s.logger)
}

// Register registers the engine sub-commands.
func Register(parentCmd *cobra.Command) {
	for _, c := range []*cobra.Command{engineCmd, verifyCmd, showCmd, listCmd} {
		c.Flags().StringVar(&configFile, "config", "./conf/server.yml", "path to the config.yml file")
		parentCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{verifyCmd, showCmd} {
		c.Flags().StringVar(&sessionID, "session", "", "session id")
		_ = c.MarkFlagRequired("session")
	}
	listCmd.Flags().StringVar(&listAfter, "after", "", "list sessions whose ids sort after this one")
	listCmd.Flags().IntVar(&listLimit, "limit", engine.DefaultListLimit, "page size")
}
