package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/adapters/interpreter"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/adapters/registry"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/admission"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/api"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/config"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/events"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/gateway"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/logging"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/orchestrator"
	"github.com/hugo-lorenzo-mato/conduit-ai/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	Long: `Starts the HTTP listener (REST, websocket connections, SSE feed) and,
when enabled, the cron scheduler. On SIGINT/SIGTERM new executions are
rejected while in-flight ones are given the shutdown timeout to finish.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("starting conduit", "version", appVersion)

	store, err := state.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	agents, err := registry.New(cfg.Storage.AgentsDir, logger)
	if err != nil {
		return fmt.Errorf("opening agent registry: %w", err)
	}

	bus := events.New(cfg.Gateway.RelayBuffer)
	defer bus.Close()

	drain := admission.NewDrainGate()
	limiter := admission.NewFairnessGate(admission.Limits{
		MaxConcurrentPerUser: cfg.Limits.MaxConcurrentPerUser,
		DailyQuota:           cfg.Limits.DailyQuota,
	}, store, logger)

	orch := orchestrator.New(interpreter.NewLoopback(), drain, limiter, logger,
		orchestrator.WithStore(store),
		orchestrator.WithBus(bus),
		orchestrator.WithRelayBuffer(cfg.Gateway.RelayBuffer),
	)

	gw := gateway.New(orch, agents, gateway.Config{
		PingInterval:   cfg.Gateway.PingInterval,
		ReadTimeout:    cfg.Gateway.ReadTimeout,
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		OutboundBuffer: cfg.Gateway.OutboundBuffer,
	}, logger)

	schedules := scheduler.New(store.Schedules(), agents, orch, limiter, bus, logger)
	server := api.NewServer(schedules, store, gw, bus, cfg.Auth, api.WithLogger(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Gate closes the moment shutdown starts, so runs arriving during the
	// drain window are rejected instead of started.
	go func() {
		<-ctx.Done()
		drain.BeginDrain()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
	})

	if cfg.Scheduler.Enabled {
		g.Go(func() error {
			if err := schedules.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			schedules.Stop()
			return nil
		})
	}

	if path := loader.ConfigFileUsed(); path != "" {
		g.Go(func() error {
			err := config.Watch(gctx, path, logger.Logger, func(limits config.LimitsConfig) {
				limiter.SetLimits(admission.Limits{
					MaxConcurrentPerUser: limits.MaxConcurrentPerUser,
					DailyQuota:           limits.DailyQuota,
				})
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	err = g.Wait()

	// The group can also exit without a signal, e.g. when the listener fails
	// at startup. Close the gate here too; otherwise the wait below blocks
	// the full timeout on a gate that never started draining.
	drain.BeginDrain()

	// Give in-flight executions the shutdown window to finish.
	if waitErr := drain.WaitTimeout(cfg.Server.ShutdownTimeout); waitErr != nil {
		logger.Warn("shutdown timeout reached with executions in flight",
			"in_flight", drain.InFlight())
	}
	logger.Info("conduit stopped")
	return err
}
