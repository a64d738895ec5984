// Command convergenced runs one engine process of the convergence
// engine: it drains check_resource casts off the shared bus, executes
// them through the Resource Check-Runner, and serves this engine's
// EngineListener and cancellation probes (spec §4.5).
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/stackforge/convergence/internal/bus"
	"github.com/stackforge/convergence/internal/checker"
	"github.com/stackforge/convergence/internal/config"
	"github.com/stackforge/convergence/internal/convlog"
	"github.com/stackforge/convergence/internal/driver"
	"github.com/stackforge/convergence/internal/store"
	"github.com/stackforge/convergence/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "convergenced",
		Short: "Run a convergence engine worker process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Log.Verbosity > 0 {
		_ = goflag.Set("v", strconv.Itoa(cfg.Log.Verbosity))
	}
	convlog.Infof("starting engine %s", cfg.Engine.ID)

	db, err := store.Open(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Bus.Addr,
		Password: cfg.Bus.Password,
		DB:       cfg.Bus.DB,
	})
	defer redisClient.Close()
	messageBus := bus.NewRedisBus(redisClient, cfg.Bus.Prefix)

	resources := store.NewResourceStore(db)
	stacks := store.NewStackStore(db)
	syncPoints := store.NewSyncPointStore(db)
	stackController := store.NewStackController(stacks, syncPoints)
	graphs := store.NewGraphStore(db)
	locks := store.NewResourceLockInspector(resources)

	registry := driver.NewRegistry()
	loader := &driver.Loader{Resources: resources, Stacks: stacks, Providers: registry}

	cancelRegistry := worker.NewCancelRegistry()
	runner := &checker.Runner{
		EngineID:   cfg.Engine.ID,
		Loader:     loader,
		Stacks:     stackController,
		Graphs:     graphs,
		SyncPoints: syncPoints,
		Dispatch:   &worker.BusDispatcher{Bus: messageBus},
		Locks:      locks,
		Liveness:   &worker.LivenessChecker{Bus: messageBus},
		Cancel:     cancelRegistry,
	}

	svc := &worker.Service{
		EngineID:   cfg.Engine.ID,
		Bus:        messageBus,
		Runner:     runner,
		Engines:    resources,
		Stacks:     stacks,
		SyncPoints: syncPoints,
		Cancel:     cancelRegistry,
	}

	numWorkers := cfg.Engine.Workers
	err = svc.Run(ctx, numWorkers)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker service stopped: %w", err)
	}
	convlog.Infof("engine %s shut down", cfg.Engine.ID)
	return nil
}
