// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/spf13/cobra"

	"github.com/resetd/resetd/internal/config"
	"github.com/resetd/resetd/internal/directory"
	"github.com/resetd/resetd/internal/logging"
	"github.com/resetd/resetd/internal/observability"
	"github.com/resetd/resetd/internal/pwcheck"
	"github.com/resetd/resetd/internal/request"
	"github.com/resetd/resetd/internal/server"
	"github.com/resetd/resetd/internal/service"
	"github.com/resetd/resetd/internal/store/postgres"
	"github.com/resetd/resetd/internal/store/sqlite"
	"github.com/resetd/resetd/internal/wire"
	"github.com/resetd/resetd/internal/xdg"
	"github.com/resetd/resetd/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reset request daemon",
		Long: `Start the daemon: listen for framed protocol connections, serve
reset request commands against the configured store and account directory.`,
		RunE: runServe,
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := configFile
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, explicit, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("resetd", version, cfg.LogFormat, cfg.LogLevel)
	log := slog.Default()

	if cfg.DryRun {
		log.Warn("dry run enabled, no store mutation will be committed")
	}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn("error closing request store", "error", closeErr)
		}
	}()

	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}

	rate, err := memorystore.New(&memorystore.Config{
		Tokens:   cfg.Policy.AttemptsPerMinute,
		Interval: time.Minute,
	})
	if err != nil {
		return oops.Code("LIMITER_INIT_FAILED").Wrap(err)
	}
	defer closeLimiter(rate, log)

	scorer := pwcheck.NewScorer(pwcheck.EntropyQuality{
		MinEntropy: cfg.Quality.MinEntropy,
		MaxRepeat:  cfg.Quality.MaxRepeat,
	})

	svc := service.New(service.Deps{
		Store:     store,
		Directory: dir,
		Scorer:    scorer,
		Limiter:   rate,
		Logger:    log,
	}, service.Policy{
		MaxDurationHours:       cfg.Policy.MaxDurationHours,
		MinScore:               cfg.Policy.MinScore,
		InvalidCredentialDelay: cfg.Policy.InvalidCredentialDelay,
	})

	framer := wire.Framer{FrameSize: cfg.Wire.FrameSize, MaxFrames: cfg.Wire.MaxFrames}
	srv := server.New(cfg.Listen, svc, framer, log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start observability server if configured
	var obsServer *observability.Server
	if cfg.MetricsListen != "" {
		obsServer = observability.NewServer(cfg.MetricsListen, func() bool {
			return srv.Addr() != ""
		})
		server.RegisterMetrics(obsServer.Registry())

		obsErrChan, obsErr := obsServer.Start()
		if obsErr != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(obsErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	log.Info("starting daemon",
		"listen", cfg.Listen,
		"store_engine", cfg.Store.Engine,
		"dry_run", cfg.DryRun,
	)

	runErr := srv.Run(ctx)
	if runErr != nil {
		errutil.LogError(log, "daemon terminated abnormally", runErr)
	}

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
			log.Warn("error stopping observability server", "error", stopErr)
		}
	}

	log.Info("shutdown complete")
	return runErr
}

// openStore builds the configured request store backend.
func openStore(ctx context.Context, cfg config.Config) (request.Store, error) {
	switch cfg.Store.Engine {
	case config.EnginePostgres:
		store, err := postgres.Connect(ctx, cfg.Store.DSN, cfg.DryRun)
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("engine", cfg.Store.Engine).Wrap(err)
		}
		return store, nil
	case config.EngineSQLite:
		if err := xdg.EnsureDir(filepath.Dir(cfg.Store.Path)); err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("path", cfg.Store.Path).Wrap(err)
		}
		store, err := sqlite.Open(ctx, cfg.Store.Path, cfg.DryRun)
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("path", cfg.Store.Path).Wrap(err)
		}
		return store, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").Errorf("unknown store engine %q", cfg.Store.Engine)
	}
}

// seedAccount is one entry of the directory seed file.
type seedAccount struct {
	Name        string `koanf:"name"`
	Email       string `koanf:"email"`
	DisplayName string `koanf:"display_name"`
	Password    string `koanf:"password"`
}

// openDirectory builds the configured account directory.
func openDirectory(cfg config.Config) (directory.Directory, error) {
	if cfg.Directory.Backend != "memory" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("unknown directory backend %q", cfg.Directory.Backend)
	}

	dir := directory.NewMemory(nil)
	if cfg.Directory.Seed == "" {
		return dir, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(cfg.Directory.Seed), yaml.Parser()); err != nil {
		return nil, oops.Code("SEED_LOAD_FAILED").With("path", cfg.Directory.Seed).Wrap(err)
	}
	var accounts []seedAccount
	if err := k.Unmarshal("accounts", &accounts); err != nil {
		return nil, oops.Code("SEED_LOAD_FAILED").With("path", cfg.Directory.Seed).Wrap(err)
	}

	for _, acct := range accounts {
		err := dir.AddAccount(directory.Account{
			Name:        acct.Name,
			Email:       acct.Email,
			DisplayName: acct.DisplayName,
		}, []byte(acct.Password))
		if err != nil {
			return nil, oops.Code("SEED_LOAD_FAILED").With("account", acct.Name).Wrap(err)
		}
	}

	slog.Info("directory seeded", "accounts", len(accounts), "path", cfg.Directory.Seed)
	return dir, nil
}

func closeLimiter(rate limiter.Store, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rate.Close(ctx); err != nil {
		log.Warn("error closing rate limiter", "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
