package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/ascend/clock"
	"github.com/cppla/ascend/config"
	"github.com/cppla/ascend/ledger"
	"github.com/cppla/ascend/metrics"
	"github.com/cppla/ascend/reconcile"
	"github.com/cppla/ascend/routes"
	"github.com/cppla/ascend/store"
	"github.com/cppla/ascend/tracker"
	"github.com/cppla/ascend/utils"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ascend",
		Short: "Streak and progress backend",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				_ = os.Setenv("CONFIG_PATH", configPath)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (json, yaml or toml)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the local and remote tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate()
		},
	})

	var userID uint
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return syncOnce(cmd.Context(), userID)
		},
	}
	syncCmd.Flags().UintVar(&userID, "user", 0, "user id")
	_ = syncCmd.MarkFlagRequired("user")
	cmd.AddCommand(syncCmd)

	return cmd
}

// app holds the wired core shared by every command.
type app struct {
	cfg       config.AppConfig
	registry  *prometheus.Registry
	users     *store.Users
	engine    *reconcile.Engine
	tracker   *tracker.Tracker
	scheduler *reconcile.Scheduler
	online    bool
}

func boot() (*app, error) {
	cfg := config.Load()
	if err := utils.InitLogger(cfg); err != nil {
		return nil, err
	}

	localDB := config.InitLocalDatabase(store.LocalModels()...)
	users := store.NewUsers(localDB)
	local := store.NewGormLocal(localDB)

	var remote store.Remote = store.Offline{}
	online := false
	if db := config.InitRemoteDatabase(); db != nil {
		remote = store.NewGormRemote(db)
		online = true
	} else {
		utils.Logger.Warn("no remote configured, running offline")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	clk := clock.NewSystem(users.Location)
	locks := ledger.NewUserLocks()
	l := ledger.New(clk, utils.Component("ledger"))
	engine := reconcile.New(local, remote, l, clk, locks, reconcile.Options{
		RemoteTimeout:      cfg.SyncTimeout(),
		MaxRetries:         cfg.SyncMaxRetries,
		BackoffInitial:     cfg.SyncBackoffInitial(),
		BackoffMax:         cfg.SyncBackoffMax(),
		AutoBankProtection: cfg.AutoBankProtection,
		MaxClockSkew:       cfg.MaxClockSkew(),
		Recorder:           metrics.NewSync(registry),
	}, utils.Component("reconcile"))

	t := tracker.New(local, l, engine, locks, clk, utils.NewProjectionCache(utils.GetRedis()), tracker.Options{
		AtRiskCutoffHour: cfg.AtRiskCutoffHour,
		CacheTTL:         cfg.CacheTTL(),
		MoodWindowDays:   cfg.MoodWindowDays,
		Sanitize:         utils.SanitizeText,
	}, utils.Component("tracker"))

	return &app{
		cfg:       cfg,
		registry:  registry,
		users:     users,
		engine:    engine,
		tracker:   t,
		scheduler: reconcile.NewScheduler(engine, cfg.SyncInterval(), cfg.SyncIdleTTL(), utils.Component("scheduler")),
		online:    online,
	}, nil
}

func serve() error {
	a, err := boot()
	if err != nil {
		return err
	}
	defer func() { _ = utils.Logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if a.online {
		go a.scheduler.Run(ctx)
	}

	r := routes.SetupRouter(a.cfg, routes.Deps{
		Users:     a.users,
		Tracker:   a.tracker,
		Issuer:    utils.NewTokenIssuer(a.cfg.JWTSecret, a.cfg.TokenTTL()),
		Blacklist: utils.NewTokenBlacklist(utils.GetRedis()),
		Activity:  a.scheduler,
		Registry:  a.registry,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", a.cfg.AppPort)
	err = utils.GraceServer(":"+a.cfg.AppPort, r, func(context.Context) { cancel() })
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

func migrate() error {
	cfg := config.Load()
	if err := utils.InitLogger(cfg); err != nil {
		return err
	}
	config.InitLocalDatabase(store.LocalModels()...)
	utils.Logger.Info("local tables migrated", zap.String("path", cfg.LocalDBPath))

	db := config.InitRemoteDatabase()
	if db == nil {
		return nil
	}
	if err := migrateRemote(db); err != nil {
		return err
	}
	utils.Logger.Info("remote tables migrated", zap.String("dialect", cfg.RemoteDialect))
	return nil
}

func migrateRemote(db *gorm.DB) error {
	if err := db.AutoMigrate(store.RemoteModels()...); err != nil {
		return fmt.Errorf("remote migration failed: %w", err)
	}
	return nil
}

func syncOnce(ctx context.Context, userID uint) error {
	a, err := boot()
	if err != nil {
		return err
	}
	defer func() { _ = utils.Logger.Sync() }()

	st := a.tracker.TriggerSync(ctx, userID)
	utils.Logger.Info("sync finished",
		zap.Uint("user_id", userID),
		zap.String("state", string(st.State)),
		zap.Int("conflicts", len(st.Conflicts)),
		zap.Bool("clock_skew", st.ClockSkew))
	if st.Err != nil {
		return st.Err
	}
	return nil
}
