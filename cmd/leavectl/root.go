package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store"
)

// app is opened once per invocation by the root command.
type app struct {
	companyID string
	envFile   string
	dbPath    string
	verbose   bool

	backend  store.Backend
	svc      *leave.Service
	closeAll func()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "leavectl",
		Short:         "Leave accrual and balance operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeAll != nil {
				a.closeAll()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&a.companyID, "company", "", "Company ID (required)")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with LEAVE_* settings")
	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides LEAVE_DATABASE_PATH)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level")
	_ = cmd.MarkPersistentFlagRequired("company")

	cmd.AddCommand(newPreviewCmd(a))
	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newBalancesCmd(a))
	cmd.AddCommand(newPolicyCmd(a))
	return cmd
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}

	level := cfg.SlogLevel()
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ctx := cmd.Context()
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	locker, closeLocker, err := store.Locker(ctx, cfg, logger)
	if err != nil {
		backend.Close()
		return err
	}

	opts := []leave.Option{leave.WithLogger(logger)}
	if locker != nil {
		opts = append(opts, leave.WithLocker(locker))
	}
	a.backend = backend
	a.svc = leave.NewService(backend, opts...)
	a.closeAll = func() {
		closeLocker()
		backend.Close()
	}
	return nil
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
