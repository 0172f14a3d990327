package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/migrations"
	"github.com/memberhq/contentsync/internal/server"
	"github.com/memberhq/contentsync/internal/service"
)

func init() {
	var params struct {
		logFlags
		configFiles    []string
		persistenceDir string
		migrate        bool
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the content sync service",
		Long: `Run the content sync service. The service clones the configured
sources, schedules periodic full resyncs, and serves the webhook receiver
and management API over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), params.configFiles, params.persistenceDir, params.migrate, &params.logFlags)
		},
	}

	addStateFlags(cmd.Flags(), &params.configFiles, &params.persistenceDir)
	cmd.Flags().BoolVar(&params.migrate, "migrate", true, "run database migrations at startup")
	addLogFlags(cmd.Flags(), &params.logFlags)

	RootCommand.AddCommand(cmd)
}

func runService(ctx context.Context, configFiles []string, persistenceDir string, migrate bool, lf *logFlags) error {
	log := lf.logger()

	root, err := config.Parse(configFiles)
	if err != nil {
		return err
	}
	root.SetSQLitePersistentByDefault(persistenceDir)

	if err := os.MkdirAll(persistenceDir, 0755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := migrations.New().
		WithConfig(root.Database).
		WithLogger(log).
		WithMigrate(migrate).
		Run(ctx)
	if err != nil {
		return err
	}
	defer db.CloseDB()

	svc := service.New().
		WithConfig(root).
		WithDatabase(db).
		WithLogger(log.WithName("service")).
		WithDataDir(filepath.Join(persistenceDir, "sources"))
	if err := svc.Init(ctx); err != nil {
		return err
	}

	return server.New().
		WithConfig(root).
		WithService(svc).
		WithDatabase(db).
		WithLogger(log.WithName("server")).
		Init().
		ListenAndServe(ctx)
}
