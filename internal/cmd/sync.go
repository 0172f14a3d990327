package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
	"github.com/memberhq/contentsync/internal/migrations"
	"github.com/memberhq/contentsync/internal/s3"
	"github.com/memberhq/contentsync/internal/service"
)

func init() {
	var params struct {
		logFlags
		configFiles    []string
		persistenceDir string
	}

	cmd := &cobra.Command{
		Use:   "sync [source ...]",
		Short: "Run a one-shot full sync and exit",
		Long: `Run a full sync for the named sources, or for every configured
source when none are given. The command exits non-zero if any run did not
succeed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return syncOnce(cmd.Context(), params.configFiles, params.persistenceDir, args, &params.logFlags)
		},
	}

	addStateFlags(cmd.Flags(), &params.configFiles, &params.persistenceDir)
	addLogFlags(cmd.Flags(), &params.logFlags)

	RootCommand.AddCommand(cmd)
}

func syncOnce(ctx context.Context, configFiles []string, persistenceDir string, names []string, lf *logFlags) error {
	log := lf.logger()

	root, err := config.Parse(configFiles)
	if err != nil {
		return err
	}
	root.SetSQLitePersistentByDefault(persistenceDir)

	if err := os.MkdirAll(persistenceDir, 0755); err != nil {
		return err
	}

	db, err := migrations.New().
		WithConfig(root.Database).
		WithLogger(log).
		WithMigrate(true).
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

	if root.Storage != nil {
		storage, err := s3.New(ctx, *root.Storage)
		if err != nil {
			return err
		}
		svc = svc.WithStorage(storage)
	}

	for _, src := range root.Sources {
		if err := db.UpsertSource(ctx, src); err != nil {
			return err
		}
	}

	if len(names) == 0 {
		for _, src := range root.SortedSources() {
			names = append(names, src.Name)
		}
	}

	var failed bool
	for _, name := range names {
		run, err := svc.Trigger(ctx, name, service.TriggerOptions{})
		if err != nil {
			return err
		}
		log.Infof("source %q: %s (created %d, updated %d, deleted %d, errors %d)",
			name, run.Status, run.ItemsCreated, run.ItemsUpdated, run.ItemsDeleted, len(run.Errors))
		if run.Status != database.RunStatusSuccess {
			failed = true
		}
	}

	if failed {
		return errors.New("one or more sync runs did not succeed")
	}
	return nil
}

func init() {
	cmd := &cobra.Command{
		Use:   "validate [file ...]",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			merged, err := config.Merge(args, true)
			if err != nil {
				return err
			}
			if err := config.Validate(merged); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	RootCommand.AddCommand(cmd)
}
