// Package migrations creates and upgrades the database schema. Schema SQL is
// generated per dialect and fed to golang-migrate through an in-memory
// filesystem.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedatabase "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/yalue/merged_fs"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
	csync_fs "github.com/memberhq/contentsync/internal/fs"
	"github.com/memberhq/contentsync/internal/logging"
)

// addContentCoverImage is a later addition: cover images were originally
// stored inside the fields blob and got their own column so that listing
// pages can select them without decoding JSON.
func addContentCoverImage(dialect string) fs.FS {
	var stmt string
	switch dialect {
	case "sqlite", "postgresql":
		stmt = `ALTER TABLE content_items ADD cover_image_url TEXT;`
	case "mysql":
		stmt = `ALTER TABLE content_items ADD cover_image_url VARCHAR(1024)`
	}

	return csync_fs.MapFS(map[string]string{
		"006_add_content_cover_image.up.sql": stmt,
	})
}

// All returns the full migration set for a dialect.
func All(dialect string) fs.FS {
	return merged_fs.MergeMultiple(
		initialSchemaFS(dialect),
		addContentCoverImage(dialect),
	)
}

// Runner connects to the configured database and optionally brings the
// schema up to date.
type Runner struct {
	config  *config.Database
	log     *logging.Logger
	migrate bool
}

func New() *Runner {
	return &Runner{}
}

func (r *Runner) WithConfig(config *config.Database) *Runner {
	r.config = config
	return r
}

func (r *Runner) WithLogger(log *logging.Logger) *Runner {
	r.log = log
	return r
}

func (r *Runner) WithMigrate(migrate bool) *Runner {
	r.migrate = migrate
	return r
}

// Run opens the database and applies pending migrations. The returned
// Database is ready for use.
func (r *Runner) Run(ctx context.Context) (*database.Database, error) {
	db := (&database.Database{}).WithConfig(r.config).WithLogger(r.log)
	if err := db.InitDB(ctx); err != nil {
		return nil, err
	}

	if !r.migrate {
		return db, nil
	}

	dialect, err := db.Dialect()
	if err != nil {
		return nil, err
	}

	src, err := iofs.New(All(dialect), ".")
	if err != nil {
		return nil, err
	}

	var driver migratedatabase.Driver
	switch dialect {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(db.DB(), &migratesqlite.Config{})
	case "postgresql":
		driver, err = migratepgx.WithInstance(db.DB(), &migratepgx.Config{})
	case "mysql":
		driver, err = migratemysql.WithInstance(db.DB(), &migratemysql.Config{})
	default:
		return nil, fmt.Errorf("no migration driver for dialect %q", dialect)
	}
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, err
	}

	if r.log != nil {
		r.log.Debugf("database schema is up to date (%s)", dialect)
	}
	return db, nil
}
