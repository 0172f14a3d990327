package database

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib" // database/sql compatible driver for pgx
	_ "modernc.org/sqlite"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/logging"
)

const (
	sqlite = iota
	postgres
	mysql
)

const SQLiteMemoryOnlyDSN = "file::memory:?cache=shared"

// Database implements the database operations. It hides any differences
// between the supported SQL databases from the rest of the codebase.
type Database struct {
	db     *sql.DB
	config *config.Database
	kind   int
	log    *logging.Logger
}

func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) Dialect() (string, error) {
	switch d.kind {
	case sqlite:
		return "sqlite", nil
	case postgres:
		return "postgresql", nil
	case mysql:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unknown kind: %d", d.kind)
	}
}

func (d *Database) WithConfig(config *config.Database) *Database {
	d.config = config
	return d
}

func (d *Database) WithLogger(log *logging.Logger) *Database {
	d.log = log
	return d
}

func (d *Database) InitDB(ctx context.Context) error {
	var err error
	switch {
	case d.config == nil || d.config.SQL == nil:
		// Default to memory-only SQLite if no config is provided.
		fallthrough
	case d.config.SQL.Driver == "" || d.config.SQL.Driver == "sqlite3" || d.config.SQL.Driver == "sqlite":
		dsn := SQLiteMemoryOnlyDSN
		if d.config != nil && d.config.SQL != nil && d.config.SQL.DSN != "" {
			dsn = os.ExpandEnv(d.config.SQL.DSN)
		}
		d.kind = sqlite
		d.db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return err
		}
		if _, err := d.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return err
		}

	case d.config.SQL.Driver == "postgres" || d.config.SQL.Driver == "pgx":
		dsn := os.ExpandEnv(d.config.SQL.DSN)
		d.kind = postgres
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return err
		}
		d.db = sql.OpenDB(stdlib.GetConnector(*cfg))

	case d.config.SQL.Driver == "mysql":
		dsn := os.ExpandEnv(d.config.SQL.DSN)
		d.kind = mysql
		cfg, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return err
		}
		cfg.ParseTime = true
		conn, err := mysqldriver.NewConnector(cfg)
		if err != nil {
			return err
		}
		d.db = sql.OpenDB(conn)

	default:
		return errors.New("unsupported database connection type")
	}

	return nil
}

func (d *Database) CloseDB() {
	if d.db != nil {
		_ = d.db.Close()
	}
}

type ListOptions struct {
	Limit  int
	Cursor string
}

func (opts ListOptions) cursor() int64 {
	if opts.Cursor != "" {
		decoded, err := base64.URLEncoding.DecodeString(opts.Cursor)
		if err == nil {
			after, _ := strconv.ParseInt(string(decoded), 10, 64)
			return after
		}
	}
	return 0
}

func encodeCursor(id int64) string {
	cursor := strconv.FormatInt(id, 10)
	return base64.URLEncoding.EncodeToString([]byte(cursor))
}

func (d *Database) upsert(ctx context.Context, tx *sql.Tx, table string, columns []string, primaryKey []string, values ...any) error {
	var query string
	switch d.kind {
	case sqlite:
		query = fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`, table, strings.Join(columns, ", "),
			strings.Join(d.args(len(columns)), ", "))

	case postgres:
		set := make([]string, 0, len(columns))
		for i := range columns {
			if !slices.Contains(primaryKey, columns[i]) { // do not update primary key columns
				set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", columns[i], columns[i]))
			}
		}

		values := d.args(len(columns))

		if len(set) == 0 {
			query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING`, table, strings.Join(columns, ", "),
				strings.Join(values, ", "),
				strings.Join(primaryKey, ", "))
		} else {
			query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`, table, strings.Join(columns, ", "),
				strings.Join(values, ", "),
				strings.Join(primaryKey, ", "),
				strings.Join(set, ", "))
		}

	case mysql:
		set := make([]string, 0, len(columns))
		for i := range columns {
			set = append(set, fmt.Sprintf("%s = VALUES(%s)", columns[i], columns[i]))
		}

		values := d.args(len(columns))

		query = fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s`, table, strings.Join(columns, ", "),
			strings.Join(values, ", "),
			strings.Join(set, ", "))
	}

	_, err := tx.ExecContext(ctx, query, values...)
	return err
}

func (d *Database) arg(i int) string {
	if d.kind == postgres {
		return "$" + strconv.Itoa(i+1)
	}
	return "?"
}

func (d *Database) args(n int) []string {
	args := make([]string, n)
	for i := range n {
		args[i] = d.arg(i)
	}

	return args
}

// flavor returns the sqlbuilder flavor matching the connected database.
func (d *Database) flavor() sqlbuilder.Flavor {
	switch d.kind {
	case postgres:
		return sqlbuilder.PostgreSQL
	case mysql:
		return sqlbuilder.MySQL
	default:
		return sqlbuilder.SQLite
	}
}

func tx1(ctx context.Context, db *Database, f func(*sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := f(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func tx2[T any](ctx context.Context, db *Database, f func(*sql.Tx) (T, error)) (T, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		var t T
		return t, err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	result, err := f(tx)
	if err != nil {
		var t T
		return t, err
	}

	if err := tx.Commit(); err != nil {
		var t T
		return t, err
	}

	return result, nil
}
