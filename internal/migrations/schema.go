package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	csync_fs "github.com/memberhq/contentsync/internal/fs"
)

const (
	sqlite = iota
	postgres
	mysql
)

func dialectKind(dialect string) int {
	switch dialect {
	case "postgresql":
		return postgres
	case "mysql":
		return mysql
	default:
		return sqlite
	}
}

// schema holds the initial set of database tables.
var schema = []*sqlTable{
	createSQLTable("sources").
		VarCharPrimaryKeyColumn("name").
		VarCharNonNullColumn("repo").
		VarCharNonNullColumn("family").
		BoolNonNullColumn("private").
		TimestampColumn("last_synced_at").
		VarCharColumn("last_sync_status").
		TextColumn("last_sync_summary"),

	createSQLTable("sync_runs").
		IntegerPrimaryKeyAutoincrementColumn("id").
		VarCharNonNullUniqueColumn("uuid").
		VarCharNonNullColumn("source_name").
		BoolNonNullColumn("partial").
		VarCharColumn("commit_sha").
		TimestampNonNullColumn("started_at").
		TimestampColumn("finished_at").
		VarCharNonNullColumn("status").
		IntegerNonNullColumn("items_created").
		IntegerNonNullColumn("items_updated").
		IntegerNonNullColumn("items_deleted"),

	createSQLTable("sync_run_errors").
		IntegerPrimaryKeyAutoincrementColumn("id").
		VarCharNonNullColumn("run_uuid").
		IntegerNonNullColumn("seq").
		TextNonNullColumn("path").
		TextNonNullColumn("message").
		ForeignKeyOnDeleteCascade("run_uuid", "sync_runs(uuid)"),

	createSQLTable("content_items").
		IntegerPrimaryKeyAutoincrementColumn("id").
		VarCharNonNullColumn("family").
		VarCharNonNullColumn("slug").
		TextNonNullColumn("title").
		TextColumn("body").
		IntegerNonNullColumn("required_level").
		TextColumn("tags").
		TextColumn("fields").
		BoolNonNullColumn("published").
		TimestampColumn("deleted_at").
		VarCharColumn("source_repo").
		VarCharColumn("source_path").
		VarCharColumn("source_commit").
		VarCharColumn("content_hash").
		TimestampNonNullColumn("created_at").
		TimestampNonNullColumn("updated_at").
		Unique("family", "slug"),

	createSQLTable("assets").
		IntegerPrimaryKeyAutoincrementColumn("id").
		VarCharNonNullColumn("source_repo").
		VarCharNonNullColumn("relative_path").
		VarCharNonNullColumn("content_hash").
		TextNonNullColumn("url").
		TimestampNonNullColumn("uploaded_at").
		Unique("source_repo", "relative_path", "content_hash"),
}

func initialSchemaFS(dialect string) fs.FS {
	kind := dialectKind(dialect)
	m := make(map[string]string, len(schema))
	for i, tbl := range schema {
		m[fmt.Sprintf("%03d_%s.up.sql", i+1, tbl.name)] = tbl.SQL(kind)
	}
	return csync_fs.MapFS(m)
}

type sqlColumn struct {
	Name                    string
	Type                    sqlType
	NotNull                 bool
	Unique                  bool
	PrimaryKey              bool
	AutoIncrementPrimaryKey bool
	Default                 string
}

type sqlType interface {
	SQL(kind int) string
}

type (
	sqlInteger   struct{}
	sqlText      struct{}
	sqlVarChar   struct{}
	sqlBool      struct{}
	sqlTimestamp struct{}
)

func (sqlInteger) SQL(kind int) string {
	if kind == mysql {
		return "BIGINT"
	}
	return "INTEGER"
}

func (sqlText) SQL(_ int) string {
	return "TEXT"
}

func (sqlVarChar) SQL(kind int) string {
	if kind == sqlite {
		return "TEXT"
	}
	return "VARCHAR(255)"
}

func (sqlBool) SQL(kind int) string {
	if kind == sqlite {
		return "INTEGER"
	}
	return "BOOLEAN"
}

func (sqlTimestamp) SQL(kind int) string {
	if kind == mysql {
		return "DATETIME(6)"
	}
	return "TIMESTAMP"
}

func (c sqlColumn) SQL(kind int) string {
	parts := []string{c.Name, c.Type.SQL(kind)}

	if c.AutoIncrementPrimaryKey {
		switch kind {
		case postgres:
			parts[1] = "BIGSERIAL"
		case mysql:
			parts = append(parts, "AUTO_INCREMENT")
		case sqlite:
			// INTEGER PRIMARY KEY is an alias for the rowid; the PRIMARY KEY
			// constraint is emitted by the table builder.
		}
	}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}

	return strings.Join(parts, " ")
}

type sqlForeignKey struct {
	Column          string
	References      string
	OnDeleteCascade bool
}

type sqlConstraint struct {
	Columns []string
}

type sqlTable struct {
	name        string
	columns     []sqlColumn
	foreignKeys []sqlForeignKey
	unique      []sqlConstraint
	iteration   string // prefix for constraint names
}

func createSQLTable(name string) *sqlTable {
	return &sqlTable{
		name:      name,
		iteration: "csync_v1",
	}
}

func (t *sqlTable) IntegerPrimaryKeyAutoincrementColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlInteger{}, AutoIncrementPrimaryKey: true})
	return t
}

func (t *sqlTable) IntegerNonNullColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlInteger{}, NotNull: true})
	return t
}

func (t *sqlTable) VarCharPrimaryKeyColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlVarChar{}, PrimaryKey: true})
	return t
}

func (t *sqlTable) VarCharColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlVarChar{}})
	return t
}

func (t *sqlTable) VarCharNonNullColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlVarChar{}, NotNull: true})
	return t
}

func (t *sqlTable) VarCharNonNullUniqueColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlVarChar{}, NotNull: true, Unique: true})
	return t
}

func (t *sqlTable) TextColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlText{}})
	return t
}

func (t *sqlTable) TextNonNullColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlText{}, NotNull: true})
	return t
}

func (t *sqlTable) BoolNonNullColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlBool{}, NotNull: true})
	return t
}

func (t *sqlTable) TimestampColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlTimestamp{}})
	return t
}

func (t *sqlTable) TimestampNonNullColumn(name string) *sqlTable {
	t.columns = append(t.columns, sqlColumn{Name: name, Type: sqlTimestamp{}, NotNull: true})
	return t
}

func (t *sqlTable) Unique(columns ...string) *sqlTable {
	t.unique = append(t.unique, sqlConstraint{Columns: columns})
	return t
}

func (t *sqlTable) ForeignKeyOnDeleteCascade(column string, references string) *sqlTable {
	t.foreignKeys = append(t.foreignKeys, sqlForeignKey{
		Column:          column,
		References:      references,
		OnDeleteCascade: true,
	})
	return t
}

func (t *sqlTable) SQL(kind int) string {
	c := make([]string, len(t.columns))
	for i := range t.columns {
		c[i] = t.columns[i].SQL(kind)
	}

	// All constraints have names we control. That makes them easier to work
	// with in future migrations: you can remove them during a migration, for
	// example. If we don't name them here, MySQL/Postgres/SQLite will pick
	// names for us and they're unlikely to match across all three.

	for i := range t.columns {
		if t.columns[i].AutoIncrementPrimaryKey || t.columns[i].PrimaryKey {
			c = append(c, fmt.Sprintf("CONSTRAINT %[1]s_%[2]s_%[3]s_pkey PRIMARY KEY (%[3]s)", t.iteration, t.name, t.columns[i].Name))
		}
		if t.columns[i].Unique {
			c = append(c, fmt.Sprintf("CONSTRAINT %[1]s_%[2]s_%[3]s_unique UNIQUE (%[3]s)", t.iteration, t.name, t.columns[i].Name))
		}
	}

	for _, fk := range t.foreignKeys {
		// refs look like "table(col)"
		open, closed := strings.Index(fk.References, "("), len(fk.References)-1
		fTbl, fCol := fk.References[:open], fk.References[open+1:closed]
		f := fmt.Sprintf("CONSTRAINT %s_%s_%s_%s_%s_fkey FOREIGN KEY (%s) REFERENCES %s",
			t.iteration,
			t.name, fk.Column, fTbl, fCol,
			fk.Column,
			fk.References,
		)
		if fk.OnDeleteCascade {
			f += " ON DELETE CASCADE"
		}
		c = append(c, f)
	}
	for _, constraint := range t.unique {
		c = append(c, fmt.Sprintf("CONSTRAINT %s_%s_%s_unique UNIQUE (%s)",
			t.iteration,
			t.name,
			strings.Join(constraint.Columns, "_"),
			strings.Join(constraint.Columns, ", ")))
	}
	return `CREATE TABLE IF NOT EXISTS ` + t.name + ` (` + strings.Join(c, ", ") + `);`
}
