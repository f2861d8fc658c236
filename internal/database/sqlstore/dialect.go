package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	// Name selects the migrations directory and is the config value.
	Name string
	// Driver is the database/sql driver name.
	Driver string

	migrationsTable string
	dollarParams    bool
}

const (
	postgresMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT NOW()
	)`
	mysqlMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	sqliteMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
)

// Supported dialects.
var (
	Postgres = Dialect{Name: "postgres", Driver: "postgres", migrationsTable: postgresMigrationsTable, dollarParams: true}
	MySQL    = Dialect{Name: "mysql", Driver: "mysql", migrationsTable: mysqlMigrationsTable}
	SQLite   = Dialect{Name: "sqlite", Driver: "sqlite", migrationsTable: sqliteMigrationsTable}
)

// DialectFor returns the dialect for a config driver name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// rebind rewrites '?' placeholders to $1..$n for postgres.
func (d Dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIdentity returns an INSERT that silently skips an existing name, so
// the caller can detect the conflict from RowsAffected.
func (d Dialect) insertIdentity() string {
	if d.Name == MySQL.Name {
		return "INSERT IGNORE INTO identities (name, image, created_at) VALUES (?, ?, ?)"
	}
	return d.rebind("INSERT INTO identities (name, image, created_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING")
}
