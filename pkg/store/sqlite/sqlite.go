// Package sqlite provides a SQLite-backed Conversation Store driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/omnichat/relay/pkg/store/sqldb"
)

// Driver implements store.Driver using SQLite.
type Driver struct {
	*sqldb.SQLDriver
}

// NewDriver creates a new SQLite-backed store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewDriver(dbPath string) (*Driver, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite-specific pragmas
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	driver := &Driver{
		SQLDriver: &sqldb.SQLDriver{DB: db, Dialect: sqldb.DialectSQLite},
	}

	if err := driver.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return driver, nil
}
