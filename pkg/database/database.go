package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/alimgiray/openwiden/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var DB *sql.DB

// Init initializes the global SQLite database connection
func Init(path string) error {
	db, err := Open(path)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open opens (and creates if needed) the SQLite database at path and applies the schema
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_busy_timeout=30000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	// Test the connection
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err = optimizeDatabase(db); err != nil {
		db.Close()
		return nil, err
	}

	if err = RunSQLScripts(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", path).Info("Database connected successfully with WAL mode")
	return db, nil
}

// optimizeDatabase configures SQLite for concurrent access
func optimizeDatabase(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the global database connection
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// RunSQLScripts executes the embedded SQL scripts in file name order
func RunSQLScripts(db *sql.DB) error {
	files, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	for _, file := range files {
		if path.Ext(file.Name()) != ".sql" {
			continue
		}
		sqlContent, err := migrations.ReadFile(path.Join("migrations", file.Name()))
		if err != nil {
			return err
		}

		if _, err = db.Exec(string(sqlContent)); err != nil {
			return fmt.Errorf("executing %s: %w", file.Name(), err)
		}

		logger.Debugf("Executed SQL script: %s", file.Name())
	}

	return nil
}
