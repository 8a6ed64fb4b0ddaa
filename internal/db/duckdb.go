// Package db holds the DuckDB connection and the marker record store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	DataDir string // empty opens an in-memory database
	DBName  string
}

// Get returns the singleton DuckDB connection.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Open opens a DuckDB database outside the singleton.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.DataDir == "" {
		return sql.Open("duckdb", "")
	}

	// Create duckdb subdirectory
	duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
	if err := os.MkdirAll(duckdbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
	}
	name := cfg.DBName
	if name == "" {
		name = "mapwidget"
	}
	conn, err := sql.Open("duckdb", filepath.Join(duckdbDir, name+".duckdb"))
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return conn, nil
}

// Close closes the singleton connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}
