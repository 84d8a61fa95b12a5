package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Database is the optional journal of motion events
type Database struct {
	DB *sql.DB
}

// New creates a new Database instance
func New(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{DB: db}, nil
}

// Init creates the required tables if they don't exist
func (d *Database) Init(ctx context.Context) error {
	createTables := `
	CREATE TABLE IF NOT EXISTS motion_events (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		detected_at TIMESTAMP NOT NULL,
		regions INTEGER NOT NULL,
		largest_area INTEGER NOT NULL,
		delivered BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := d.DB.ExecContext(ctx, createTables)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

func (d *Database) Name() string {
	return "postgres"
}
