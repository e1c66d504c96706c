package database

import (
	"database/sql"

	_ "modernc.org/sqlite" // SQLite driver
)

// Memory is the data source name for a private in-memory database.
const Memory = ":memory:"

// New creates a new database connection pool.
func New(dataSourceName string) (*sql.DB, error) {
	dsn := dataSourceName + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	inMemory := dataSourceName == Memory
	if !inMemory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if inMemory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs the SQL statements to set up the database schema.
func Migrate(db *sql.DB) error {
	const sqlStmt = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	-- only the SHA-256 of a token is stored
	CREATE TABLE IF NOT EXISTS tokens (
		token_hash TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		issued_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_user ON tokens(user_id);

	CREATE TABLE IF NOT EXISTS leads (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		owner_id TEXT REFERENCES users(id) ON DELETE RESTRICT -- NULL: unowned public submission
	);
	CREATE INDEX IF NOT EXISTS idx_leads_owner_created ON leads(owner_id, created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		owner_id TEXT,
		lead_id TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_owner_created ON events(owner_id, created_at DESC);
	`
	_, err := db.Exec(sqlStmt)
	return err
}
