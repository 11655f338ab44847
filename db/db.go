package db

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to driver/dsn. SQLite handles are limited to a single
// connection: it does not support concurrent writers and every ":memory:"
// connection would otherwise see its own empty database.
func Open(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

const dashboardSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	username TEXT NOT NULL,
	role TEXT NOT NULL,
	action TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	details TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);

CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit_log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit_log is append-only');
END;
`

// OpenDashboard opens the dashboard's own SQLite store and creates its
// tables.
func OpenDashboard(path string) (*sqlx.DB, error) {
	db, err := Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(dashboardSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dashboard tables: %w", err)
	}
	return db, nil
}

// platformSchema mirrors the tables of the platform database that the
// admin services touch. Production runs against the platform's MySQL
// database; this schema backs development and tests on SQLite.
const platformSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT,
	email TEXT,
	phone TEXT,
	created_at DATETIME,
	last_active DATETIME
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER,
	chat_id INTEGER,
	content TEXT,
	timestamp INTEGER,
	is_deleted BOOLEAN DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ind_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	timestamp INTEGER,
	sender_id INTEGER,
	ind_chat_id INTEGER NOT NULL,
	action_type TEXT,
	action_text TEXT,
	action_data TEXT
);

CREATE TABLE IF NOT EXISTS reported_users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reporter_id INTEGER,
	reported_id INTEGER
);

CREATE TABLE IF NOT EXISTS chat_meta (
	id INTEGER PRIMARY KEY,
	activity_name TEXT
);

CREATE TABLE IF NOT EXISTS feedback (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER,
	feedback TEXT,
	rating INTEGER,
	created_at DATETIME
);

CREATE TABLE IF NOT EXISTS deleted_users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER,
	name TEXT,
	email TEXT,
	phone TEXT,
	reason TEXT
);
`

func CreatePlatformSchema(db *sqlx.DB) error {
	if _, err := db.Exec(platformSchema); err != nil {
		return fmt.Errorf("create platform tables: %w", err)
	}
	return nil
}
