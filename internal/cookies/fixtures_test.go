package cookies

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

type row struct {
	Name     string
	Value    string
	Host     string
	Path     string
	Expiry   int64
	Secure   int
	HTTPOnly int
}

func createDB(t *testing.T, path, schema, insert string, rows []row) string {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for _, r := range rows {
		if _, err := db.Exec(insert, r.Name, r.Value, r.Host, r.Path, r.Expiry, r.Secure, r.HTTPOnly); err != nil {
			t.Fatalf("insert %s: %v", r.Name, err)
		}
	}
	return path
}

func createFirefoxDB(t *testing.T, dir string, rows []row) string {
	return createDB(t, filepath.Join(dir, "cookies.sqlite"), `CREATE TABLE moz_cookies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		host TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '/',
		expiry INTEGER NOT NULL DEFAULT 0,
		isSecure INTEGER NOT NULL DEFAULT 0,
		isHttpOnly INTEGER NOT NULL DEFAULT 0
	)`, `INSERT INTO moz_cookies (name, value, host, path, expiry, isSecure, isHttpOnly) VALUES (?, ?, ?, ?, ?, ?, ?)`, rows)
}

// Expiry values in rows are chrome timestamps.
func createChromeDB(t *testing.T, dir string, rows []row) string {
	return createDB(t, filepath.Join(dir, "Cookies"), `CREATE TABLE cookies (
		creation_utc INTEGER NOT NULL DEFAULT 0,
		host_key TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		encrypted_value BLOB DEFAULT '',
		path TEXT NOT NULL DEFAULT '/',
		expires_utc INTEGER NOT NULL DEFAULT 0,
		is_secure INTEGER NOT NULL DEFAULT 0,
		is_httponly INTEGER NOT NULL DEFAULT 0
	)`, `INSERT INTO cookies (name, value, host_key, path, expires_utc, is_secure, is_httponly) VALUES (?, ?, ?, ?, ?, ?, ?)`, rows)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}
