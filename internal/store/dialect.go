package store

import (
	"strconv"
	"strings"
)

// Dialect captures what differs between the SQL backends.
type Dialect struct {
	Name string
	// Schema statements executed in order by EnsureSchema.
	Schema []string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
}

// Rebind rewrites '?' placeholders for numbered dialects.
func (d Dialect) Rebind(q string) string {
	if !d.Numbered || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
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

// SQLite schema; timestamps are stored as text by the driver.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS browser_instances(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			name TEXT NULL,
			description TEXT NULL,
			group_name TEXT NULL,
			tags TEXT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			last_opened_at TIMESTAMP NULL,
			last_closed_at TIMESTAMP NULL,
			total_open_count INTEGER NOT NULL DEFAULT 0,
			total_runtime_minutes INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS browser_sessions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id INTEGER NOT NULL REFERENCES browser_instances(id) ON DELETE CASCADE,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP NOT NULL,
			runtime_minutes INTEGER NOT NULL,
			cookies_count INTEGER NOT NULL,
			session_type TEXT NOT NULL DEFAULT 'manual'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_browser_instances_closed ON browser_instances(is_active, last_closed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_browser_sessions_instance ON browser_sessions(instance_id);`,
	},
}

// Postgres schema for the pgx stdlib driver.
var Postgres = Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS browser_instances(
			id BIGSERIAL PRIMARY KEY,
			url TEXT NOT NULL,
			name TEXT NULL,
			description TEXT NULL,
			group_name TEXT NULL,
			tags TEXT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			last_opened_at TIMESTAMPTZ NULL,
			last_closed_at TIMESTAMPTZ NULL,
			total_open_count INTEGER NOT NULL DEFAULT 0,
			total_runtime_minutes INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS browser_sessions(
			id BIGSERIAL PRIMARY KEY,
			instance_id BIGINT NOT NULL REFERENCES browser_instances(id) ON DELETE CASCADE,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			runtime_minutes INTEGER NOT NULL,
			cookies_count INTEGER NOT NULL,
			session_type TEXT NOT NULL DEFAULT 'manual'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_browser_instances_closed ON browser_instances(is_active, last_closed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_browser_sessions_instance ON browser_sessions(instance_id);`,
	},
}
