package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/sessionkeeper/internal/store"
)

// New opens a SQLite database at path (modernc.org/sqlite driver, CGO-free).
// Use ":memory:" for an in-memory database.
func New(path string) (*store.SQL, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and avoids SQLITE_BUSY between writers
	d.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout=3000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := d.Exec(pragma); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	return store.NewSQL(d, store.SQLite), nil
}
