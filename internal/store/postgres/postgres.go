package postgres

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/sessionkeeper/internal/store"
)

// New opens a PostgreSQL database through the pgx stdlib driver. No
// connection is made until the first query.
func New(dsn string) (*store.SQL, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty PostgreSQL DSN")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(10)
	d.SetConnMaxIdleTime(5 * time.Minute)
	return store.NewSQL(d, store.Postgres), nil
}
