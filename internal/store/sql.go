package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SQL implements Repository over database/sql for any Dialect.
type SQL struct {
	db *sql.DB
	d  Dialect
}

// NewSQL wraps an opened database handle.
func NewSQL(db *sql.DB, d Dialect) *SQL { return &SQL{db: db, d: d} }

// DB exposes the underlying handle for tests and maintenance tooling.
func (s *SQL) DB() *sql.DB { return s.db }

// Dialect returns the backend name, e.g. "sqlite".
func (s *SQL) Dialect() string { return s.d.Name }

func (s *SQL) q(query string) string { return s.d.Rebind(query) }

func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.Name, err)
		}
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }

const instanceColumns = `i.id, i.url, i.name, i.description, i.group_name, i.tags, i.priority,
	i.created_at, i.last_opened_at, i.last_closed_at, i.total_open_count,
	i.total_runtime_minutes, i.is_active`

func (s *SQL) CreateInstance(ctx context.Context, url string, meta Metadata, now time.Time) (int64, error) {
	prio := meta.Priority
	if prio <= 0 {
		prio = 1
	}
	now = now.UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO browser_instances(url, name, description, group_name, tags, priority,
			created_at, last_opened_at, total_open_count, total_runtime_minutes, is_active)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?)
		RETURNING id;`),
		url, nullString(meta.Name), nullString(meta.Description), nullString(meta.GroupName),
		nullString(meta.Tags), prio, now, now, true).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQL) GetInstance(ctx context.Context, id int64) (Instance, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+instanceColumns+`
		FROM browser_instances i
		WHERE i.id = ?;`), id)
	in, err := scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return in, err
}

func (s *SQL) ListInstances(ctx context.Context) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+instanceColumns+`,
			(SELECT COUNT(*) FROM browser_sessions bs WHERE bs.instance_id = i.id) AS session_count,
			(SELECT MAX(bs.closed_at) FROM browser_sessions bs WHERE bs.instance_id = i.id) AS last_session_end
		FROM browser_instances i
		ORDER BY CASE WHEN i.last_closed_at IS NULL THEN 1 ELSE 0 END, i.last_closed_at ASC, i.id ASC;`))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Instance, 0)
	for rows.Next() {
		var count int64
		var lastEnd nullTime
		in, err := scanInstance(rows.Scan, &count, &lastEnd)
		if err != nil {
			return nil, err
		}
		in.SessionCount = int(count)
		in.LastSessionEnd = lastEnd.ptr()
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *SQL) UpdateInstance(ctx context.Context, id int64, p InstancePatch) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE browser_instances
		SET name = COALESCE(?, name),
			description = COALESCE(?, description),
			group_name = COALESCE(?, group_name),
			tags = COALESCE(?, tags),
			priority = COALESCE(?, priority)
		WHERE id = ?;`),
		p.Name, p.Description, p.GroupName, p.Tags, p.Priority, id)
	return s.expectOne(res, err, id)
}

func (s *SQL) UpdateInstanceURL(ctx context.Context, id int64, url string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE browser_instances SET url = ? WHERE id = ?;`), url, id)
	return s.expectOne(res, err, id)
}

func (s *SQL) MarkOpened(ctx context.Context, id int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE browser_instances
		SET last_opened_at = ?, total_open_count = total_open_count + 1, is_active = ?
		WHERE id = ?;`), now.UTC(), true, id)
	return s.expectOne(res, err, id)
}

func (s *SQL) SetInactive(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE browser_instances SET is_active = ? WHERE id = ?;`), false, id)
	return s.expectOne(res, err, id)
}

func (s *SQL) RecordSession(ctx context.Context, rec SessionRecord) (int64, error) {
	if rec.SessionType == "" {
		rec.SessionType = SessionManual
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE browser_instances
		SET last_closed_at = ?, total_runtime_minutes = total_runtime_minutes + ?, is_active = ?
		WHERE id = ?;`), rec.ClosedAt.UTC(), rec.RuntimeMinutes, false, rec.InstanceID)
	if err := s.expectOne(res, err, rec.InstanceID); err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.q(`
		INSERT INTO browser_sessions(instance_id, opened_at, closed_at, runtime_minutes, cookies_count, session_type)
		VALUES(?, ?, ?, ?, ?, ?)
		RETURNING id;`),
		rec.InstanceID, rec.OpenedAt.UTC(), rec.ClosedAt.UTC(), rec.RuntimeMinutes, rec.CookiesCount, rec.SessionType).Scan(&id)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQL) ListSessions(ctx context.Context, instanceID int64, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, instance_id, opened_at, closed_at, runtime_minutes, cookies_count, session_type
		FROM browser_sessions
		WHERE instance_id = ?
		ORDER BY closed_at DESC, id DESC
		LIMIT ?;`), instanceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]SessionRecord, 0)
	for rows.Next() {
		var r SessionRecord
		var opened, closed nullTime
		if err := rows.Scan(&r.ID, &r.InstanceID, &opened, &closed, &r.RuntimeMinutes, &r.CookiesCount, &r.SessionType); err != nil {
			return nil, err
		}
		r.OpenedAt, r.ClosedAt = opened.Time, closed.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQL) ListClosedForRotation(ctx context.Context, limit int) ([]Instance, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryInstances(ctx, `
		SELECT `+instanceColumns+`
		FROM browser_instances i
		WHERE i.last_closed_at IS NOT NULL AND i.is_active = ?
		ORDER BY i.last_closed_at ASC, i.id ASC
		LIMIT ?;`, false, limit)
}

func (s *SQL) ListActive(ctx context.Context) ([]Instance, error) {
	return s.queryInstances(ctx, `
		SELECT `+instanceColumns+`
		FROM browser_instances i
		WHERE i.is_active = ?
		ORDER BY i.id ASC;`, true)
}

func (s *SQL) DeleteInstance(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM browser_sessions WHERE instance_id = ?;`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM browser_instances WHERE id = ?;`), id)
	if err := s.expectOne(res, err, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) Statistics(ctx context.Context) (Statistics, error) {
	var total, active, sessions, runtime, groups int64
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT
			COUNT(*),
			COUNT(CASE WHEN is_active = ? THEN 1 END),
			COALESCE(SUM(total_open_count), 0),
			COALESCE(SUM(total_runtime_minutes), 0),
			COUNT(DISTINCT group_name)
		FROM browser_instances;`), true).Scan(&total, &active, &sessions, &runtime, &groups)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		TotalInstances:      int(total),
		ActiveInstances:     int(active),
		TotalSessions:       int(sessions),
		TotalRuntimeMinutes: int(runtime),
		TotalGroups:         int(groups),
	}, nil
}

// GroupSummaries returns groups with the most recent activity first;
// groups that never closed an instance come last.
func (s *SQL) GroupSummaries(ctx context.Context) ([]GroupSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT group_name, COUNT(*), COALESCE(SUM(total_runtime_minutes), 0), MAX(last_closed_at)
		FROM browser_instances
		WHERE group_name IS NOT NULL
		GROUP BY group_name;`))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]GroupSummary, 0)
	for rows.Next() {
		var g GroupSummary
		var count, runtime int64
		var last nullTime
		if err := rows.Scan(&g.GroupName, &count, &runtime, &last); err != nil {
			return nil, err
		}
		g.InstanceCount, g.TotalRuntimeMinutes, g.LastActivity = int(count), int(runtime), last.ptr()
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastActivity, out[j].LastActivity
		switch {
		case a == nil && b == nil:
			return out[i].GroupName < out[j].GroupName
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return out[i].GroupName < out[j].GroupName
		default:
			return a.After(*b)
		}
	})
	return out, nil
}

func (s *SQL) queryInstances(ctx context.Context, query string, args ...any) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]Instance, 0)
	for rows.Next() {
		in, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *SQL) expectOne(res sql.Result, err error, id int64) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func scanInstance(scan func(dest ...any) error, extra ...any) (Instance, error) {
	var in Instance
	var name, desc, group, tags sql.NullString
	var created, opened, closed nullTime
	dest := []any{&in.ID, &in.URL, &name, &desc, &group, &tags, &in.Priority,
		&created, &opened, &closed, &in.TotalOpenCount, &in.TotalRuntimeMinutes, &in.Active}
	if err := scan(append(dest, extra...)...); err != nil {
		return Instance{}, err
	}
	in.Name, in.Description, in.GroupName, in.Tags = name.String, desc.String, group.String, tags.String
	in.CreatedAt = created.Time
	in.LastOpenedAt = opened.ptr()
	in.LastClosedAt = closed.ptr()
	return in, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
