// internal/database/sqlitestore.go - SQLite implementation using the
// casters/checks/state schema of monitor.db
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS casters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE,
	host TEXT,
	port INTEGER,
	username TEXT,
	password TEXT
);
CREATE TABLE IF NOT EXISTS checks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	caster TEXT,
	success INTEGER,
	message TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_checks_caster_id ON checks (caster, id);
CREATE TABLE IF NOT EXISTS caster_states (
	caster TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	firm TEXT NOT NULL,
	changed_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

type SQLiteStore struct {
	db   *sql.DB
	path string
	opts options
}

func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps writes serialized and avoids SQLITE_BUSY between
	// the scheduler and the web handlers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = FULL`,
		`PRAGMA busy_timeout = 5000`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, opts: buildOptions(opts)}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ListCasters(ctx context.Context) ([]Caster, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, host, port, username, password FROM casters ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list casters: %w", err)
	}
	defer rows.Close()

	var casters []Caster
	for rows.Next() {
		caster, err := scanCaster(rows)
		if err != nil {
			return nil, err
		}
		casters = append(casters, *caster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate caster rows: %w", err)
	}
	return casters, nil
}

func (s *SQLiteStore) GetCaster(ctx context.Context, name string) (*Caster, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, host, port, username, password FROM casters WHERE name = ?`, name)
	caster, err := scanCaster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCasterNotFound
	}
	return caster, err
}

func (s *SQLiteStore) CreateCaster(ctx context.Context, caster *Caster) error {
	if err := validateCaster(caster); err != nil {
		return err
	}
	if _, err := s.GetCaster(ctx, caster.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrCasterExists, caster.Name)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO casters (name, host, port, username, password) VALUES (?, ?, ?, ?, ?)`,
		caster.Name, caster.Host, caster.Port, caster.Username, caster.Password,
	)
	if err != nil {
		return fmt.Errorf("insert caster %s: %w", caster.Name, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		caster.ID = strconv.FormatInt(id, 10)
	}
	return nil
}

// UpdateCaster replaces the caster's fields. An empty password leaves the
// stored password untouched.
func (s *SQLiteStore) UpdateCaster(ctx context.Context, name string, caster *Caster) error {
	if err := validateCaster(caster); err != nil {
		return err
	}

	var (
		res sql.Result
		err error
	)
	if caster.Password != "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE casters SET name = ?, host = ?, port = ?, username = ?, password = ? WHERE name = ?`,
			caster.Name, caster.Host, caster.Port, caster.Username, caster.Password, name,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE casters SET name = ?, host = ?, port = ?, username = ? WHERE name = ?`,
			caster.Name, caster.Host, caster.Port, caster.Username, name,
		)
	}
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %s", ErrCasterExists, caster.Name)
		}
		return fmt.Errorf("update caster %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCasterNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteCaster(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM casters WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete caster %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCasterNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordProbe(ctx context.Context, caster string, success bool, message string, duration time.Duration) (*Probe, error) {
	probe := &Probe{
		Caster:     caster,
		Success:    success,
		Message:    truncateMessage(message),
		DurationMs: float64(duration) / float64(time.Millisecond),
		Timestamp:  s.opts.timestamp(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checks (caster, success, message, timestamp) VALUES (?, ?, ?, ?)`,
		caster, boolToInt(success), probe.Message, probe.Timestamp.Format(sqliteTimeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record probe: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		probe.Seq = uint64(id)
	}
	return probe, nil
}

func (s *SQLiteStore) RecentProbes(ctx context.Context, caster string, n int) ([]Probe, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.queryProbes(ctx,
		`SELECT id, caster, success, message, timestamp FROM checks WHERE caster = ? ORDER BY id DESC LIMIT ?`,
		caster, n,
	)
}

func (s *SQLiteStore) CountProbesSince(ctx context.Context, caster string, since time.Time) (int, int, error) {
	var total int
	var successful sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(success) FROM checks WHERE caster = ? AND timestamp >= ?`,
		caster, since.UTC().Format(sqliteTimeLayout),
	).Scan(&total, &successful)
	if err != nil {
		return 0, 0, fmt.Errorf("count probes for %s: %w", caster, err)
	}
	return total, int(successful.Int64), nil
}

// WalkProbes pages through history newest first so a long scan never holds
// the single connection for the whole walk.
func (s *SQLiteStore) WalkProbes(ctx context.Context, caster string, fn func(Probe) bool) error {
	pageSize := walkPageSize
	cursor := int64(-1)

	for {
		var (
			page []Probe
			err  error
		)
		if cursor < 0 {
			page, err = s.queryProbes(ctx,
				`SELECT id, caster, success, message, timestamp FROM checks WHERE caster = ? ORDER BY id DESC LIMIT ?`,
				caster, pageSize)
		} else {
			page, err = s.queryProbes(ctx,
				`SELECT id, caster, success, message, timestamp FROM checks WHERE caster = ? AND id < ? ORDER BY id DESC LIMIT ?`,
				caster, cursor, pageSize)
		}
		if err != nil {
			return err
		}
		for _, p := range page {
			if !fn(p) {
				return nil
			}
		}
		if len(page) < pageSize {
			return nil
		}
		cursor = int64(page[len(page)-1].Seq)
	}
}

func (s *SQLiteStore) GetProbes(ctx context.Context, caster string, filters ProbeFilters) ([]Probe, error) {
	query := `SELECT id, caster, success, message, timestamp FROM checks WHERE caster = ?`
	args := []interface{}{caster}
	if !filters.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filters.Since.UTC().Format(sqliteTimeLayout))
	}
	query += ` ORDER BY id DESC`
	if filters.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filters.Limit)
	}
	return s.queryProbes(ctx, query, args...)
}

func (s *SQLiteStore) GetState(ctx context.Context, caster string) (*CasterState, error) {
	var state CasterState
	var stateStr, firmStr, changedAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT caster, state, firm, changed_at, updated_at FROM caster_states WHERE caster = ?`, caster,
	).Scan(&state.Caster, &stateStr, &firmStr, &changedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", caster, err)
	}
	state.State = State(stateStr)
	state.Firm = State(firmStr)
	state.ChangedAt, _ = time.Parse(time.RFC3339, changedAt)
	state.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &state, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, state *CasterState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = s.opts.timestamp()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caster_states (caster, state, firm, changed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(caster) DO UPDATE SET
		 state = excluded.state,
		 firm = excluded.firm,
		 changed_at = excluded.changed_at,
		 updated_at = excluded.updated_at`,
		state.Caster,
		string(state.State),
		string(state.Firm),
		state.ChangedAt.UTC().Format(time.RFC3339),
		state.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save state for %s: %w", state.Caster, err)
	}
	return nil
}

func (s *SQLiteStore) ListStates(ctx context.Context) ([]CasterState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT caster FROM caster_states ORDER BY caster`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()

	states := make([]CasterState, 0, len(names))
	for _, name := range names {
		state, err := s.GetState(ctx, name)
		if err != nil {
			return nil, err
		}
		if state != nil {
			states = append(states, *state)
		}
	}
	return states, nil
}

func (s *SQLiteStore) DeleteProbesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checks WHERE timestamp < ?`, cutoff.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old probes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeleteState(ctx context.Context, caster string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM caster_states WHERE caster = ?`, caster); err != nil {
		return fmt.Errorf("delete state for %s: %w", caster, err)
	}
	return nil
}

func (s *SQLiteStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{Backend: "sqlite"}

	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM casters),
		(SELECT COUNT(*) FROM checks),
		(SELECT COUNT(*) FROM caster_states),
		(SELECT MIN(timestamp) FROM checks),
		(SELECT MAX(timestamp) FROM checks)`,
	).Scan(&stats.TotalCasters, &stats.TotalProbes, &stats.TotalStates, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestProbe, _ = parseSQLiteTime(oldest.String)
	}
	if newest.Valid {
		stats.NewestProbe, _ = parseSQLiteTime(newest.String)
	}
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}
	return stats, nil
}

func (s *SQLiteStore) queryProbes(ctx context.Context, query string, args ...interface{}) ([]Probe, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query probes: %w", err)
	}
	defer rows.Close()

	var probes []Probe
	for rows.Next() {
		var (
			probe   Probe
			id      int64
			success int
			message sql.NullString
			ts      string
		)
		if err := rows.Scan(&id, &probe.Caster, &success, &message, &ts); err != nil {
			return nil, fmt.Errorf("scan probe row: %w", err)
		}
		probe.Seq = uint64(id)
		probe.Success = success != 0
		probe.Message = message.String
		probe.Timestamp, _ = parseSQLiteTime(ts)
		probes = append(probes, probe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate probe rows: %w", err)
	}
	return probes, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCaster(row rowScanner) (*Caster, error) {
	var (
		caster             Caster
		id                 int64
		username, password sql.NullString
	)
	if err := row.Scan(&id, &caster.Name, &caster.Host, &caster.Port, &username, &password); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan caster row: %w", err)
	}
	caster.ID = strconv.FormatInt(id, 10)
	caster.Username = username.String
	caster.Password = password.String
	return &caster, nil
}

// parseSQLiteTime accepts the CURRENT_TIMESTAMP layout as well as RFC 3339.
func parseSQLiteTime(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(sqliteTimeLayout, value, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
