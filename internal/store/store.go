// Package store is the SQLite-backed storage of record for daily operator
// metrics and admin settings.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/theirongolddev/callpulse/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

// Store holds daily_metrics rows keyed by (date, operator_id). Dates are
// stored as model.DateKey strings so that string order is calendar order.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dbPath and brings its schema up to
// date.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening metrics db: %w", err)
	}
	// single writer; one connection also keeps WAL readers consistent
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes records for one date in a single transaction. Each
// (date, operator) row is inserted or fully overwritten; operators absent
// from records keep their existing rows.
func (s *Store) Upsert(ctx context.Context, date string, records []model.DailyOperatorRecord) error {
	key, err := dateKey(date)
	if err != nil {
		return err
	}

	cols := columnNames()
	placeholders := strings.Repeat(", ?", len(cols))
	updates := make([]string, 0, len(cols)+2)
	updates = append(updates, "name = excluded.name", "updated_at = excluded.updated_at")
	for _, c := range cols {
		updates = append(updates, c+" = excluded."+c)
	}
	stmt := fmt.Sprintf(`INSERT INTO daily_metrics (date, operator_id, name, updated_at, %s)
		VALUES (?, ?, ?, ?%s)
		ON CONFLICT(date, operator_id) DO UPDATE SET %s`,
		strings.Join(cols, ", "), placeholders, strings.Join(updates, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	prep, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer func() { _ = prep.Close() }()

	for _, r := range records {
		if r.OperatorID == "" {
			continue
		}
		updated := r.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		counters := r.Counters
		args := make([]any, 0, 4+len(counterColumns))
		args = append(args, key, r.OperatorID, r.Name, updated.UTC().Format(time.RFC3339))
		for _, c := range counterColumns {
			args = append(args, max(*c.field(&counters), 0))
		}
		if _, err := prep.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upserting %s/%s: %w", key, r.OperatorID, err)
		}
	}
	return tx.Commit()
}

// RangeAggregate sums every counter over [start, end] per operator and
// derives averages and reach from the sums. The name is taken from the
// operator's most recent row.
func (s *Store) RangeAggregate(ctx context.Context, start, end string) ([]model.OperatorTotals, error) {
	start, err := dateKey(start)
	if err != nil {
		return nil, err
	}
	if end, err = dateKey(end); err != nil {
		return nil, err
	}

	sums := make([]string, len(counterColumns))
	for i, c := range counterColumns {
		sums[i] = fmt.Sprintf("COALESCE(SUM(%s), 0)", c.name)
	}
	// SQLite takes bare columns from the row holding MAX(date).
	q := fmt.Sprintf(`SELECT operator_id, name, MAX(date), %s
		FROM daily_metrics
		WHERE date >= ? AND date <= ?
		GROUP BY operator_id
		ORDER BY operator_id`, strings.Join(sums, ", "))

	rows, err := s.db.QueryContext(ctx, q, start, end)
	if err != nil {
		return nil, fmt.Errorf("range aggregate: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.OperatorTotals
	for rows.Next() {
		var (
			t      model.OperatorTotals
			name   sql.NullString
			latest string
		)
		dest := []any{&t.OperatorID, &name, &latest}
		for _, c := range counterColumns {
			dest = append(dest, c.field(&t.Counters))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		t.Name = name.String
		t.Derive()
		out = append(out, t)
	}
	return out, rows.Err()
}

// DayRecords returns the stored rows for one date ordered by operator id.
func (s *Store) DayRecords(ctx context.Context, date string) ([]model.DailyOperatorRecord, error) {
	date, err := dateKey(date)
	if err != nil {
		return nil, err
	}

	cols := make([]string, len(counterColumns))
	for i, c := range counterColumns {
		cols[i] = fmt.Sprintf("COALESCE(%s, 0)", c.name)
	}
	q := fmt.Sprintf(`SELECT date, operator_id, name, updated_at, %s
		FROM daily_metrics WHERE date = ? ORDER BY operator_id`, strings.Join(cols, ", "))

	rows, err := s.db.QueryContext(ctx, q, date)
	if err != nil {
		return nil, fmt.Errorf("day records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DailyOperatorRecord
	for rows.Next() {
		var (
			r       model.DailyOperatorRecord
			name    sql.NullString
			updated sql.NullString
		)
		dest := []any{&r.Date, &r.OperatorID, &name, &updated}
		for _, c := range counterColumns {
			dest = append(dest, c.field(&r.Counters))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r.Name = name.String
		if updated.Valid && updated.String != "" {
			r.UpdatedAt, _ = time.Parse(time.RFC3339, updated.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasDate reports whether any row exists for date.
func (s *Store) HasDate(ctx context.Context, date string) (bool, error) {
	date, err := dateKey(date)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM daily_metrics WHERE date = ? LIMIT 1", date).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListSyncedDates returns every date with at least one row, ascending.
func (s *Store) ListSyncedDates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT date FROM daily_metrics ORDER BY date")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// dateKey accepts any layout model.ParseDate knows and returns the
// storage key.
func dateKey(s string) (string, error) {
	return model.NormalizeDateKey(s, time.UTC)
}

// Summary describes the store's contents.
type Summary struct {
	Rows        int       `json:"rows"`
	Dates       int       `json:"dates"`
	FirstDate   string    `json:"first_date,omitempty"`
	LastDate    string    `json:"last_date,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Summary returns row and date counts.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var (
		sum         Summary
		first, last sql.NullString
		updated     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT date), MIN(date), MAX(date), MAX(updated_at)
		FROM daily_metrics`).Scan(&sum.Rows, &sum.Dates, &first, &last, &updated)
	if err != nil {
		return sum, err
	}
	sum.FirstDate = first.String
	sum.LastDate = last.String
	if updated.Valid {
		sum.LastUpdated, _ = time.Parse(time.RFC3339, updated.String)
	}
	return sum, nil
}

// GetSetting returns a setting value and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetSetting inserts or replaces a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Settings returns every setting.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
