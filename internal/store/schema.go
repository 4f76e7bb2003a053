package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/theirongolddev/callpulse/internal/model"
)

// counterColumn binds a daily_metrics column to a Counters field.
type counterColumn struct {
	name  string
	field func(*model.Counters) *int64
}

// counterColumns lists every counter column in storage order. New counters
// are appended here; Open adds any that an existing table lacks.
var counterColumns = []counterColumn{
	{"all_calls", func(c *model.Counters) *int64 { return &c.AllCalls }},
	{"dialogs", func(c *model.Counters) *int64 { return &c.Dialogs }},
	{"agreement", func(c *model.Counters) *int64 { return &c.Agreement }},
	{"transfer", func(c *model.Counters) *int64 { return &c.Transfer }},
	{"lead_agent", func(c *model.Counters) *int64 { return &c.LeadAgent }},
	{"line_time", func(c *model.Counters) *int64 { return &c.LineTime }},
	{"tagged", func(c *model.Counters) *int64 { return &c.Tagged }},
	{"crm_calls", func(c *model.Counters) *int64 { return &c.CRMCalls }},
	{"crm_agreements", func(c *model.Counters) *int64 { return &c.CRMAgreements }},
	{"meetings_held", func(c *model.Counters) *int64 { return &c.MeetingsHeld }},
	{"deals_won", func(c *model.Counters) *int64 { return &c.DealsWon }},
	{"revenue", func(c *model.Counters) *int64 { return &c.Revenue }},
	{"talk_sum", func(c *model.Counters) *int64 { return &c.TalkSum }},
	{"talk_count", func(c *model.Counters) *int64 { return &c.TalkCount }},
}

const baseSchemaSQL = `
CREATE TABLE IF NOT EXISTS daily_metrics (
    date                 TEXT NOT NULL,
    operator_id          TEXT NOT NULL,
    name                 TEXT NOT NULL DEFAULT '',
    updated_at           TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (date, operator_id)
);

CREATE INDEX IF NOT EXISTS idx_daily_metrics_operator ON daily_metrics(operator_id);

CREATE TABLE IF NOT EXISTS settings (
    key                  TEXT PRIMARY KEY,
    value                TEXT NOT NULL,
    updated_at           TEXT NOT NULL
);
`

// migrate creates missing tables and adds missing counter columns. It never
// drops or rewrites existing data.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, baseSchemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	have, err := tableColumns(ctx, db, "daily_metrics")
	if err != nil {
		return err
	}
	for _, col := range counterColumns {
		if have[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE daily_metrics ADD COLUMN %s INTEGER NOT NULL DEFAULT 0", col.name)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("adding column %s: %w", col.name, err)
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, fmt.Errorf("reading %s columns: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func columnNames() []string {
	names := make([]string, len(counterColumns))
	for i, c := range counterColumns {
		names[i] = c.name
	}
	return names
}
