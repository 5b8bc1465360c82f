// Package postgres implements the transactional store the collector
// contract, trade harmonizer and yield pipeline persist through: one
// dynamic ON CONFLICT ... DO UPDATE upsert builder behind
// collector.Store, plus typed helpers for the trade/yield tables. The
// generic builder exists because a source plugin's save step upserts
// arbitrary declared tables/columns rather than a fixed schema.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Store is the sqlx-backed implementation of collector.Store and the
// home for the typed gold/silver-table writers the trade harmonizer and
// yield pipeline use directly.
type Store struct {
	db *sqlx.DB
}

// New wraps an open *sqlx.DB.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers (migrations, yield
// feature SQL aggregates) that need direct query access.
func (s *Store) DB() *sqlx.DB { return s.db }

// Upsert builds and executes a single `INSERT ... ON CONFLICT (...) DO
// UPDATE SET ...` statement from a batch of records sharing the same
// column set, keyed on the caller's declared unique columns. Records go
// in as one multi-VALUES statement inside one transaction, so a partial
// batch failure never leaves half the batch written.
func (s *Store) Upsert(ctx context.Context, table string, records []map[string]interface{}, uniqueColumns []string) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	columns := unionColumns(records)
	if len(uniqueColumns) == 0 {
		uniqueColumns = defaultUniqueColumns(columns)
	}

	query, args := buildUpsert(table, columns, uniqueColumns, records)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("upsert into %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert into %s: %w", table, err)
	}

	return affectedIDs(records, uniqueColumns), nil
}

// unionColumns collects every column key present across the batch,
// sorted, so the generated statement has a stable column order.
func unionColumns(records []map[string]interface{}) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// defaultUniqueColumns applies the default: "date" if present
// else the first two columns.
func defaultUniqueColumns(columns []string) []string {
	for _, c := range columns {
		if c == "date" {
			return []string{"date"}
		}
	}
	if len(columns) >= 2 {
		return columns[:2]
	}
	return columns
}

func buildUpsert(table string, columns, uniqueColumns []string, records []map[string]interface{}) (string, []interface{}) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(quoteAll(columns), ", "))

	args := make([]interface{}, 0, len(records)*len(columns))
	placeholder := 1
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", placeholder)
			placeholder++
			args = append(args, rec[col])
		}
		sb.WriteString(")")
	}

	updateSet := make([]string, 0, len(columns))
	for _, col := range columns {
		if containsStr(uniqueColumns, col) {
			continue
		}
		updateSet = append(updateSet, fmt.Sprintf("%q = EXCLUDED.%q", col, col))
	}

	fmt.Fprintf(&sb, " ON CONFLICT (%s)", strings.Join(quoteAll(uniqueColumns), ", "))
	if len(updateSet) > 0 {
		fmt.Fprintf(&sb, " DO UPDATE SET %s", strings.Join(updateSet, ", "))
	} else {
		sb.WriteString(" DO NOTHING")
	}

	return sb.String(), args
}

// quoteAll double-quotes identifiers so column names that collide with
// keywords ("date") stay valid.
func quoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%q", c)
	}
	return out
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// affectedIDs derives a stable identifier per record from its unique
// columns, for the DATA_SAVE audit record's affected_record_ids.
func affectedIDs(records []map[string]interface{}, uniqueColumns []string) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		parts := make([]string, 0, len(uniqueColumns))
		for _, col := range uniqueColumns {
			parts = append(parts, fmt.Sprintf("%v", rec[col]))
		}
		ids = append(ids, strings.Join(parts, "-"))
	}
	return ids
}
