// Package fts maintains the full-text search companion of each loaded
// table: a tsvector table plus GIN index, rebuilt from the source table's
// text columns after every load.
package fts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/acies-atharv-bharaskar/HGinsight/internal/connector/postgres"
)

const defaultLimit = 10

// ErrNoTextColumns reports that the source table has no text columns to
// index. The empty search table is left in place.
var ErrNoTextColumns = errors.New("no text columns to index")

// Store is the database surface the manager needs. *postgres.Client
// satisfies it.
type Store interface {
	Execute(ctx context.Context, query string, args ...any) (*postgres.Result, error)
	TableExists(ctx context.Context, table string) (bool, error)
	TextColumns(ctx context.Context, table string) ([]string, error)
}

// Manager builds and queries search tables.
type Manager struct {
	store  Store
	logger *slog.Logger
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger.With("component", "fts")}
}

// Table returns the search table name derived from a source table.
func Table(table string) string { return table + "_fts" }

// Ensure recreates the search table for table and its GIN index. The id
// column references the source table so stale search rows cannot outlive
// their entity.
func (m *Manager) Ensure(ctx context.Context, table string) error {
	fts := Table(table)
	if _, err := m.store.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", pq.QuoteIdentifier(fts))); err != nil {
		return fmt.Errorf("drop %s: %w", fts, err)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (id NUMERIC(38,0) PRIMARY KEY REFERENCES %s(id), tsv tsvector)",
		pq.QuoteIdentifier(fts), pq.QuoteIdentifier(table))
	if _, err := m.store.Execute(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", fts, err)
	}
	idx := fmt.Sprintf("CREATE INDEX %s ON %s USING GIN(tsv)",
		pq.QuoteIdentifier("idx_"+fts+"_tsv"), pq.QuoteIdentifier(fts))
	if _, err := m.store.Execute(ctx, idx); err != nil {
		return fmt.Errorf("index %s: %w", fts, err)
	}
	m.logger.Debug("search table ready", "table", fts)
	return nil
}

// Populate rebuilds the search table from the source table's preferred
// text columns and returns the number of indexed rows.
func (m *Manager) Populate(ctx context.Context, table string) (int64, error) {
	if err := m.Ensure(ctx, table); err != nil {
		return 0, err
	}

	candidates, err := m.store.TextColumns(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("text columns for %s: %w", table, err)
	}
	cols := postgres.PreferTextColumns(candidates)
	if len(cols) == 0 {
		return 0, ErrNoTextColumns
	}

	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("COALESCE(%s, '')", pq.QuoteIdentifier(c))
	}
	fts := Table(table)
	stmt := fmt.Sprintf("INSERT INTO %s (id, tsv) SELECT id, to_tsvector('english', %s) FROM %s",
		pq.QuoteIdentifier(fts), strings.Join(parts, " || ' ' || "), pq.QuoteIdentifier(table))
	if _, err := m.store.Execute(ctx, stmt); err != nil {
		return 0, fmt.Errorf("populate %s: %w", fts, err)
	}

	res, err := m.store.Execute(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(fts)))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", fts, err)
	}
	count := countFrom(res)
	m.logger.Info("search index populated", "table", fts, "rows", count, "columns", strings.Join(cols, ","))
	return count, nil
}

// Search runs a ranked query against table's search index. The result
// carries the source table's columns plus a rank column. A missing index
// yields an empty result rather than an error.
func (m *Manager) Search(ctx context.Context, table, query string, limit int) (*postgres.Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	fts := Table(table)
	exists, err := m.store.TableExists(ctx, fts)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", fts, err)
	}
	if !exists {
		m.logger.Debug("search table missing", "table", fts)
		return &postgres.Result{}, nil
	}

	stmt := fmt.Sprintf(`SELECT e.*, ts_rank(f.tsv, plainto_tsquery('english', $1)) AS rank
FROM %s e
JOIN %s f ON e.id = f.id
WHERE f.tsv @@ plainto_tsquery('english', $1)
ORDER BY rank DESC
LIMIT $2`,
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(fts))
	res, err := m.store.Execute(ctx, stmt, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", fts, err)
	}
	return res, nil
}

func countFrom(res *postgres.Result) int64 {
	if res == nil || len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0
	}
	switch n := res.Rows[0][0].(type) {
	case int64:
		return n
	case string:
		v, _ := strconv.ParseInt(n, 10, 64)
		return v
	case float64:
		return int64(n)
	}
	return 0
}
