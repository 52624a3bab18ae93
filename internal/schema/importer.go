package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acies-atharv-bharaskar/HGinsight/internal/connector/postgres"
	"github.com/acies-atharv-bharaskar/HGinsight/internal/parquet"
)

// Store is the slice of the relational client the importer needs.
type Store interface {
	Execute(ctx context.Context, query string, args ...any) (*postgres.Result, error)
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	RowCount(ctx context.Context, table string) (int64, error)
}

// Importer loads decoded parquet batches into per-entity tables.
type Importer struct {
	store     Store
	overrides map[string]string
	logger    *slog.Logger
}

// NewImporter builds an importer. overrides may be nil to use the default
// folder-to-table mapping, logger may be nil for slog.Default.
func NewImporter(store Store, overrides map[string]string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, overrides: overrides, logger: logger.With("component", "importer")}
}

// TableFor maps an entity folder name to its target table name.
func (im *Importer) TableFor(entity string) string {
	return Singularize(entity, im.overrides)
}

// ImportFile replaces the entity's table with the contents of one parquet
// payload. Every file drops and recreates the table, so when an entity has
// several files the last one wins. Returns the inserted row count.
func (im *Importer) ImportFile(ctx context.Context, entity string, data []byte) (int64, error) {
	tbl, err := parquet.Decode(data)
	if err != nil {
		return 0, fmt.Errorf("decode parquet: %w", err)
	}
	if len(tbl.Skipped) > 0 {
		im.logger.Warn("skipping undecodable columns", "entity", entity, "columns", tbl.Skipped)
	}
	if len(tbl.Columns) == 0 {
		return 0, fmt.Errorf("no decodable columns for entity %s", entity)
	}

	cols := Infer(tbl.Columns, tbl.Rows)
	NormalizeRows(cols, tbl.Rows)

	table := im.TableFor(entity)
	drop, create := CreateTableSQL(table, cols)
	if _, err := im.store.Execute(ctx, drop); err != nil {
		return 0, fmt.Errorf("drop table %s: %w", table, err)
	}
	if _, err := im.store.Execute(ctx, create); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	inserted, err := im.store.BulkInsert(ctx, table, names, tbl.Rows)
	if err != nil {
		return 0, fmt.Errorf("bulk insert into %s: %w", table, err)
	}

	count, err := im.store.RowCount(ctx, table)
	switch {
	case err != nil:
		im.logger.Warn("row count check failed", "table", table, "error", err)
	case count != int64(len(tbl.Rows)):
		im.logger.Warn("row count mismatch after load", "table", table, "inserted", inserted, "counted", count, "expected", len(tbl.Rows))
	default:
		im.logger.Info("table loaded", "table", table, "rows", count)
	}
	return inserted, nil
}
