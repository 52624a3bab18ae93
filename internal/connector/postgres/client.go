// Package postgres implements the relational-store client: statement
// execution with read detection, catalog probes and paged bulk inserts over
// a database/sql pool.
//
// Two drivers are registered: lib/pq as "postgres" (the default) and the
// pgx stdlib adapter as "pgx". Both accept the postgres:// DSN form.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// Registered database/sql driver names.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

const insertPageSize = 100

// Client wraps a database/sql pool with the statement and catalog helpers
// the pipeline needs.
type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Open connects the pool and verifies it with a ping.
func Open(driver, dsn string, opts ...Option) (*Client, error) {
	switch driver {
	case "":
		driver = DriverPostgres
	case DriverPostgres, DriverPgx:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	c := &Client{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "postgres", "driver", driver)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return c, nil
}

// Close releases the pool.
func (c *Client) Close() error { return c.db.Close() }

// StatementError carries the statement that failed alongside the driver
// error.
type StatementError struct {
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement failed: %v [%s]", e.Err, e.Statement)
}

func (e *StatementError) Unwrap() error { return e.Err }

func statementErr(stmt string, err error) error {
	const maxLen = 500
	if len(stmt) > maxLen {
		stmt = stmt[:maxLen] + "..."
	}
	return &StatementError{Statement: stmt, Err: err}
}

// Result is the outcome of Execute: materialized rows for reads, the
// affected-row count for writes.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
}

// Execute runs one SQL statement. Statements whose trimmed upper-cased
// text starts with SELECT, SHOW or WITH run as queries and have their rows
// materialized; everything else runs as a command.
func (c *Client) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	if isReadStatement(query) {
		return c.query(ctx, query, args...)
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, statementErr(query, err)
	}
	affected, _ := res.RowsAffected()
	return &Result{RowsAffected: affected}, nil
}

func isReadStatement(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range []string{"SELECT", "SHOW", "WITH"} {
		if strings.HasPrefix(head, kw) {
			return true
		}
	}
	return false
}

func (c *Client) query(ctx context.Context, query string, args ...any) (*Result, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, statementErr(query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, statementErr(query, err)
	}

	out := &Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, statementErr(query, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, statementErr(query, err)
	}
	return out, nil
}

// TableExists reports whether a table is present in the public schema.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	)`
	var exists bool
	if err := c.db.QueryRowContext(ctx, q, table).Scan(&exists); err != nil {
		return false, statementErr(q, err)
	}
	return exists, nil
}

// ColumnNames returns the table's columns in ordinal order.
func (c *Client) ColumnNames(ctx context.Context, table string) ([]string, error) {
	const q = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`
	return c.stringColumn(ctx, q, table)
}

// TextColumns returns the table's text-like columns (text, character
// varying) in ordinal order.
func (c *Client) TextColumns(ctx context.Context, table string) ([]string, error) {
	const q = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		  AND data_type IN ('text', 'character varying')
		ORDER BY ordinal_position`
	return c.stringColumn(ctx, q, table)
}

func (c *Client) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, statementErr(query, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, statementErr(query, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, statementErr(query, err)
	}
	return out, nil
}

// preferredNames are matched first when choosing which text columns feed
// embeddings and the search index.
var preferredNames = []string{"name", "description", "title", "summary", "content"}

// PreferTextColumns picks the columns worth indexing: preferred names in
// their canonical order when any are present, otherwise the first three
// candidates.
func PreferTextColumns(candidates []string) []string {
	have := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		have[c] = true
	}
	var picked []string
	for _, name := range preferredNames {
		if have[name] {
			picked = append(picked, name)
		}
	}
	if len(picked) > 0 {
		return picked
	}
	if len(candidates) > 3 {
		return candidates[:3:3]
	}
	return candidates
}

// HasVectorCapability reports whether the pgvector extension is installed
// or installable. The probe never fails the caller.
func (c *Client) HasVectorCapability(ctx context.Context) bool {
	_, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err == nil {
		return true
	}
	c.logger.Debug("cannot install pgvector, probing for an existing extension", "err", err)
	var name string
	err = c.db.QueryRowContext(ctx, "SELECT extname FROM pg_extension WHERE extname = 'vector'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		c.logger.Debug("pgvector probe failed", "err", err)
		return false
	}
	return true
}

// BulkInsert writes rows into table inside one transaction, batching the
// VALUES lists in pages of 100. It returns the summed affected-row count;
// zero affected rows is logged, not an error.
func (c *Client) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, errors.New("bulk insert: no columns")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ",
		pq.QuoteIdentifier(table), strings.Join(quoted, ", "))

	var total int64
	for start := 0; start < len(rows); start += insertPageSize {
		end := min(start+insertPageSize, len(rows))
		page := rows[start:end]

		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]any, 0, len(page)*len(columns))
		for r, row := range page {
			if len(row) != len(columns) {
				return 0, fmt.Errorf("bulk insert: row %d has %d values, want %d", start+r, len(row), len(columns))
			}
			if r > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for i, v := range row {
				if i > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "$%d", len(args)+1)
				args = append(args, insertValue(v))
			}
			sb.WriteByte(')')
		}

		res, err := tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return 0, statementErr(prefix+"...", err)
		}
		affected, _ := res.RowsAffected()
		total += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk insert: %w", err)
	}
	if total == 0 {
		c.logger.Warn("bulk insert affected no rows", "table", table, "rows", len(rows))
	} else {
		c.logger.Debug("bulk insert done", "table", table, "rows", total)
	}
	return total, nil
}

// insertValue adapts Go values to driver-friendly forms; string slices
// become Postgres text arrays.
func insertValue(v any) any {
	if s, ok := v.([]string); ok {
		return pq.Array(s)
	}
	return v
}

// RowCount returns SELECT COUNT(*) for table.
func (c *Client) RowCount(ctx context.Context, table string) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table))
	var n int64
	if err := c.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, statementErr(q, err)
	}
	return n, nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", statementErr("SELECT version()", err)
	}
	return version, nil
}
