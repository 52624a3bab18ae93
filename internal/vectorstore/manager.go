package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/acies-atharv-bharaskar/HGinsight/internal/connector/postgres"
)

const defaultBatch = 32

// Sentinel conditions the embeddings stage reports as controlled failures
// rather than faults.
var (
	ErrNoTextColumns = errors.New("no text columns")
	ErrNoRows        = errors.New("no rows")
)

// Mode says how vectors land in Postgres.
type Mode string

const (
	ModeNative   Mode = "native"
	ModeFallback Mode = "fallback"
)

// TableConfig describes where and how an entity's vectors are stored.
type TableConfig struct {
	Table string
	Mode  Mode
	Dim   int
}

// Store is the slice of the relational client the manager needs.
type Store interface {
	Execute(ctx context.Context, query string, args ...any) (*postgres.Result, error)
	TableExists(ctx context.Context, table string) (bool, error)
	TextColumns(ctx context.Context, table string) ([]string, error)
	HasVectorCapability(ctx context.Context) bool
}

// TextEncoder is the embedding surface the manager depends on.
type TextEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Manager derives and stores per-row embeddings for entity tables.
type Manager struct {
	store  Store
	enc    TextEncoder
	batch  int
	logger *slog.Logger
}

// NewManager builds a manager. batch <= 0 selects the default batch size,
// logger may be nil for slog.Default.
func NewManager(store Store, enc TextEncoder, batch int, logger *slog.Logger) *Manager {
	if batch <= 0 {
		batch = defaultBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, enc: enc, batch: batch, logger: logger.With("component", "vectorstore")}
}

// EmbeddingsTable names the derived table for an entity table.
func EmbeddingsTable(table string) string {
	return table + "_embeddings"
}

// EnsureStorage recreates the embeddings table for an entity. With pgvector
// available it holds a typed vector column, otherwise raw BYTEA frames. A
// failed native create degrades to the fallback shape instead of erroring.
func (m *Manager) EnsureStorage(ctx context.Context, table string) (TableConfig, error) {
	cfg := TableConfig{Table: EmbeddingsTable(table), Mode: ModeFallback, Dim: m.enc.Dim()}

	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s", pq.QuoteIdentifier(cfg.Table))
	if _, err := m.store.Execute(ctx, drop); err != nil {
		return cfg, fmt.Errorf("drop %s: %w", cfg.Table, err)
	}

	if m.store.HasVectorCapability(ctx) {
		ddl := fmt.Sprintf("CREATE TABLE %s (id NUMERIC(38,0) PRIMARY KEY REFERENCES %s(id), embedding vector(%d))",
			pq.QuoteIdentifier(cfg.Table), pq.QuoteIdentifier(table), cfg.Dim)
		_, err := m.store.Execute(ctx, ddl)
		if err == nil {
			cfg.Mode = ModeNative
			return cfg, nil
		}
		m.logger.Warn("native vector table failed, falling back to binary storage", "table", cfg.Table, "error", err)
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (id NUMERIC(38,0) PRIMARY KEY REFERENCES %s(id), embedding BYTEA)",
		pq.QuoteIdentifier(cfg.Table), pq.QuoteIdentifier(table))
	if _, err := m.store.Execute(ctx, ddl); err != nil {
		return cfg, fmt.Errorf("create %s: %w", cfg.Table, err)
	}
	return cfg, nil
}

// Upsert writes one batch of vectors. Length and dimension mismatches fail
// before anything reaches the database.
func (m *Manager) Upsert(ctx context.Context, cfg TableConfig, ids []string, vecs [][]float32) error {
	if len(ids) == 0 || len(ids) != len(vecs) {
		return fmt.Errorf("ids and vectors mismatched: %d ids, %d vectors", len(ids), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != cfg.Dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), cfg.Dim)
		}
	}

	var sb strings.Builder
	args := make([]any, 0, len(ids)*2)
	fmt.Fprintf(&sb, "INSERT INTO %s (id, embedding) VALUES ", pq.QuoteIdentifier(cfg.Table))
	for i := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		if cfg.Mode == ModeNative {
			fmt.Fprintf(&sb, "($%d, $%d::vector)", len(args)+1, len(args)+2)
			args = append(args, ids[i], VectorLiteral(vecs[i]))
		} else {
			fmt.Fprintf(&sb, "($%d, $%d)", len(args)+1, len(args)+2)
			args = append(args, ids[i], EncodeFrame(vecs[i]))
		}
	}
	sb.WriteString(" ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding")

	if _, err := m.store.Execute(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert into %s: %w", cfg.Table, err)
	}
	return nil
}

// EnsureIndex builds the approximate similarity index for a native table.
// Failure is logged and swallowed, similarity queries work without it.
func (m *Manager) EnsureIndex(ctx context.Context, cfg TableConfig) {
	if cfg.Mode != ModeNative {
		return
	}
	name := "idx_" + cfg.Table + "_vector"
	ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops)",
		pq.QuoteIdentifier(name), pq.QuoteIdentifier(cfg.Table))
	if _, err := m.store.Execute(ctx, ddl); err != nil {
		m.logger.Warn("vector index build failed", "index", name, "error", err)
	}
}

// Generate embeds every row of the entity's table from its preferred text
// columns and stores the vectors. Returns the number of rows embedded and
// the storage configuration so callers can pass it along.
func (m *Manager) Generate(ctx context.Context, table string) (int, TableConfig, error) {
	// The embeddings table is created up front so it exists even when the
	// source turns out to have nothing worth embedding.
	cfg, err := m.EnsureStorage(ctx, table)
	if err != nil {
		return 0, cfg, err
	}

	candidates, err := m.store.TextColumns(ctx, table)
	if err != nil {
		return 0, cfg, fmt.Errorf("text columns for %s: %w", table, err)
	}
	cols := postgres.PreferTextColumns(candidates)
	if len(cols) == 0 {
		return 0, cfg, ErrNoTextColumns
	}

	quoted := make([]string, 0, len(cols)+1)
	quoted = append(quoted, pq.QuoteIdentifier("id"))
	for _, c := range cols {
		quoted = append(quoted, pq.QuoteIdentifier(c))
	}
	res, err := m.store.Execute(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), pq.QuoteIdentifier(table)))
	if err != nil {
		return 0, cfg, fmt.Errorf("read %s: %w", table, err)
	}
	if len(res.Rows) == 0 {
		return 0, cfg, ErrNoRows
	}

	ids := make([]string, 0, len(res.Rows))
	texts := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		txt := rowText(row[1:])
		if txt == "" {
			continue
		}
		ids = append(ids, fmt.Sprintf("%v", row[0]))
		texts = append(texts, txt)
	}
	if len(ids) < len(res.Rows) {
		m.logger.Debug("skipping rows without text", "table", table, "skipped", len(res.Rows)-len(ids))
	}
	if len(ids) == 0 {
		return 0, cfg, fmt.Errorf("no embeddable text in %s", table)
	}

	for start := 0; start < len(ids); start += m.batch {
		end := start + m.batch
		if end > len(ids) {
			end = len(ids)
		}
		vecs, err := m.enc.Encode(ctx, texts[start:end])
		if err != nil {
			return 0, cfg, fmt.Errorf("encode batch at %d: %w", start, err)
		}
		if err := m.Upsert(ctx, cfg, ids[start:end], vecs); err != nil {
			return 0, cfg, err
		}
		m.logger.Debug("stored embedding batch", "table", cfg.Table, "offset", start, "size", end-start)
	}

	m.EnsureIndex(ctx, cfg)
	return len(ids), cfg, nil
}

// rowText joins a row's text cells into the string that gets embedded.
func rowText(cells []any) string {
	parts := make([]string, 0, len(cells))
	for _, cell := range cells {
		if cell == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprintf("%v", cell)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Match is one similarity search hit.
type Match struct {
	ID         string
	Similarity float32
}

// SearchSimilar embeds the query and returns the closest rows, best first.
// A missing embeddings table yields an empty result, not an error.
func (m *Manager) SearchSimilar(ctx context.Context, table, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	embTable := EmbeddingsTable(table)
	exists, err := m.store.TableExists(ctx, embTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		m.logger.Debug("embeddings table missing", "table", embTable)
		return nil, nil
	}

	vecs, err := m.enc.Encode(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("encode query: empty result")
	}
	qv := vecs[0]

	if m.store.HasVectorCapability(ctx) {
		matches, err := m.searchNative(ctx, embTable, qv, limit)
		if err == nil {
			return matches, nil
		}
		m.logger.Debug("native similarity query failed, scanning instead", "table", embTable, "error", err)
	}
	return m.searchScan(ctx, embTable, qv, limit)
}

func (m *Manager) searchNative(ctx context.Context, table string, qv []float32, limit int) ([]Match, error) {
	lit := VectorLiteral(qv)
	q := fmt.Sprintf("SELECT id, 1 - (embedding <=> '%s') AS similarity FROM %s ORDER BY embedding <=> '%s' LIMIT %d",
		lit, pq.QuoteIdentifier(table), lit, limit)
	res, err := m.store.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, Match{ID: fmt.Sprintf("%v", row[0]), Similarity: toFloat32(row[1])})
	}
	return out, nil
}

// searchScan ranks BYTEA frames client side.
func (m *Manager) searchScan(ctx context.Context, table string, qv []float32, limit int) ([]Match, error) {
	res, err := m.store.Execute(ctx, fmt.Sprintf("SELECT id, embedding FROM %s", pq.QuoteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 2 || row[1] == nil {
			continue
		}
		frame, ok := row[1].(string)
		if !ok {
			continue
		}
		vec, err := DecodeFrame([]byte(frame))
		if err != nil {
			continue
		}
		sim, err := CosineSimilarity(qv, vec)
		if err != nil {
			continue
		}
		matches = append(matches, Match{ID: fmt.Sprintf("%v", row[0]), Similarity: sim})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func toFloat32(v any) float32 {
	switch x := v.(type) {
	case float64:
		return float32(x)
	case float32:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 32)
		return float32(f)
	default:
		return 0
	}
}
