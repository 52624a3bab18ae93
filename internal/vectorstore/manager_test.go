package vectorstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acies-atharv-bharaskar/HGinsight/internal/connector/postgres"
)

type routedResult struct {
	contains string
	res      *postgres.Result
}

type fakeVectorStore struct {
	execs    []string
	args     [][]any
	textCols []string
	exists   bool
	vector   bool
	failOn   string
	results  []routedResult
}

func (f *fakeVectorStore) Execute(_ context.Context, query string, args ...any) (*postgres.Result, error) {
	f.execs = append(f.execs, query)
	f.args = append(f.args, args)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("forced failure")
	}
	for _, r := range f.results {
		if strings.Contains(query, r.contains) {
			return r.res, nil
		}
	}
	return &postgres.Result{}, nil
}

func (f *fakeVectorStore) TableExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

func (f *fakeVectorStore) TextColumns(_ context.Context, _ string) ([]string, error) {
	return f.textCols, nil
}

func (f *fakeVectorStore) HasVectorCapability(_ context.Context) bool {
	return f.vector
}

func (f *fakeVectorStore) matching(substr string) []string {
	var out []string
	for _, q := range f.execs {
		if strings.Contains(q, substr) {
			out = append(out, q)
		}
	}
	return out
}

func sourceRows(rows ...[]any) *postgres.Result {
	return &postgres.Result{Columns: []string{"id", "name", "description"}, Rows: rows}
}

func TestGenerateFallbackMode(t *testing.T) {
	store := &fakeVectorStore{
		textCols: []string{"name", "description", "internal_code"},
		results: []routedResult{
			{contains: `FROM "product"`, res: sourceRows(
				[]any{"1", "laptop", "portable computer"},
				[]any{"2", "desk", nil},
				[]any{"3", "chair", "office chair"},
			)},
		},
	}
	m := NewManager(store, NewEncoder("m", "", 8, nil), 2, nil)

	count, cfg, err := m.Generate(context.Background(), "product")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, ModeFallback, cfg.Mode)
	assert.Equal(t, "product_embeddings", cfg.Table)
	assert.Equal(t, 8, cfg.Dim)

	selects := store.matching(`SELECT "id", "name", "description" FROM "product"`)
	require.Len(t, selects, 1)

	creates := store.matching("CREATE TABLE")
	require.Len(t, creates, 1)
	assert.Contains(t, creates[0], "embedding BYTEA")
	assert.Contains(t, creates[0], `REFERENCES "product"(id)`)

	inserts := store.matching("INSERT INTO")
	require.Len(t, inserts, 2, "3 rows at batch size 2 need two upserts")
	assert.Contains(t, inserts[0], "ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding")

	assert.Empty(t, store.matching("ivfflat"), "no similarity index in fallback mode")
}

func TestGenerateNativeMode(t *testing.T) {
	store := &fakeVectorStore{
		textCols: []string{"name"},
		vector:   true,
		results: []routedResult{
			{contains: `FROM "product"`, res: &postgres.Result{
				Columns: []string{"id", "name"},
				Rows:    [][]any{{"1", "laptop"}},
			}},
		},
	}
	m := NewManager(store, NewEncoder("m", "", 8, nil), 0, nil)

	count, cfg, err := m.Generate(context.Background(), "product")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, ModeNative, cfg.Mode)

	creates := store.matching("CREATE TABLE")
	require.Len(t, creates, 1)
	assert.Contains(t, creates[0], "embedding vector(8)")

	inserts := store.matching("INSERT INTO")
	require.Len(t, inserts, 1)
	assert.Contains(t, inserts[0], "::vector")
	require.Len(t, store.args[len(store.args)-2], 2)

	indexes := store.matching("ivfflat")
	require.Len(t, indexes, 1)
	assert.Contains(t, indexes[0], `"idx_product_embeddings_vector"`)
}

func TestGenerateNativeCreateFallsBack(t *testing.T) {
	store := &fakeVectorStore{
		textCols: []string{"name"},
		vector:   true,
		failOn:   "vector(8)",
		results: []routedResult{
			{contains: `FROM "product"`, res: &postgres.Result{Rows: [][]any{{"1", "laptop"}}}},
		},
	}
	m := NewManager(store, NewEncoder("m", "", 8, nil), 0, nil)

	_, cfg, err := m.Generate(context.Background(), "product")
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, cfg.Mode)
	assert.NotEmpty(t, store.matching("BYTEA"))
}

func TestGenerateNoTextColumns(t *testing.T) {
	store := &fakeVectorStore{}
	m := NewManager(store, NewEncoder("m", "", 8, nil), 0, nil)

	_, _, err := m.Generate(context.Background(), "product")
	assert.ErrorIs(t, err, ErrNoTextColumns)

	creates := store.matching("CREATE TABLE")
	require.Len(t, creates, 1, "embeddings table is created before the text column check")
	assert.Contains(t, creates[0], `"product_embeddings"`)
}

func TestGenerateNoRows(t *testing.T) {
	store := &fakeVectorStore{textCols: []string{"name"}}
	m := NewManager(store, NewEncoder("m", "", 8, nil), 0, nil)

	_, _, err := m.Generate(context.Background(), "product")
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestGenerateSkipsRowsWithoutText(t *testing.T) {
	store := &fakeVectorStore{
		textCols: []string{"name", "description"},
		results: []routedResult{
			{contains: `FROM "product"`, res: sourceRows(
				[]any{"1", "laptop", "portable computer"},
				[]any{"2", nil, "   "},
				[]any{"3", "chair", nil},
			)},
		},
	}
	m := NewManager(store, NewEncoder("m", "", 8, nil), 0, nil)

	count, _, err := m.Generate(context.Background(), "product")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var insertArgs []any
	for i, q := range store.execs {
		if strings.Contains(q, "INSERT INTO") {
			insertArgs = store.args[i]
			break
		}
	}
	require.Len(t, insertArgs, 4, "two id/frame pairs")
	assert.Equal(t, "1", insertArgs[0])
	assert.Equal(t, "3", insertArgs[2])
}

func TestGenerateAllRowsWithoutText(t *testing.T) {
	store := &fakeVectorStore{
		textCols: []string{"name"},
		results: []routedResult{
			{contains: `FROM "product"`, res: &postgres.Result{
				Columns: []string{"id", "name"},
				Rows:    [][]any{{"1", nil}, {"2", "  "}},
			}},
		},
	}
	m := NewManager(store, NewEncoder("m", "", 8, nil), 0, nil)

	_, _, err := m.Generate(context.Background(), "product")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embeddable text")
	assert.NotEmpty(t, store.matching("CREATE TABLE"), "storage exists even when nothing can be embedded")
}

func TestUpsertValidation(t *testing.T) {
	store := &fakeVectorStore{}
	m := NewManager(store, NewEncoder("m", "", 4, nil), 0, nil)
	cfg := TableConfig{Table: "product_embeddings", Mode: ModeFallback, Dim: 4}

	err := m.Upsert(context.Background(), cfg, []string{"1"}, nil)
	assert.Error(t, err)

	err = m.Upsert(context.Background(), cfg, []string{"1"}, [][]float32{{1, 2}})
	assert.Error(t, err)

	assert.Empty(t, store.execs, "validation failures must not reach the database")
}

func TestSearchSimilarMissingTable(t *testing.T) {
	m := NewManager(&fakeVectorStore{exists: false}, NewEncoder("m", "", 8, nil), 0, nil)

	matches, err := m.SearchSimilar(context.Background(), "product", "laptop", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchSimilarNative(t *testing.T) {
	store := &fakeVectorStore{
		exists: true,
		vector: true,
		results: []routedResult{
			{contains: "<=>", res: &postgres.Result{Rows: [][]any{{"5", 0.93}, {"9", 0.71}}}},
		},
	}
	m := NewManager(store, NewEncoder("m", "", 8, nil), 0, nil)

	matches, err := m.SearchSimilar(context.Background(), "product", "laptop", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "5", matches[0].ID)
	assert.InDelta(t, 0.93, matches[0].Similarity, 1e-6)

	queries := store.matching("<=>")
	require.NotEmpty(t, queries)
	assert.Contains(t, queries[0], "LIMIT 5")
	assert.Contains(t, queries[0], `FROM "product_embeddings"`)
}

func TestSearchSimilarScan(t *testing.T) {
	enc := NewEncoder("m", "", 8, nil)
	qv := enc.fallbackVector("laptop")
	opposite := make([]float32, len(qv))
	for i, x := range qv {
		opposite[i] = -x
	}

	store := &fakeVectorStore{
		exists: true,
		results: []routedResult{
			{contains: "SELECT id, embedding FROM", res: &postgres.Result{Rows: [][]any{
				{"2", string(EncodeFrame(opposite))},
				{"1", string(EncodeFrame(qv))},
			}}},
		},
	}
	m := NewManager(store, enc, 0, nil)

	matches, err := m.SearchSimilar(context.Background(), "product", "laptop", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1, "limit applies after ranking")
	assert.Equal(t, "1", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-5)
}
