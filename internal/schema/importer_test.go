package schema

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/writerfile"
	format "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/acies-atharv-bharaskar/HGinsight/internal/connector/postgres"
)

type bulkCall struct {
	table   string
	columns []string
	rows    [][]any
}

type fakeStore struct {
	queries  []string
	inserts  []bulkCall
	rowCount int64
	failOn   string
}

func (f *fakeStore) Execute(_ context.Context, query string, _ ...any) (*postgres.Result, error) {
	f.queries = append(f.queries, query)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("forced failure")
	}
	return &postgres.Result{}, nil
}

func (f *fakeStore) BulkInsert(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	f.inserts = append(f.inserts, bulkCall{table: table, columns: columns, rows: rows})
	return int64(len(rows)), nil
}

func (f *fakeStore) RowCount(_ context.Context, _ string) (int64, error) {
	return f.rowCount, nil
}

func productFixture(t *testing.T) []byte {
	t.Helper()
	schema := `{
		"Tag": "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": [
			{"Tag": "name=id, type=INT64, repetitiontype=OPTIONAL"},
			{"Tag": "name=name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"},
			{"Tag": "name=tags, type=LIST, repetitiontype=OPTIONAL", "Fields": [
				{"Tag": "name=element, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"}
			]}
		]
	}`
	buf := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(schema, fw, 4)
	require.NoError(t, err)
	pw.CompressionType = format.CompressionCodec_SNAPPY
	for _, row := range []string{
		`{"id": 1, "name": "laptop", "tags": ["tech"]}`,
		`{"id": 2, "name": "desk", "tags": null}`,
	} {
		require.NoError(t, pw.Write(row))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

func TestImportFile(t *testing.T) {
	store := &fakeStore{rowCount: 2}
	im := NewImporter(store, nil, nil)

	inserted, err := im.ImportFile(context.Background(), "products", productFixture(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	require.Len(t, store.queries, 2)
	assert.Equal(t, `DROP TABLE IF EXISTS "product" CASCADE`, store.queries[0])
	assert.Contains(t, store.queries[1], `CREATE TABLE "product"`)
	assert.Contains(t, store.queries[1], `"id" NUMERIC(38,0) PRIMARY KEY`)
	assert.Contains(t, store.queries[1], `"tags" TEXT[]`)

	require.Len(t, store.inserts, 1)
	call := store.inserts[0]
	assert.Equal(t, "product", call.table)
	assert.Equal(t, []string{"id", "name", "tags"}, call.columns)
	require.Len(t, call.rows, 2)
	assert.Equal(t, []any{"1", "laptop", []string{"tech"}}, call.rows[0])
	assert.Equal(t, []any{"2", "desk", []string{}}, call.rows[1])
}

func TestImportFileCreateFails(t *testing.T) {
	store := &fakeStore{failOn: "CREATE TABLE"}
	im := NewImporter(store, nil, nil)

	_, err := im.ImportFile(context.Background(), "products", productFixture(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create table product")
}

func TestImportFileBadPayload(t *testing.T) {
	im := NewImporter(&fakeStore{}, nil, nil)

	_, err := im.ImportFile(context.Background(), "products", []byte("junk"))
	assert.Error(t, err)
}

func TestTableForUsesOverrides(t *testing.T) {
	im := NewImporter(&fakeStore{}, map[string]string{"people": "person"}, nil)
	assert.Equal(t, "person", im.TableFor("people"))
	assert.Equal(t, "vendor", im.TableFor("vendors"))
}
