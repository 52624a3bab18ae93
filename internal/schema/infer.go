// Package schema infers relational column types from decoded tabular rows
// and prepares both the DDL and the row values for loading into Postgres.
package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// SQL types assigned by Infer.
const (
	TypeID       = "NUMERIC(38,0)"
	TypeInt      = "BIGINT"
	TypeFloat    = "DOUBLE PRECISION"
	TypeBool     = "BOOLEAN"
	TypeDatetime = "TIMESTAMP"
	TypeList     = "TEXT[]"
	TypeText     = "VARCHAR(1000)"
)

// Column is one inferred target column.
type Column struct {
	Name       string
	SQLType    string
	PrimaryKey bool
}

// DefaultOverrides maps folder names whose table name is not a plain
// trailing-s strip.
func DefaultOverrides() map[string]string {
	return map[string]string{
		"products":         "product",
		"spend_categories": "spend_category",
		"vendors":          "vendor",
		"customers":        "customer",
		"employees":        "employee",
	}
}

// Singularize maps a folder name to its table name. Explicit overrides win,
// otherwise a trailing "s" is stripped unless the name ends in "ss", "us"
// or "is".
func Singularize(name string, overrides map[string]string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if s, ok := overrides[n]; ok {
		return s
	}
	if s, ok := DefaultOverrides()[n]; ok {
		return s
	}
	if strings.HasSuffix(n, "ss") || strings.HasSuffix(n, "us") || strings.HasSuffix(n, "is") {
		return n
	}
	if strings.HasSuffix(n, "s") && len(n) > 1 {
		return n[:len(n)-1]
	}
	return n
}

// SanitizeColumn lowercases a column name and reduces it to identifier
// characters. Spaces, dashes and dots turn into underscores, anything else
// outside [a-z0-9_] is dropped.
func SanitizeColumn(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range n {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.':
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "col"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// Infer derives one Column per input column from the observed cell values.
// An id column is always NUMERIC(38,0) and primary key no matter what the
// cells hold. Duplicate sanitized names get a numeric suffix.
func Infer(columns []string, rows [][]any) []Column {
	out := make([]Column, 0, len(columns))
	seen := make(map[string]int, len(columns))
	for i, raw := range columns {
		base := SanitizeColumn(raw)
		name := base
		if n := seen[base]; n > 0 {
			name = fmt.Sprintf("%s_%d", base, n+1)
		}
		seen[base]++

		col := Column{Name: name, SQLType: columnType(i, rows)}
		if name == "id" {
			col.SQLType = TypeID
			col.PrimaryKey = true
		}
		out = append(out, col)
	}
	return out
}

// columnType picks the narrowest SQL type covering every non-null cell in
// the column. Integers mixed with floats widen to DOUBLE PRECISION; any
// other mix falls back to VARCHAR.
func columnType(col int, rows [][]any) string {
	var ints, floats, bools, times, lists int
	total := 0
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		total++
		switch v := row[col].(type) {
		case bool:
			bools++
		case int64:
			ints++
		case float64:
			if math.IsNaN(v) {
				total--
				continue
			}
			floats++
		case time.Time:
			times++
		case []string:
			lists++
		}
	}
	switch {
	case total == 0:
		return TypeText
	case lists == total:
		return TypeList
	case bools == total:
		return TypeBool
	case times == total:
		return TypeDatetime
	case ints == total:
		return TypeInt
	case ints+floats == total:
		return TypeFloat
	default:
		return TypeText
	}
}

// CreateTableSQL renders the drop and create statements for a fresh load.
// The drop cascades so dependent embedding and fts tables go with it.
func CreateTableSQL(table string, cols []Column) (string, string) {
	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pq.QuoteIdentifier(table))
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		def := pq.QuoteIdentifier(c.Name) + " " + c.SQLType
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", pq.QuoteIdentifier(table), strings.Join(defs, ", "))
	return drop, create
}

// NormalizeRows rewrites cells in place for loading. NaN floats become
// NULL, null list cells become empty slices, and identifier columns are
// carried as strings so ids beyond int64 range survive the trip through
// the driver. An empty parent_id becomes NULL.
func NormalizeRows(cols []Column, rows [][]any) {
	for _, row := range rows {
		for i := range cols {
			if i >= len(row) {
				break
			}
			row[i] = normalizeCell(cols[i], row[i])
		}
	}
}

func normalizeCell(c Column, v any) any {
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		v = nil
	}
	if c.SQLType == TypeList {
		if v == nil {
			return []string{}
		}
		return v
	}
	switch c.Name {
	case "id":
		if v == nil {
			return nil
		}
		return idString(v)
	case "parent_id":
		if v == nil {
			return nil
		}
		if s := idString(v); s != "" {
			return s
		}
		return nil
	}
	return v
}

func idString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}
