// Package parquet decodes parquet payloads into a columnar table shape
// suitable for relational loading. Scalar leaves keep their logical type
// (bool, int64, float64, string, time.Time) and LIST groups collapse to
// string slices. Nested groups that are not lists are skipped.
package parquet

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	format "github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/types"
)

const readerConcurrency = 4

// Table holds decoded rows in schema order. Cells are nil, bool, int64,
// float64, string, time.Time or []string. Skipped lists the top-level
// columns whose shape could not be decoded.
type Table struct {
	Columns []string
	Rows    [][]any
	Skipped []string
}

// Decode reads a full parquet file from memory.
func Decode(data []byte) (*Table, error) {
	pf := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetColumnReader(pf, readerConcurrency)
	if err != nil {
		return nil, fmt.Errorf("open parquet reader: %w", err)
	}
	defer func() {
		pr.ReadStop()
		_ = pf.Close()
	}()

	plans, skipped, err := planColumns(pr.Footer.Schema)
	if err != nil {
		return nil, err
	}

	numRows := pr.GetNumRows()
	table := &Table{Skipped: skipped}
	for _, p := range plans {
		table.Columns = append(table.Columns, p.name)
	}
	table.Rows = make([][]any, numRows)
	for i := range table.Rows {
		table.Rows[i] = make([]any, len(plans))
	}
	if numRows == 0 || len(plans) == 0 {
		return table, nil
	}

	for ci, p := range plans {
		vals, rls, dls, err := readColumn(pr, p.leaf, numRows)
		if err != nil {
			return nil, fmt.Errorf("read column %q: %w", p.name, err)
		}
		if p.list {
			err = fillList(table.Rows, ci, p, vals, rls, dls)
		} else {
			err = fillScalar(table.Rows, ci, p, vals, dls)
		}
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", p.name, err)
		}
	}
	return table, nil
}

// readColumn drains one leaf column. A single call normally returns every
// value, the loop covers readers that hand back row groups piecemeal.
func readColumn(pr *reader.ParquetReader, leaf, rows int64) ([]any, []int32, []int32, error) {
	var (
		vals []any
		rls  []int32
		dls  []int32
	)
	for {
		vs, rs, ds, err := pr.ReadColumnByIndex(leaf, rows)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(vs) == 0 {
			break
		}
		vals = append(vals, vs...)
		rls = append(rls, rs...)
		dls = append(dls, ds...)
	}
	return vals, rls, dls, nil
}

func fillScalar(rows [][]any, col int, p columnPlan, vals []any, dls []int32) error {
	if int64(len(vals)) != int64(len(rows)) {
		return fmt.Errorf("got %d values for %d rows", len(vals), len(rows))
	}
	for i, v := range vals {
		if v == nil {
			continue
		}
		if p.maxDL > 0 && (i >= len(dls) || dls[i] < p.maxDL) {
			continue
		}
		rows[i][col] = p.convert(v)
	}
	return nil
}

// fillList rebuilds list cells from repetition and definition levels. A
// repetition level of zero starts a new row; values at the element depth
// join that row's slice. Null and empty lists both land as empty slices.
func fillList(rows [][]any, col int, p columnPlan, vals []any, rls, dls []int32) error {
	if len(rls) != len(vals) || len(dls) != len(vals) {
		return fmt.Errorf("level count mismatch: %d values, %d rls, %d dls", len(vals), len(rls), len(dls))
	}
	row := -1
	var cur []string
	for i, v := range vals {
		if rls[i] == 0 {
			if row >= 0 {
				rows[row][col] = cur
			}
			row++
			if row >= len(rows) {
				return fmt.Errorf("got more list entries than %d rows", len(rows))
			}
			cur = []string{}
		}
		if dls[i] == p.maxDL && v != nil {
			cur = append(cur, formatElement(p.convert(v)))
		}
	}
	if row >= 0 {
		rows[row][col] = cur
	}
	if row+1 != len(rows) {
		return fmt.Errorf("got %d list rows, want %d", row+1, len(rows))
	}
	return nil
}

func formatElement(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

type convertFunc func(any) any

// columnPlan maps one top-level schema field to its leaf column index and
// the level depths needed to reassemble rows.
type columnPlan struct {
	name    string
	leaf    int64
	maxRL   int32
	maxDL   int32
	list    bool
	convert convertFunc
}

// planColumns walks the flattened footer schema depth first. Every leaf
// advances the column index whether or not it is kept, so skipped groups
// leave the remaining indexes aligned with the reader's value columns.
func planColumns(elems []*format.SchemaElement) ([]columnPlan, []string, error) {
	if len(elems) == 0 {
		return nil, nil, fmt.Errorf("parquet schema is empty")
	}
	children := 0
	if elems[0].IsSetNumChildren() {
		children = int(elems[0].GetNumChildren())
	}
	w := &schemaWalker{elems: elems, pos: 1}

	var plans []columnPlan
	var skipped []string
	for i := 0; i < children; i++ {
		if w.pos >= len(elems) {
			return nil, nil, fmt.Errorf("parquet schema truncated at element %d", w.pos)
		}
		field := elems[w.pos]
		leaves, err := w.subtree(0, 0)
		if err != nil {
			return nil, nil, err
		}
		name := field.GetName()
		group := field.IsSetNumChildren() && field.GetNumChildren() > 0
		switch {
		case !group:
			plans = append(plans, columnPlan{
				name:    name,
				leaf:    leaves[0].leaf,
				maxRL:   leaves[0].maxRL,
				maxDL:   leaves[0].maxDL,
				list:    leaves[0].maxRL > 0,
				convert: converterFor(field),
			})
		case isListGroup(field) && len(leaves) == 1:
			plans = append(plans, columnPlan{
				name:    name,
				leaf:    leaves[0].leaf,
				maxRL:   leaves[0].maxRL,
				maxDL:   leaves[0].maxDL,
				list:    true,
				convert: converterFor(leaves[0].elem),
			})
		default:
			skipped = append(skipped, name)
		}
	}
	return plans, skipped, nil
}

type leafInfo struct {
	elem  *format.SchemaElement
	leaf  int64
	maxRL int32
	maxDL int32
}

type schemaWalker struct {
	elems []*format.SchemaElement
	pos   int
	leaf  int64
}

// subtree consumes the element at the cursor together with its children
// and reports the leaves underneath with their accumulated levels.
func (w *schemaWalker) subtree(rl, dl int32) ([]leafInfo, error) {
	if w.pos >= len(w.elems) {
		return nil, fmt.Errorf("parquet schema truncated at element %d", w.pos)
	}
	el := w.elems[w.pos]
	w.pos++
	if el.IsSetRepetitionType() {
		switch el.GetRepetitionType() {
		case format.FieldRepetitionType_REPEATED:
			rl++
			dl++
		case format.FieldRepetitionType_OPTIONAL:
			dl++
		}
	}
	children := 0
	if el.IsSetNumChildren() {
		children = int(el.GetNumChildren())
	}
	if children == 0 {
		info := leafInfo{elem: el, leaf: w.leaf, maxRL: rl, maxDL: dl}
		w.leaf++
		return []leafInfo{info}, nil
	}
	var leaves []leafInfo
	for i := 0; i < children; i++ {
		sub, err := w.subtree(rl, dl)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, sub...)
	}
	return leaves, nil
}

func isListGroup(el *format.SchemaElement) bool {
	if el.IsSetConvertedType() && el.GetConvertedType() == format.ConvertedType_LIST {
		return true
	}
	return el.IsSetLogicalType() && el.GetLogicalType().IsSetLIST()
}

func isDate(el *format.SchemaElement) bool {
	if el.IsSetConvertedType() && el.GetConvertedType() == format.ConvertedType_DATE {
		return true
	}
	return el.IsSetLogicalType() && el.GetLogicalType().IsSetDATE()
}

func isDecimal(el *format.SchemaElement) bool {
	if el.IsSetConvertedType() && el.GetConvertedType() == format.ConvertedType_DECIMAL {
		return true
	}
	return el.IsSetLogicalType() && el.GetLogicalType().IsSetDECIMAL()
}

func converterFor(el *format.SchemaElement) convertFunc {
	if !el.IsSetType() {
		return stringify
	}
	switch el.GetType() {
	case format.Type_BOOLEAN:
		return identity
	case format.Type_INT32:
		return int32Converter(el)
	case format.Type_INT64:
		return int64Converter(el)
	case format.Type_INT96:
		return func(v any) any {
			s, ok := v.(string)
			if !ok {
				return fmt.Sprintf("%v", v)
			}
			return types.INT96ToTime(s)
		}
	case format.Type_FLOAT:
		return func(v any) any {
			f, ok := v.(float32)
			if !ok {
				return v
			}
			return float64(f)
		}
	case format.Type_DOUBLE:
		return identity
	case format.Type_BYTE_ARRAY, format.Type_FIXED_LEN_BYTE_ARRAY:
		return byteArrayConverter(el)
	default:
		return stringify
	}
}

func identity(v any) any { return v }

func stringify(v any) any { return fmt.Sprintf("%v", v) }

func int32Converter(el *format.SchemaElement) convertFunc {
	if isDate(el) {
		epoch := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
		return func(v any) any {
			n, ok := v.(int32)
			if !ok {
				return v
			}
			return epoch.AddDate(0, 0, int(n))
		}
	}
	if isDecimal(el) {
		prec, scale := int(el.GetPrecision()), int(el.GetScale())
		return func(v any) any {
			n, ok := v.(int32)
			if !ok {
				return v
			}
			return types.DECIMAL_INT_ToString(int64(n), prec, scale)
		}
	}
	return func(v any) any {
		n, ok := v.(int32)
		if !ok {
			return v
		}
		return int64(n)
	}
}

func int64Converter(el *format.SchemaElement) convertFunc {
	if unit, adjusted, ok := timestampUnit(el); ok {
		switch unit {
		case unitMillis:
			return func(v any) any {
				n, ok := v.(int64)
				if !ok {
					return v
				}
				return types.TIMESTAMP_MILLISToTime(n, adjusted)
			}
		case unitMicros:
			return func(v any) any {
				n, ok := v.(int64)
				if !ok {
					return v
				}
				return types.TIMESTAMP_MICROSToTime(n, adjusted)
			}
		default:
			return func(v any) any {
				n, ok := v.(int64)
				if !ok {
					return v
				}
				return time.Unix(0, n).UTC()
			}
		}
	}
	if isDecimal(el) {
		prec, scale := int(el.GetPrecision()), int(el.GetScale())
		return func(v any) any {
			n, ok := v.(int64)
			if !ok {
				return v
			}
			return types.DECIMAL_INT_ToString(n, prec, scale)
		}
	}
	return identity
}

func byteArrayConverter(el *format.SchemaElement) convertFunc {
	if isDecimal(el) {
		prec, scale := int(el.GetPrecision()), int(el.GetScale())
		return func(v any) any {
			s, ok := v.(string)
			if !ok {
				return fmt.Sprintf("%v", v)
			}
			return types.DECIMAL_BYTE_ARRAY_ToString([]byte(s), prec, scale)
		}
	}
	return func(v any) any {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
}

type tsUnit int

const (
	unitMillis tsUnit = iota
	unitMicros
	unitNanos
)

// timestampUnit resolves the timestamp resolution, preferring the logical
// type annotation and falling back to the legacy converted types.
func timestampUnit(el *format.SchemaElement) (tsUnit, bool, bool) {
	if el.IsSetLogicalType() && el.GetLogicalType().IsSetTIMESTAMP() {
		ts := el.GetLogicalType().GetTIMESTAMP()
		unit := ts.GetUnit()
		switch {
		case unit.IsSetMILLIS():
			return unitMillis, ts.GetIsAdjustedToUTC(), true
		case unit.IsSetMICROS():
			return unitMicros, ts.GetIsAdjustedToUTC(), true
		case unit.IsSetNANOS():
			return unitNanos, ts.GetIsAdjustedToUTC(), true
		}
	}
	if el.IsSetConvertedType() {
		switch el.GetConvertedType() {
		case format.ConvertedType_TIMESTAMP_MILLIS:
			return unitMillis, true, true
		case format.ConvertedType_TIMESTAMP_MICROS:
			return unitMicros, true, true
		}
	}
	return 0, false, false
}
