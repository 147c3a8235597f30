// Package export encodes query results for download.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/transitql/transitql/internal/query"
)

const ParquetContentType = "application/vnd.apache.parquet"

type columnKind int

const (
	kindNull columnKind = iota
	kindBool
	kindInt
	kindFloat
	kindString
)

type ParquetResult struct {
	Data    []byte
	Rows    int64
	Columns []string
}

// EncodeParquet writes result as a single Parquet file. Column types are
// inferred from the non-null values of each column; mixed or unknown types
// fall back to strings and every column is optional.
func EncodeParquet(result query.Result) (ParquetResult, error) {
	if len(result.Columns) == 0 {
		return ParquetResult{}, fmt.Errorf("result has no columns")
	}
	names := uniqueColumnNames(result.Columns)
	kinds := make([]columnKind, len(names))
	for i := range names {
		kinds[i] = inferKind(result.Rows, i)
	}

	group := parquet.Group{}
	for i, name := range names {
		group[name] = parquet.Optional(nodeFor(kinds[i]))
	}
	schema := parquet.NewSchema("query_result", group)

	leafIndex := make([]int, len(names))
	for i, name := range names {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return ParquetResult{}, fmt.Errorf("column %q missing from parquet schema", name)
		}
		leafIndex[i] = leaf.ColumnIndex
	}

	rows := make([]parquet.Row, 0, len(result.Rows))
	for rowNum, values := range result.Rows {
		row := make(parquet.Row, len(names))
		for i := range names {
			var raw any
			if i < len(values) {
				raw = values[i]
			}
			value, err := toParquetValue(raw, kinds[i])
			if err != nil {
				return ParquetResult{}, fmt.Errorf("row %d column %q: %w", rowNum+1, names[i], err)
			}
			row[leafIndex[i]] = value.Level(0, definitionLevel(value), leafIndex[i])
		}
		rows = append(rows, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return ParquetResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return ParquetResult{Data: buf.Bytes(), Rows: int64(len(rows)), Columns: names}, nil
}

func definitionLevel(value parquet.Value) int {
	if value.IsNull() {
		return 0
	}
	return 1
}

func nodeFor(kind columnKind) parquet.Node {
	switch kind {
	case kindBool:
		return parquet.Leaf(parquet.BooleanType)
	case kindInt:
		return parquet.Int(64)
	case kindFloat:
		return parquet.Leaf(parquet.DoubleType)
	default:
		return parquet.String()
	}
}

func inferKind(rows [][]any, column int) columnKind {
	kind := kindNull
	for _, row := range rows {
		if column >= len(row) || row[column] == nil {
			continue
		}
		next := kindOf(row[column])
		switch {
		case kind == kindNull:
			kind = next
		case kind == next:
		case (kind == kindInt && next == kindFloat) || (kind == kindFloat && next == kindInt):
			kind = kindFloat
		default:
			return kindString
		}
	}
	return kind
}

func kindOf(value any) columnKind {
	switch v := value.(type) {
	case bool:
		return kindBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return kindInt
	case float32:
		return kindFloat
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return kindString
		}
		return kindFloat
	default:
		return kindString
	}
}

func toParquetValue(raw any, kind columnKind) (parquet.Value, error) {
	if raw == nil {
		return parquet.NullValue(), nil
	}
	switch kind {
	case kindBool:
		return parquet.ValueOf(raw.(bool)), nil
	case kindInt:
		n, err := toInt64(raw)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.ValueOf(n), nil
	case kindFloat:
		f, err := toFloat64(raw)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.ValueOf(f), nil
	default:
		return parquet.ValueOf(stringify(raw)), nil
	}
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	}
	return 0, fmt.Errorf("unexpected integer value %T", raw)
}

func toFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	n, err := toInt64(raw)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case fmt.Stringer:
		return v.String()
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(encoded)
}

// uniqueColumnNames suffixes repeated or blank result column names so every
// Parquet field is distinct.
func uniqueColumnNames(columns []string) []string {
	taken := make(map[string]bool, len(columns))
	out := make([]string, len(columns))
	for i, name := range columns {
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		for n := 2; taken[candidate]; n++ {
			candidate = name + "_" + strconv.Itoa(n)
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}
