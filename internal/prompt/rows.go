package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// RowsJSON renders rows as an indented JSON array of objects whose keys keep
// the column order of the result.
func RowsJSON(columns []string, rows [][]any, indent string) (string, error) {
	records := make([]orderedRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, orderedRecord{columns: columns, values: row})
	}
	out, err := json.MarshalIndent(records, "", indent)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(out), nil
}

type orderedRecord struct {
	columns []string
	values  []any
}

func (r orderedRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, column := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(column)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var value any
		if i < len(r.values) {
			value = JSONValue(r.values[i])
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// JSONValue converts values that encoding/json rejects or renders poorly
// into plain JSON scalars.
func JSONValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case time.Duration:
		return v.String()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
		return v
	case float32:
		return JSONValue(float64(v))
	default:
		return v
	}
}
