package gtfs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrNoRecognizedFiles = errors.New("archive contains no recognized GTFS files")

// FileFormatError reports a feed file that cannot be parsed. Line and Column
// are set when the failure is tied to a specific cell.
type FileFormatError struct {
	File   string
	Line   int
	Column string
	Err    error
}

func (e *FileFormatError) Error() string {
	var b strings.Builder
	b.WriteString("gtfs")
	if e.File != "" {
		b.WriteString(": ")
		b.WriteString(e.File)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " column %s", e.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *FileFormatError) Unwrap() error {
	return e.Err
}

// Table is one parsed feed file. Rows hold nil for empty cells, int64 for
// integer columns, float64 for float columns and canonical strings for the
// rest (HH:MM:SS for time offsets, YYYY-MM-DD for dates).
type Table struct {
	Schema TableSchema
	Rows   [][]any
}

const dateLayout = "20060102"

// ParseTable parses an allow-listed GTFS file. Columns keep the header order.
func ParseTable(filename, content string) (Table, error) {
	tableName, ok := TableForFile(filename)
	if !ok {
		return Table{}, &FileFormatError{File: filename, Err: errors.New("not an allow-listed GTFS file")}
	}

	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(content, "\ufeff")))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, &FileFormatError{File: filename, Line: 1, Err: errors.New("missing header row")}
	}
	if err != nil {
		return Table{}, &FileFormatError{File: filename, Line: 1, Err: err}
	}

	schema := TableSchema{Name: tableName, Columns: make([]ColumnSpec, 0, len(header))}
	seen := make(map[string]struct{}, len(header))
	for _, raw := range header {
		name := strings.TrimSpace(raw)
		if name == "" {
			return Table{}, &FileFormatError{File: filename, Line: 1, Err: errors.New("empty column name in header")}
		}
		if _, dup := seen[name]; dup {
			return Table{}, &FileFormatError{File: filename, Line: 1, Column: name, Err: errors.New("duplicate column")}
		}
		seen[name] = struct{}{}
		schema.Columns = append(schema.Columns, ColumnSpec{Name: name, Type: ColumnType(tableName, name)})
	}

	rows := make([][]any, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return Table{}, &FileFormatError{File: filename, Line: parseErr.Line, Err: parseErr.Err}
			}
			return Table{}, &FileFormatError{File: filename, Err: err}
		}
		line, _ := reader.FieldPos(0)
		if len(record) > len(schema.Columns) {
			return Table{}, &FileFormatError{
				File: filename,
				Line: line,
				Err:  fmt.Errorf("row has %d fields, header has %d", len(record), len(schema.Columns)),
			}
		}

		row := make([]any, len(schema.Columns))
		for i, column := range schema.Columns {
			if i >= len(record) {
				continue
			}
			value, err := coerce(column.Type, record[i])
			if err != nil {
				return Table{}, &FileFormatError{File: filename, Line: line, Column: column.Name, Err: err}
			}
			row[i] = value
		}
		rows = append(rows, row)
	}

	return Table{Schema: schema, Rows: rows}, nil
}

func coerce(typ SemanticType, raw string) (any, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	switch typ {
	case TypeInteger:
		return parseInteger(value)
	case TypeFloat:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", value)
		}
		return parsed, nil
	case TypeTimeOffset:
		offset, err := ParseTimeOffset(value)
		if err != nil {
			return nil, err
		}
		return FormatTimeOffset(offset), nil
	case TypeDate:
		parsed, err := time.Parse(dateLayout, value)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: want YYYYMMDD", value)
		}
		return parsed.Format(time.DateOnly), nil
	default:
		return value, nil
	}
}

// parseInteger accepts integral floats such as "3.0", which some feed
// exporters emit for enum columns.
func parseInteger(value string) (int64, error) {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err == nil {
		return parsed, nil
	}
	asFloat, floatErr := strconv.ParseFloat(value, 64)
	if floatErr != nil || asFloat != math.Trunc(asFloat) || math.Abs(asFloat) > math.MaxInt64 {
		return 0, fmt.Errorf("invalid integer %q", value)
	}
	return int64(asFloat), nil
}

// ParseTimeOffset parses H:MM:SS or HH:MM:SS measured from the start of the
// service day. Hours may exceed 23.
func ParseTimeOffset(value string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time offset %q: want HH:MM:SS", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || len(parts[0]) == 0 {
		return 0, fmt.Errorf("invalid time offset %q: bad hours", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time offset %q: bad minutes", value)
	}
	seconds, err := strconv.Atoi(parts[2])
	if err != nil || seconds < 0 || seconds > 59 || len(parts[2]) != 2 {
		return 0, fmt.Errorf("invalid time offset %q: bad seconds", value)
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second, nil
}

// FormatTimeOffset renders an offset as zero-padded HH:MM:SS so that text
// ordering matches chronological ordering for offsets under 100 hours.
func FormatTimeOffset(offset time.Duration) string {
	total := int64(offset / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
