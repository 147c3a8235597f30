// Package gtfs holds the fixed GTFS file allow-list, the per-table column
// types and the typed parsing of feed files.
package gtfs

import (
	"sort"
	"strings"
)

type SemanticType string

const (
	TypeText       SemanticType = "text"
	TypeInteger    SemanticType = "integer"
	TypeFloat      SemanticType = "float"
	TypeTimeOffset SemanticType = "time_offset"
	TypeDate       SemanticType = "date"
)

// StorageType is the SQL column type used for a semantic type.
func (t SemanticType) StorageType() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	default:
		return "TEXT"
	}
}

type ColumnSpec struct {
	Name string       `json:"name"`
	Type SemanticType `json:"type"`
}

type TableSchema struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

func (s TableSchema) HasColumn(name string) bool {
	for _, column := range s.Columns {
		if column.Name == name {
			return true
		}
	}
	return false
}

// Feed maps canonical file names (e.g. "stops.txt") to their raw content.
type Feed map[string]string

// Files returns the feed's file names in canonical load order.
func (f Feed) Files() []string {
	names := make([]string, 0, len(f))
	for _, name := range canonicalFiles {
		if _, ok := f[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

var canonicalFiles = []string{
	"agency.txt",
	"stops.txt",
	"routes.txt",
	"trips.txt",
	"stop_times.txt",
	"calendar.txt",
	"calendar_dates.txt",
	"shapes.txt",
	"frequencies.txt",
	"transfers.txt",
	"feed_info.txt",
	"fare_attributes.txt",
	"fare_rules.txt",
}

var canonicalTables = func() map[string]struct{} {
	tables := make(map[string]struct{}, len(canonicalFiles))
	for _, file := range canonicalFiles {
		tables[strings.TrimSuffix(file, ".txt")] = struct{}{}
	}
	return tables
}()

// CanonicalFiles returns the allow-listed GTFS file names.
func CanonicalFiles() []string {
	out := make([]string, len(canonicalFiles))
	copy(out, canonicalFiles)
	return out
}

// CanonicalTables returns the allow-listed table names, sorted.
func CanonicalTables() []string {
	out := make([]string, 0, len(canonicalTables))
	for table := range canonicalTables {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}

// TableForFile maps an allow-listed file name to its table name.
func TableForFile(filename string) (string, bool) {
	if !strings.HasSuffix(filename, ".txt") {
		return "", false
	}
	table := strings.TrimSuffix(filename, ".txt")
	if _, ok := canonicalTables[table]; !ok {
		return "", false
	}
	return table, true
}

func IsCanonicalTable(name string) bool {
	_, ok := canonicalTables[name]
	return ok
}
