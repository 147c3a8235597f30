// Package schema renders the live GTFS table layout as text for prompts.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/transitql/transitql/internal/gtfs"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Catalog reads table and column metadata for the loaded GTFS tables from
// information_schema. It never caches, so text always matches the store.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

const columnsQuery = `
SELECT c.table_name, c.column_name, c.data_type, c.character_maximum_length, c.udt_name
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = 'public' AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

func (c *Catalog) Tables(ctx context.Context) ([]Table, error) {
	rows, err := c.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("query schema columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]Table, 0)
	for rows.Next() {
		var (
			tableName, columnName, dataType, udtName string
			maxLength                                sql.NullInt64
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &maxLength, &udtName); err != nil {
			return nil, fmt.Errorf("scan schema column: %w", err)
		}
		if !gtfs.IsCanonicalTable(tableName) {
			continue
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != tableName {
			tables = append(tables, Table{Name: tableName})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, Column{Name: columnName, Type: renderType(dataType, maxLength, udtName)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema columns: %w", err)
	}
	return tables, nil
}

// Render returns one "table (col TYPE, ...);" line per loaded GTFS table.
func (c *Catalog) Render(ctx context.Context) (string, error) {
	tables, err := c.Tables(ctx)
	if err != nil {
		return "", err
	}
	return RenderTables(tables), nil
}

func RenderTables(tables []Table) string {
	lines := make([]string, 0, len(tables))
	for _, table := range tables {
		columns := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, column.Name+" "+column.Type)
		}
		lines = append(lines, fmt.Sprintf("%s (%s);", table.Name, strings.Join(columns, ", ")))
	}
	return strings.Join(lines, "\n")
}

func renderType(dataType string, maxLength sql.NullInt64, udtName string) string {
	switch {
	case dataType == "character varying" && maxLength.Valid:
		return fmt.Sprintf("VARCHAR(%d)", maxLength.Int64)
	case dataType == "USER-DEFINED" && udtName != "":
		return strings.ToUpper(udtName)
	default:
		return strings.ToUpper(dataType)
	}
}
