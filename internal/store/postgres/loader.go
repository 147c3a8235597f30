package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/transitql/transitql/internal/gtfs"
	"github.com/transitql/transitql/internal/ingest"
)

const (
	stagingPrefix     = "_staging_"
	geometryColumn    = "geometry"
	geometryIndexName = "stops_geometry_idx"

	// feedLockKey serializes feed replacement across API processes.
	feedLockKey int64 = 0x67746673
)

// Loader replaces the live GTFS tables in one transaction: new tables are
// created and copied under staging names, every live GTFS table is dropped
// and the staging tables are renamed into place before commit.
type Loader struct {
	db *sql.DB
}

func NewLoader(db *sql.DB) *Loader {
	return &Loader{db: db}
}

var _ ingest.Loader = (*Loader)(nil)

type stageStep struct {
	table   string
	staging string
	create  string
	columns []string
	rows    [][]any
}

type replacePlan struct {
	stages   []stageStep
	geometry []string
	swap     []string
}

func (l *Loader) Replace(ctx context.Context, tables []gtfs.Table) (ingest.LoadReport, error) {
	if len(tables) == 0 {
		return ingest.LoadReport{}, fmt.Errorf("at least one table is required")
	}
	plan, err := buildReplacePlan(tables)
	if err != nil {
		return ingest.LoadReport{}, err
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return ingest.LoadReport{}, fmt.Errorf("acquire store connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	report := ingest.LoadReport{TableRows: make(map[string]int64, len(plan.stages)), Geometry: len(plan.geometry) > 0}
	err = conn.Raw(func(driverConn any) error {
		stdConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		return runReplacePlan(ctx, stdConn.Conn(), plan, report.TableRows)
	})
	if err != nil {
		return ingest.LoadReport{}, err
	}
	return report, nil
}

func runReplacePlan(ctx context.Context, conn *pgx.Conn, plan replacePlan, rowCounts map[string]int64) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin feed replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, feedLockKey); err != nil {
		return fmt.Errorf("acquire feed lock: %w", err)
	}

	for _, step := range plan.stages {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", quoteIdent(step.staging))); err != nil {
			return fmt.Errorf("drop stale staging table %s: %w", step.staging, err)
		}
		if _, err := tx.Exec(ctx, step.create); err != nil {
			return fmt.Errorf("create table %s: %w", step.table, err)
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{step.staging}, step.columns, pgx.CopyFromRows(step.rows))
		if err != nil {
			return fmt.Errorf("copy rows into %s: %w", step.table, err)
		}
		rowCounts[step.table] = copied
	}

	for _, statement := range plan.geometry {
		if _, err := tx.Exec(ctx, statement); err != nil {
			return fmt.Errorf("add stops geometry: %w", err)
		}
	}
	for _, statement := range plan.swap {
		if _, err := tx.Exec(ctx, statement); err != nil {
			return fmt.Errorf("swap feed tables: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit feed replace: %w", err)
	}
	return nil
}

func buildReplacePlan(tables []gtfs.Table) (replacePlan, error) {
	var plan replacePlan
	loaded := make(map[string]bool, len(tables))
	var stops *gtfs.TableSchema

	for i := range tables {
		schema := tables[i].Schema
		if !gtfs.IsCanonicalTable(schema.Name) {
			return replacePlan{}, fmt.Errorf("table %q is not a GTFS table", schema.Name)
		}
		if loaded[schema.Name] {
			return replacePlan{}, fmt.Errorf("table %q appears more than once", schema.Name)
		}
		if len(schema.Columns) == 0 {
			return replacePlan{}, fmt.Errorf("table %q has no columns", schema.Name)
		}
		loaded[schema.Name] = true

		staging := stagingPrefix + schema.Name
		columns := make([]string, 0, len(schema.Columns))
		for _, column := range schema.Columns {
			columns = append(columns, column.Name)
		}
		plan.stages = append(plan.stages, stageStep{
			table:   schema.Name,
			staging: staging,
			create:  createTableSQL(staging, schema.Columns),
			columns: columns,
			rows:    tables[i].Rows,
		})
		if schema.Name == "stops" {
			stops = &tables[i].Schema
		}
	}

	if stops != nil && wantsGeometry(*stops) {
		staging := quoteIdent(stagingPrefix + "stops")
		plan.geometry = []string{
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s geometry(Point, 4326)", staging, geometryColumn),
			fmt.Sprintf(
				"UPDATE %s SET %s = ST_SetSRID(ST_MakePoint(stop_lon, stop_lat), 4326) WHERE stop_lon IS NOT NULL AND stop_lat IS NOT NULL",
				staging, geometryColumn,
			),
			fmt.Sprintf("CREATE INDEX %s ON %s USING GIST (%s)", quoteIdent(stagingPrefix+geometryIndexName), staging, geometryColumn),
		}
	}

	for _, table := range gtfs.CanonicalTables() {
		plan.swap = append(plan.swap, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", quoteIdent(table)))
	}
	for _, step := range plan.stages {
		plan.swap = append(plan.swap, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(step.staging), quoteIdent(step.table)))
	}
	if len(plan.geometry) > 0 {
		plan.swap = append(plan.swap, fmt.Sprintf("ALTER INDEX %s RENAME TO %s", quoteIdent(stagingPrefix+geometryIndexName), quoteIdent(geometryIndexName)))
	}
	return plan, nil
}

// wantsGeometry reports whether stops carries both coordinates and does not
// already define a geometry column of its own.
func wantsGeometry(schema gtfs.TableSchema) bool {
	return schema.HasColumn("stop_lat") && schema.HasColumn("stop_lon") && !schema.HasColumn(geometryColumn)
}

func createTableSQL(name string, columns []gtfs.ColumnSpec) string {
	defs := make([]string, 0, len(columns))
	for _, column := range columns {
		defs = append(defs, quoteIdent(column.Name)+" "+column.Type.StorageType())
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
}

func quoteIdent(value string) string {
	return pgx.Identifier{value}.Sanitize()
}
