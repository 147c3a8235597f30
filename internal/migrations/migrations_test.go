package migrations

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
	}
}

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	items, err := loadMigrations(testFS())
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if items[0].Name != "one" || items[1].DownSQL != "SELECT -2;" {
		t.Fatalf("unexpected migration contents: %+v", items)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmbeddedMigrationCreatesFeedIngestion(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_feed_ingestion.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, snippet := range []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		"CREATE TABLE feed_ingestion",
		"geometry_indexed BOOLEAN",
		"idx_feed_ingestion_started_at_desc",
	} {
		if !strings.Contains(string(body), snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
	if _, err := loadMigrations(embeddedFS); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestUpAppliesOnlyPendingMigrations(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS transitql_schema_migrations`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM transitql_schema_migrations ORDER BY version ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT 2;`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transitql_schema_migrations (version) VALUES ($1)`)).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := newRunnerWithFS(testFS()).Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("Up() applied = %d, want 1", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestStatusReportsAppliedVersions(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS transitql_schema_migrations`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM transitql_schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))

	status, err := newRunnerWithFS(testFS()).Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status) != 2 || !status[0].Applied || status[1].Applied || status[1].Name != "two" {
		t.Fatalf("Status() = %+v", status)
	}
}
