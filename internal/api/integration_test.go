//go:build integration

package api

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/transitql/transitql/internal/ingest"
	"github.com/transitql/transitql/internal/migrations"
	"github.com/transitql/transitql/internal/schema"
	"github.com/transitql/transitql/internal/store/postgres"
)

var integrationFeed = map[string]string{
	"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\nIVB,Innsbrucker Verkehrsbetriebe,https://ivb.at,Europe/Vienna\n",
	"stops.txt":  "stop_id,stop_name,stop_lat,stop_lon\nS1,Hauptbahnhof,47.2633,11.4008\nS2,Marktplatz,47.2685,11.3935\nS3,Technik,47.2640,11.3440\n",
	"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\nR1,IVB,1,Mühlau - Bergisel,0\nR2,IVB,F,Flughafen,3\n",
	"trips.txt":  "route_id,service_id,trip_id\nR1,WD,T1\nR2,WD,T2\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,5:00:00,5:00:00,S1,1\nT1,05:07:00,05:07:00,S2,2\nT2,24:10:00,24:10:00,S3,1\n",
}

func TestFeedUploadQueryAndReingestAgainstPostgres(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("TRANSITQL_TEST_DSN"))
	if adminDSN == "" {
		t.Skip("TRANSITQL_TEST_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, postgres.DBConfig{DSN: testDSN})
	if err != nil {
		t.Fatalf("postgres.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}

	service, err := ingest.NewService(postgres.NewLoader(db), postgres.NewFeedHistory(db))
	if err != nil {
		t.Fatalf("ingest.NewService() error = %v", err)
	}
	cfg := loadTestConfig(t, nil)
	h := NewHandler(cfg, Dependencies{
		Feeds:    service,
		Schema:   schema.NewCatalog(db),
		Executor: postgres.NewExecutor(db, postgres.WithMaxRows(1000)),
	})

	archive := buildArchive(t, integrationFeed)
	first := uploadArchive(t, h, archive)
	firstSchema := getJSON(t, h, "/v1/schema")

	second := uploadArchive(t, h, archive)
	secondSchema := getJSON(t, h, "/v1/schema")

	if firstSchema["schema"] != secondSchema["schema"] {
		t.Fatalf("schema changed after re-ingest:\n%s\n---\n%s", firstSchema["schema"], secondSchema["schema"])
	}
	firstRows, _ := first["run"].(map[string]any)["table_rows"].(map[string]any)
	secondRows, _ := second["run"].(map[string]any)["table_rows"].(map[string]any)
	for table, count := range firstRows {
		if secondRows[table] != count {
			t.Fatalf("row count for %s = %v after re-ingest, want %v", table, secondRows[table], count)
		}
	}

	tables, _ := secondSchema["tables"].([]any)
	if len(tables) != len(integrationFeed) {
		t.Fatalf("schema lists %d tables, want %d", len(tables), len(integrationFeed))
	}
	rendered, _ := secondSchema["schema"].(string)
	if !strings.Contains(rendered, "geometry GEOMETRY") {
		t.Fatalf("stops geometry missing from schema: %s", rendered)
	}

	var indexCount int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM pg_indexes WHERE tablename = 'stops' AND indexname = 'stops_geometry_idx'`).Scan(&indexCount); err != nil {
		t.Fatalf("query pg_indexes: %v", err)
	}
	if indexCount != 1 {
		t.Fatalf("stops_geometry_idx count = %d", indexCount)
	}

	nearest := postQueryJSON(t, h, `SELECT stop_name FROM stops ORDER BY geometry <-> ST_SetSRID(ST_MakePoint(11.40, 47.263), 4326) LIMIT 1`, http.StatusOK)
	rows, _ := nearest["rows"].([]any)
	if len(rows) != 1 || rows[0].([]any)[0] != "Hauptbahnhof" {
		t.Fatalf("nearest stop rows = %v", nearest["rows"])
	}

	empty := postQueryJSON(t, h, `SELECT * FROM routes WHERE route_short_name = 'ZZZ_NONEXISTENT'`, http.StatusOK)
	if empty["row_count"] != float64(0) {
		t.Fatalf("row_count = %v", empty["row_count"])
	}

	times := postQueryJSON(t, h, `SELECT arrival_time FROM stop_times ORDER BY trip_id, stop_sequence`, http.StatusOK)
	timeRows, _ := times["rows"].([]any)
	if len(timeRows) != 3 || timeRows[0].([]any)[0] != "05:00:00" || timeRows[2].([]any)[0] != "24:10:00" {
		t.Fatalf("arrival times = %v", times["rows"])
	}

	failed := postQueryJSON(t, h, `SELECT * FROM routez`, http.StatusBadRequest)
	if message, _ := failed["message"].(string); !strings.Contains(message, "routez") {
		t.Fatalf("message = %v", failed["message"])
	}

	feeds := getJSON(t, h, "/v1/feeds")
	if runs, _ := feeds["feeds"].([]any); len(runs) != 2 {
		t.Fatalf("feeds = %v", feeds["feeds"])
	}
}

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create("feed/" + name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func uploadArchive(t *testing.T, handler http.Handler, archive []byte) map[string]any {
	t.Helper()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newUploadRequest(t, "feed.zip", archive))
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rr.Code, rr.Body.String())
	}
	return decodeBody(t, rr)
}

func getJSON(t *testing.T, handler http.Handler, path string) map[string]any {
	t.Helper()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET %s status = %d, body = %s", path, rr.Code, rr.Body.String())
	}
	return decodeBody(t, rr)
}

func postQueryJSON(t *testing.T, handler http.Handler, sqlText string, expectedStatus int) map[string]any {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"query": sqlText})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(payload)))
	if rr.Code != expectedStatus {
		t.Fatalf("query status = %d, want %d, body = %s", rr.Code, expectedStatus, rr.Body.String())
	}
	return decodeBody(t, rr)
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	adminDBName := strings.TrimPrefix(parsed.Path, "/")
	if adminDBName == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("transitql_it_api_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name
	testDSN := testURL.String()

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testDSN, cleanup
}
