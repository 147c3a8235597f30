package api

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/transitql/transitql/internal/engine"
	"github.com/transitql/transitql/internal/ingest"
	"github.com/transitql/transitql/internal/llm"
	"github.com/transitql/transitql/internal/query"
	"github.com/transitql/transitql/internal/schema"
)

type fakeFeeds struct {
	uploads [][]byte
	result  ingest.Result
	err     error
	runs    []ingest.Run
	limits  []int
}

func (f *fakeFeeds) IngestArchive(_ context.Context, data []byte) (ingest.Result, error) {
	f.uploads = append(f.uploads, data)
	return f.result, f.err
}

func (f *fakeFeeds) Runs(_ context.Context, limit int) ([]ingest.Run, error) {
	f.limits = append(f.limits, limit)
	return f.runs, nil
}

type fakeSchema struct {
	tables []schema.Table
	err    error
}

func (f fakeSchema) Tables(context.Context) ([]schema.Table, error) {
	return f.tables, f.err
}

type fakeExecutor struct {
	result  query.Result
	err     error
	queries []string
}

func (f *fakeExecutor) Query(_ context.Context, sqlText string) (query.Result, error) {
	f.queries = append(f.queries, sqlText)
	return f.result, f.err
}

type fakeModels struct {
	providers map[string][]string
	order     []string
}

func newFakeModels() *fakeModels {
	return &fakeModels{
		providers: map[string][]string{
			"anthropic": {"claude-3-5-sonnet-20240620"},
			"groq":      {"llama-3.1-70b-versatile"},
		},
		order: []string{"anthropic", "groq"},
	}
}

func (f *fakeModels) Models() []string {
	var out []string
	for _, provider := range f.order {
		for _, model := range f.providers[provider] {
			out = append(out, llm.Selection{Provider: provider, Model: model}.String())
		}
	}
	return out
}

func (f *fakeModels) Resolve(sel llm.Selection) (llm.Selection, error) {
	models, ok := f.providers[sel.Provider]
	if !ok || (sel.Model != "" && !slices.Contains(models, sel.Model)) {
		return llm.Selection{}, &llm.GatewayError{Provider: sel.Provider, Model: sel.Model, Kind: llm.KindUnsupported, Err: fmt.Errorf("unsupported model %q", sel.String())}
	}
	if sel.Model == "" {
		sel.Model = models[0]
	}
	return sel, nil
}

type fakeEngine struct {
	answer engine.Answer
	err    error
	convs  []engine.Conversation
}

func (f *fakeEngine) Ask(_ context.Context, conv engine.Conversation) (engine.Answer, error) {
	f.convs = append(f.convs, conv)
	return f.answer, f.err
}

func feedZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("stops.txt")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte("stop_id,stop_name,stop_lat,stop_lon\nS1,Main St,47.26,11.39\n")); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func newUploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/feeds", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
