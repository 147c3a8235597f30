package transitqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type clientSettings struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	json    bool
	http    *http.Client
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Body      string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("http %d %s: %s", e.Status, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func (s *clientSettings) client() *http.Client {
	if s.http != nil {
		return s.http
	}
	return &http.Client{Timeout: s.timeout}
}

func (s *clientSettings) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	endpoint := strings.TrimRight(s.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(s.apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(s.apiKey))
	}

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Body: string(payload)}
		_ = json.Unmarshal(payload, apiErr)
		return nil, apiErr
	}
	return payload, nil
}

func (s *clientSettings) getJSON(ctx context.Context, path string, out any) ([]byte, error) {
	payload, err := s.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(payload, out); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *clientSettings) postJSON(ctx context.Context, path string, in, out any) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	payload, err := s.do(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(payload, out); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *clientSettings) uploadFeed(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed archive: %w", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	return s.do(ctx, http.MethodPost, "/v1/feeds", &body, mw.FormDataContentType())
}

// decodeJSON keeps numbers as json.Number so integers print without an
// exponent.
func decodeJSON(payload []byte, out any) error {
	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func prettyJSON(payload []byte) string {
	if len(payload) == 0 {
		return "{}"
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return string(payload)
	}
	formatted, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return string(payload)
	}
	return string(formatted)
}
