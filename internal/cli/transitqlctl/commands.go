package transitqlctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type feedRun struct {
	RunID      string           `json:"run_id"`
	Status     string           `json:"status"`
	StartedAt  string           `json:"started_at"`
	Files      []string         `json:"files"`
	TableRows  map[string]int64 `json:"table_rows"`
	Geometry   bool             `json:"geometry_indexed"`
	ArchiveKey string           `json:"archive_key"`
	Error      string           `json:"error"`
}

type queryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

type chatAnswer struct {
	Summary  string           `json:"summary"`
	Columns  []string         `json:"columns"`
	Table    []map[string]any `json:"table"`
	Total    int              `json:"total_rows"`
	Partial  bool             `json:"truncated"`
	Query    string           `json:"query"`
	Model    string           `json:"model"`
	Attempts []struct {
		Number int    `json:"number"`
		Origin string `json:"origin"`
		Status string `json:"status"`
	} `json:"attempts"`
	Verdict struct {
		Raw        string `json:"raw"`
		Suspicious bool   `json:"suspicious"`
	} `json:"verdict"`
}

func newHealthCommand(s *clientSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check API liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := s.getJSON(cmd.Context(), "/v1/health", nil)
			if err != nil {
				return fail(err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(payload))
			return nil
		},
	}
}

func newReadyCommand(s *clientSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check API readiness, including the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := s.getJSON(cmd.Context(), "/v1/ready", nil)
			if err != nil {
				return fail(err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(payload))
			return nil
		},
	}
}

func newUploadCommand(s *clientSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <feed.zip>",
		Short: "Upload a GTFS archive and replace the loaded feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := s.uploadFeed(cmd.Context(), args[0])
			if err != nil {
				return fail(err)
			}
			if s.json {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(payload))
				return nil
			}
			var result struct {
				Run feedRun `json:"run"`
			}
			if err := decodeJSON(payload, &result); err != nil {
				return fail(err)
			}
			renderRunDetail(cmd.OutOrStdout(), result.Run)
			return nil
		},
	}
}

func newFeedsCommand(s *clientSettings) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "List recent feed ingestion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/feeds"
			if limit > 0 {
				path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
			}
			var result struct {
				Feeds []feedRun `json:"feeds"`
			}
			payload, err := s.getJSON(cmd.Context(), path, &result)
			if err != nil {
				return fail(err)
			}
			if s.json {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(payload))
				return nil
			}
			renderRuns(cmd.OutOrStdout(), result.Feeds)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs to list")
	return cmd
}

func newSchemaCommand(s *clientSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema description given to the language model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result struct {
				Schema string `json:"schema"`
			}
			payload, err := s.getJSON(cmd.Context(), "/v1/schema", &result)
			if err != nil {
				return fail(err)
			}
			if s.json {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(payload))
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(result.Schema, "\n"))
			return nil
		},
	}
}

func newModelsCommand(s *clientSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the language models the server can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var models []string
			payload, err := s.getJSON(cmd.Context(), "/v1/models", &models)
			if err != nil {
				return fail(err)
			}
			if s.json {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(payload))
				return nil
			}
			for _, model := range models {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), model)
			}
			return nil
		},
	}
}

func newQueryCommand(s *clientSettings) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SQL query against the loaded feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := map[string]any{"query": args[0]}
			if outPath != "" {
				request["format"] = "parquet"
				body, err := json.Marshal(request)
				if err != nil {
					return fail(err)
				}
				payload, err := s.do(cmd.Context(), http.MethodPost, "/v1/query", bytes.NewReader(body), "application/json")
				if err != nil {
					return fail(err)
				}
				if err := os.WriteFile(outPath, payload, 0o644); err != nil {
					return fail(fmt.Errorf("write %s: %w", outPath, err))
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(payload), outPath)
				return nil
			}

			var result queryResult
			payload, err := s.postJSON(cmd.Context(), "/v1/query", request, &result)
			if err != nil {
				return fail(err)
			}
			if s.json {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(payload))
				return nil
			}
			renderTable(cmd.OutOrStdout(), result.Columns, result.Rows)
			if result.Truncated {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "(result truncated by the server row limit)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the result as a Parquet file instead of printing it")
	return cmd
}

func newAskCommand(s *clientSettings) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a natural-language question about the loaded feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := map[string]any{
				"messages": []map[string]string{{"role": "user", "content": args[0]}},
			}
			if strings.TrimSpace(model) != "" {
				request["company_model"] = strings.TrimSpace(model)
			}
			var answer chatAnswer
			payload, err := s.postJSON(cmd.Context(), "/v1/chat", request, &answer)
			if err != nil {
				return fail(err)
			}
			if s.json {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), prettyJSON(payload))
				return nil
			}
			renderAnswer(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", `model selection such as "groq - llama-3.1-70b-versatile"`)
	return cmd
}
