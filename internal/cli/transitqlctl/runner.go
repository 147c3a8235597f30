package transitqlctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultTimeout = 10 * time.Second

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// commandError marks failures that happened after the arguments were
// accepted, so Run can tell them apart from usage errors.
type commandError struct {
	err error
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func fail(err error) error {
	if err == nil {
		return nil
	}
	return &commandError{err: err}
}

// Run executes one transitqlctl invocation and returns the process exit code:
// 0 on success, 1 when the request failed, 2 on usage errors.
func Run(ctx context.Context, args []string, options Options) int {
	stdout := options.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := options.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	options.Stdout = stdout
	options.Stderr = stderr

	root := NewRootCommand(options)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	var cmdErr *commandError
	if errors.As(err, &cmdErr) {
		return 1
	}
	_, _ = fmt.Fprintln(stderr, root.UsageString())
	return 2
}

// NewRootCommand builds the command tree. Options supply the flag defaults.
func NewRootCommand(options Options) *cobra.Command {
	settings := &clientSettings{
		baseURL: firstNonEmpty(options.BaseURL, "http://localhost:8080"),
		apiKey:  options.APIKey,
		timeout: durationOr(options.Timeout, defaultTimeout),
		http:    options.HTTPClient,
	}

	root := &cobra.Command{
		Use:           "transitqlctl",
		Short:         "Command line client for the TransitQL API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&settings.baseURL, "base-url", settings.baseURL, "TransitQL API base URL")
	root.PersistentFlags().StringVar(&settings.apiKey, "api-key", settings.apiKey, "API key sent as X-API-Key")
	root.PersistentFlags().DurationVar(&settings.timeout, "timeout", settings.timeout, "request timeout")
	root.PersistentFlags().BoolVar(&settings.json, "json", false, "print raw JSON responses")

	root.AddCommand(
		newHealthCommand(settings),
		newReadyCommand(settings),
		newUploadCommand(settings),
		newFeedsCommand(settings),
		newSchemaCommand(settings),
		newModelsCommand(settings),
		newQueryCommand(settings),
		newAskCommand(settings),
	)
	return root
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
