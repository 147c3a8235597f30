package llm

import (
	"errors"
	"fmt"
)

const (
	KindUnsupported = "unsupported"
	KindTransport   = "transport"
	KindStatus      = "status"
	KindEmpty       = "empty_response"
	KindTimeout     = "timeout"
	KindRateLimited = "rate_limited"
)

// GatewayError is returned for every failed model call. The engine never
// retries these.
type GatewayError struct {
	Provider string
	Model    string
	Kind     string
	Err      error
}

func (e *GatewayError) Error() string {
	target := e.Provider
	if e.Model != "" {
		target += "/" + e.Model
	}
	return fmt.Sprintf("llm %s: %s: %v", target, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func IsUnsupported(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Kind == KindUnsupported
}

// StatusError is an HTTP error response from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Code, e.Body)
}

var errEmptyResponse = errors.New("provider returned no content")
