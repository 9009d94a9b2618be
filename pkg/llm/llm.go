// Package llm provides a provider-agnostic gateway for structured LLM
// calls with retry, rate limiting, and token accounting.
package llm

import (
	"context"
	"fmt"
)

// Request describes a single generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSONMode requires the response to be a JSON object. The gateway
	// uses the provider's structured-output facility when available and
	// re-prompts once on parse failure.
	JSONMode bool
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the gateway's normalized result.
type Response struct {
	Text       string
	Structured map[string]any // non-nil when JSONMode parsing succeeded
	Usage      Usage
	LatencyMS  int64
}

// Gateway is the single outbound LLM interface the pipeline depends on.
type Gateway interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Provider() string
	Model() string
}

// ExhaustedError is returned when all retries against a provider failed.
type ExhaustedError struct {
	Prov     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("llm: %s exhausted after %d attempts: %v", e.Prov, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
