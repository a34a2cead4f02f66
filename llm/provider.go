package llm

import "context"

// ProviderAdapter translates between the unified request/response types
// and a concrete provider API.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold releasable resources.
type Closer interface {
	Close() error
}
