// Package llm provides the provider-facing half of the orchestration
// core: a provider-agnostic client with a typed error taxonomy, retry
// with exponential backoff, and a model catalog.
//
// The orchestration loop in package agentcore only depends on this
// package's error classification (connection, timeout, rate-limited,
// server, other) and on the response shape (assistant message, zero or
// more tool calls, token usage). The wire protocol itself is handled by
// a ProviderAdapter; the default adapter is backed by gollm.
//
// Clients are plain values created by NewClient and injected where
// needed. There is deliberately no process-wide default client:
// configuration changes are handled by constructing a new Client, not
// by invalidating shared state.
package llm
