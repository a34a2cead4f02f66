package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/martinemde/undertow/llm"
)

// scriptedCaller returns canned responses in order, repeating the last
// one when the script runs out.
type scriptedCaller struct {
	mu        sync.Mutex
	responses []*llm.Response
	errs      []error
	calls     int
}

func (s *scriptedCaller) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.responses[i], nil
}

func textResp(text string) *llm.Response {
	return &llm.Response{
		Message:      llm.AssistantMessage(text),
		FinishReason: llm.FinishReason{Reason: "stop"},
	}
}

func toolCallResp(id, name, args string) *llm.Response {
	return &llm.Response{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			Content: []llm.ContentPart{
				llm.ToolCallPart(id, name, json.RawMessage(args)),
			},
		},
		FinishReason: llm.FinishReason{Reason: "tool_calls"},
	}
}

func testConfig() LoopConfig {
	cfg := DefaultLoopConfig()
	cfg.Model = "claude-sonnet-4-5"
	cfg.Provider = "anthropic"
	cfg.EnableLoopDetection = false
	return cfg
}

func noRetry() llm.RetryPolicy {
	return llm.RetryPolicy{MaxRetries: 0}
}

func TestRunFinishesOnPlainResponse(t *testing.T) {
	client := &scriptedCaller{responses: []*llm.Response{textResp("all done")}}
	loop := NewStepLoop(client, NewToolRegistry(), testConfig(),
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "say done")
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %s, err = %v", outcome.Kind, outcome.Err)
	}
	if outcome.FinalText != "all done" {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}
	if outcome.Steps != 1 {
		t.Errorf("Steps = %d, want 1", outcome.Steps)
	}

	history := loop.Transcript().History()
	if len(history) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(history))
	}
	if history[0].Role != RoleUser || history[1].Role != RoleAssistant {
		t.Errorf("roles = %s, %s", history[0].Role, history[1].Role)
	}
	// Checkpoint 0 precedes the user message; checkpoint 1 is the step.
	if loop.Transcript().NumCheckpoints() != 2 {
		t.Errorf("NumCheckpoints = %d, want 2", loop.Transcript().NumCheckpoints())
	}
	if loop.Transcript().Checkpoints()[0].Index != 0 {
		t.Errorf("checkpoint 0 index = %d, want 0", loop.Transcript().Checkpoints()[0].Index)
	}
}

func TestRunExecutesToolsThenFinishes(t *testing.T) {
	registry := NewToolRegistry()
	var executed []string
	registerTool(registry, "read_file", true, func(ctx context.Context, args json.RawMessage) (string, error) {
		executed = append(executed, string(args))
		return "package main", nil
	})

	client := &scriptedCaller{responses: []*llm.Response{
		toolCallResp("call_1", "read_file", `{"path":"main.go"}`),
		textResp("the file is a Go program"),
	}}
	loop := NewStepLoop(client, registry, testConfig(),
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "what's in main.go?")
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %s, err = %v", outcome.Kind, outcome.Err)
	}
	if outcome.Steps != 2 {
		t.Errorf("Steps = %d, want 2", outcome.Steps)
	}
	if len(executed) != 1 {
		t.Fatalf("tool executed %d times, want 1", len(executed))
	}

	// Transcript: user, assistant(call), tool return, assistant(final).
	history := loop.Transcript().History()
	if len(history) != 4 {
		t.Fatalf("transcript len = %d, want 4", len(history))
	}
	if got := history[2].ToolReturns()[0].Content; got != "package main" {
		t.Errorf("tool return content = %q", got)
	}
}

func TestRunStepLimit(t *testing.T) {
	registry := NewToolRegistry()
	registerTool(registry, "read_file", true, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "still reading", nil
	})

	cfg := testConfig()
	cfg.MaxSteps = 2
	client := &scriptedCaller{responses: []*llm.Response{
		toolCallResp("call_1", "read_file", `{"path":"a"}`),
	}}
	loop := NewStepLoop(client, registry, cfg,
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "loop forever")
	if outcome.Kind != OutcomeMaxSteps {
		t.Fatalf("Kind = %s", outcome.Kind)
	}
	var limitErr *MaxStepsReached
	if !errors.As(outcome.Err, &limitErr) {
		t.Fatalf("Err = %T, want *MaxStepsReached", outcome.Err)
	}
	if limitErr.Limit != 2 {
		t.Errorf("Limit = %d, want 2", limitErr.Limit)
	}
	if outcome.Steps != 2 {
		t.Errorf("Steps = %d, want 2", outcome.Steps)
	}
	if client.calls != 2 {
		t.Errorf("model called %d times, want 2", client.calls)
	}
}

func TestRunCorrectionRewindsAndContinues(t *testing.T) {
	registry := NewToolRegistry()
	registerTool(registry, "check_result", false, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", &CorrectionRequested{CheckpointID: 1, Note: "The earlier result arrived; use it."}
	})

	client := &scriptedCaller{responses: []*llm.Response{
		toolCallResp("call_1", "check_result", `{}`),
		textResp("finished after rewind"),
	}}
	loop := NewStepLoop(client, registry, testConfig(),
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "do the thing")
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %s, err = %v", outcome.Kind, outcome.Err)
	}
	if outcome.FinalText != "finished after rewind" {
		t.Errorf("FinalText = %q", outcome.FinalText)
	}

	// After revert to the step-1 checkpoint: user message, injected
	// system note, final assistant message. The tool exchange is gone.
	history := loop.Transcript().History()
	if len(history) != 3 {
		t.Fatalf("transcript len = %d, want 3", len(history))
	}
	if history[1].Role != RoleSystem {
		t.Errorf("expected system note at position 1, got %s", history[1].Role)
	}
	for _, msg := range history {
		if len(msg.ToolCalls()) > 0 || len(msg.ToolReturns()) > 0 {
			t.Errorf("tool exchange survived the rewind: %+v", msg)
		}
	}
}

func TestRunProviderErrorRepairsTranscript(t *testing.T) {
	registry := NewToolRegistry()
	registerTool(registry, "read_file", true, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "content", nil
	})

	authErr := &llm.AuthenticationError{ProviderError: llm.ProviderError{
		ClientError: llm.ClientError{Message: "key revoked"},
		StatusCode:  401,
	}}
	client := &scriptedCaller{
		responses: []*llm.Response{
			toolCallResp("call_1", "read_file", `{"path":"a"}`),
			nil,
		},
		errs: []error{nil, authErr},
	}
	loop := NewStepLoop(client, registry, testConfig(),
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "read it")
	if outcome.Kind != OutcomeProviderError {
		t.Fatalf("Kind = %s", outcome.Kind)
	}
	var gotAuth *llm.AuthenticationError
	if !errors.As(outcome.Err, &gotAuth) {
		t.Errorf("Err = %T", outcome.Err)
	}

	// Every tool call in the transcript has a matching return.
	returned := make(map[string]bool)
	for _, msg := range loop.Transcript().History() {
		for _, tr := range msg.ToolReturns() {
			returned[tr.CallID] = true
		}
	}
	for _, msg := range loop.Transcript().History() {
		for _, tc := range msg.ToolCalls() {
			if !returned[tc.ID] {
				t.Errorf("orphaned tool call %s after provider error", tc.ID)
			}
		}
	}
}

func TestRunCancellation(t *testing.T) {
	client := &scriptedCaller{
		responses: []*llm.Response{nil},
		errs:      []error{fmt.Errorf("call aborted: %w", context.Canceled)},
	}
	loop := NewStepLoop(client, NewToolRegistry(), testConfig(),
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "anything")
	if outcome.Kind != OutcomeCancelled {
		t.Fatalf("Kind = %s, want cancelled", outcome.Kind)
	}
}

func TestRunFallbackExtraction(t *testing.T) {
	registry := NewToolRegistry()
	executed := 0
	registerTool(registry, "write_file", false, func(ctx context.Context, args json.RawMessage) (string, error) {
		executed++
		return "written", nil
	})

	client := &scriptedCaller{responses: []*llm.Response{
		textResp(`I'll save it now: {"tool":"write_file","args":{"path":"a.py","content":"x"}}`),
		textResp("saved"),
	}}
	loop := NewStepLoop(client, registry, testConfig(),
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "save the file")
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %s, err = %v", outcome.Kind, outcome.Err)
	}
	if executed != 1 {
		t.Errorf("tool executed %d times, want 1 (recovered via fallback)", executed)
	}
}

func TestRunDegradesOnUndecodablePayload(t *testing.T) {
	cfg := testConfig()
	cfg.DecodeRetries = 1
	client := &scriptedCaller{responses: []*llm.Response{
		toolCallResp("call_1", "read_file", `{broken`),
	}}
	loop := NewStepLoop(client, NewToolRegistry(), cfg,
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "do something")
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %s, want success (degraded)", outcome.Kind)
	}
	if !outcome.Degraded {
		t.Error("outcome should be marked degraded")
	}
	var decodeErr *ToolBatchDecodeError
	if !errors.As(outcome.Err, &decodeErr) {
		t.Errorf("Err = %T, want *ToolBatchDecodeError", outcome.Err)
	}
	if outcome.FinalText == "" {
		t.Error("degraded run should still produce a final message")
	}
	// One re-ask before degrading: two model calls total.
	if client.calls != 2 {
		t.Errorf("model called %d times, want 2", client.calls)
	}
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	client := &scriptedCaller{responses: []*llm.Response{textResp("done")}}
	loop := NewStepLoop(client, NewToolRegistry(), testConfig(),
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	outcome := loop.Run(context.Background(), "hello")
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %s", outcome.Kind)
	}

	var kinds []EventKind
	for ev := range loop.Events() {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) < 3 {
		t.Fatalf("kinds = %v, want at least run_begin, step_begin, run_end", kinds)
	}
	if kinds[0] != EventRunBegin {
		t.Errorf("first event = %s, want run_begin", kinds[0])
	}
	if kinds[len(kinds)-1] != EventRunEnd {
		t.Errorf("last event = %s, want run_end", kinds[len(kinds)-1])
	}
	sawStep := false
	for _, k := range kinds {
		if k == EventStepBegin {
			sawStep = true
		}
	}
	if !sawStep {
		t.Errorf("no step_begin event in %v", kinds)
	}
}

func TestStatusReportsContextFraction(t *testing.T) {
	client := &scriptedCaller{responses: []*llm.Response{textResp("ok")}}
	loop := NewStepLoop(client, NewToolRegistry(), testConfig(),
		WithEstimator(HeuristicEstimator{}), WithRetryPolicy(noRetry()))

	loop.Transcript().Append(UserMessage("hi"), 20_000)
	status := loop.Status()
	if status.ModelName != "claude-sonnet-4-5" {
		t.Errorf("ModelName = %q", status.ModelName)
	}
	// 20k tokens of a 200k window.
	if status.ContextUsageFraction < 0.09 || status.ContextUsageFraction > 0.11 {
		t.Errorf("ContextUsageFraction = %v, want ~0.1", status.ContextUsageFraction)
	}
}
