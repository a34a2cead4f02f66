package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/undertow/llm"
)

// ModelCaller is the provider collaborator. *llm.Client satisfies it.
type ModelCaller interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// OutcomeKind classifies how a run ended.
type OutcomeKind string

const (
	OutcomeSuccess       OutcomeKind = "success"
	OutcomeMaxSteps      OutcomeKind = "max_steps_reached"
	OutcomeProviderError OutcomeKind = "provider_error"
	OutcomeCancelled     OutcomeKind = "cancelled"
)

// RunOutcome is the result of one full run.
type RunOutcome struct {
	Kind      OutcomeKind
	FinalText string
	Steps     int
	Degraded  bool
	Usage     UsageMetrics
	Err       error
}

// Status is the observability snapshot exposed to the caller.
type Status struct {
	ContextUsageFraction float64 `json:"context_usage_fraction"`
	ModelName            string  `json:"model_name"`
}

// runEndGrace bounds how long the loop waits for the host to accept the
// final run-end event.
const runEndGrace = 2 * time.Second

// StepLoop drives one run: checkpoint, model call, tool dispatch,
// transcript growth, repeat. A single logical thread of control; no two
// steps of the same run execute concurrently.
type StepLoop struct {
	cfg        LoopConfig
	client     ModelCaller
	registry   *ToolRegistry
	transcript *TranscriptStore
	estimator  TokenEstimator
	evictor    *Evictor
	dispatcher *ToolDispatcher
	repairer   *HistoryRepairer
	extractor  FallbackExtractor
	emitter    *EventEmitter
	retry      llm.RetryPolicy
	logger     *slog.Logger
	runID      string

	mu    sync.Mutex
	usage UsageMetrics
	steps int
}

// StepLoopOption configures a StepLoop.
type StepLoopOption func(*StepLoop)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) StepLoopOption {
	return func(l *StepLoop) { l.logger = logger }
}

// WithEstimator sets the token estimator.
func WithEstimator(est TokenEstimator) StepLoopOption {
	return func(l *StepLoop) { l.estimator = est }
}

// WithRetryPolicy overrides the per-step retry policy.
func WithRetryPolicy(policy llm.RetryPolicy) StepLoopOption {
	return func(l *StepLoop) { l.retry = policy }
}

// WithTranscript seeds the loop with an existing transcript (resumed
// sessions, subtask inherited context).
func WithTranscript(t *TranscriptStore) StepLoopOption {
	return func(l *StepLoop) { l.transcript = t }
}

// NewStepLoop creates a StepLoop for one run.
func NewStepLoop(client ModelCaller, registry *ToolRegistry, cfg LoopConfig, opts ...StepLoopOption) *StepLoop {
	runID := uuid.New().String()
	l := &StepLoop{
		cfg:       cfg,
		client:    client,
		registry:  registry,
		estimator: NewTiktokenEstimator(),
		emitter:   NewEventEmitter(runID, cfg.EventBufferSize),
		retry:     llm.DefaultRetryPolicy(),
		logger:    slog.Default(),
		runID:     runID,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.transcript == nil {
		l.transcript = NewTranscriptStore()
	}
	l.evictor = NewEvictor(l.estimator)
	l.repairer = NewHistoryRepairer(l.estimator)
	l.dispatcher = &ToolDispatcher{
		Registry:    registry,
		MaxParallel: cfg.MaxParallelTools,
		Truncate: func(name, output string) string {
			return TruncateToolOutput(output, name, cfg.ToolOutputLimits, cfg.ToolLineLimits)
		},
	}
	l.retry.OnRetry = func(err error, attempt int, delay time.Duration) {
		l.logger.Warn("retrying provider call",
			"run_id", l.runID, "attempt", attempt, "delay", delay, "error", err)
		l.emitter.Emit(EventWarning, map[string]interface{}{
			"reason":  "provider_retry",
			"attempt": attempt,
			"delay":   delay.String(),
		})
	}
	return l
}

// RunID returns the run identifier.
func (l *StepLoop) RunID() string { return l.runID }

// Events returns the lifecycle event channel for the host.
func (l *StepLoop) Events() <-chan RunEvent { return l.emitter.Events() }

// Transcript returns the transcript store owned by this run.
func (l *StepLoop) Transcript() *TranscriptStore { return l.transcript }

// Usage returns the usage accumulated so far.
func (l *StepLoop) Usage() UsageMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage
}

// Status reports context usage and the active model for observability.
func (l *StepLoop) Status() Status {
	window := llm.ContextWindowFor(l.cfg.Model)
	return Status{
		ContextUsageFraction: float64(l.transcript.TokenCount()) / float64(window),
		ModelName:            l.cfg.Model,
	}
}

// Run drives a full run for one user input. The outcome carries the
// final text on success, or the terminating error otherwise. Lifecycle
// events arrive on Events(); the channel is closed when Run returns.
func (l *StepLoop) Run(ctx context.Context, userInput string) RunOutcome {
	defer l.emitter.Close()

	l.emitter.Emit(EventRunBegin, map[string]interface{}{"input_chars": len(userInput)})

	// Checkpoint 0: the always-available revert target, taken before
	// the user's message is appended.
	l.transcript.Checkpoint()
	userMsg := UserMessage(userInput)
	l.transcript.Append(userMsg, EstimateMessage(l.estimator, userMsg))

	decodeFailures := 0
	for {
		l.mu.Lock()
		l.steps++
		step := l.steps
		l.mu.Unlock()

		if step > l.cfg.MaxSteps {
			err := &MaxStepsReached{Limit: l.cfg.MaxSteps}
			l.logger.Error("run ended", "run_id", l.runID, "model", l.cfg.Model, "error", err)
			return l.finish(RunOutcome{Kind: OutcomeMaxSteps, Steps: step - 1, Err: err}, true)
		}

		l.emitter.Emit(EventStepBegin, map[string]interface{}{"step": step})
		l.transcript.Checkpoint()
		l.emitUsageUpdate()

		resp, err := l.callModel(ctx)
		if err != nil {
			return l.stepInterrupted(step, err)
		}

		l.recordUsage(resp)
		if reclaimed := l.evictor.Prune(l.transcript); reclaimed > 0 {
			l.logger.Info("evicted old tool output", "run_id", l.runID, "tokens_reclaimed", reclaimed)
			l.emitUsageUpdate()
		}

		calls := l.extractCalls(resp)
		if len(calls) == 0 {
			// A response with no tool calls ends the run.
			final := resp.Text()
			finalMsg := AssistantMessage(final)
			l.transcript.Append(finalMsg, EstimateMessage(l.estimator, finalMsg))
			return l.finish(RunOutcome{Kind: OutcomeSuccess, FinalText: final, Steps: step}, false)
		}

		calls, undecodable := splitUndecodable(calls)
		if len(undecodable) > 0 {
			decodeFailures++
			if decodeFailures > l.cfg.DecodeRetries {
				decodeErr := &ToolBatchDecodeError{
					CallID: undecodable[0].ID,
					Raw:    string(undecodable[0].Args),
				}
				l.logger.Error("tool batch undecodable, degrading",
					"run_id", l.runID, "model", l.cfg.Model, "error", decodeErr)
				final := "I was unable to decode the tool calls needed to finish this request, " +
					"so I am stopping here. The work completed so far is recorded above; " +
					"please retry or rephrase the request."
				finalMsg := AssistantMessage(final)
				l.transcript.Append(finalMsg, EstimateMessage(l.estimator, finalMsg))
				return l.finish(RunOutcome{Kind: OutcomeSuccess, FinalText: final, Steps: step, Degraded: true, Err: decodeErr}, false)
			}
		}

		if l.cfg.EnableLoopDetection && DetectLoop(l.transcript.History(), l.cfg.LoopDetectionWindow) {
			note := SystemNoteMessage("You appear to be repeating the same tool calls. " +
				"Step back, reconsider the approach, and try something different.")
			l.transcript.Append(note, EstimateMessage(l.estimator, note))
			l.emitter.Emit(EventLoopDetection, map[string]interface{}{"window": l.cfg.LoopDetectionWindow})
		}

		results, correction := l.dispatchCalls(ctx, calls)

		// GrowTranscript: stage the assistant message and every tool
		// return, then commit in one uninterruptible pass. A
		// cancellation observed here is deferred until after the commit.
		l.stageGrowth(resp, calls, undecodable, results)
		l.transcript.CommitStaged()

		if correction != nil {
			l.applyCorrection(correction)
			continue
		}

		if ctx.Err() != nil {
			return l.stepInterrupted(step, &llm.AbortError{ClientError: llm.ClientError{
				Message: "run cancelled", Cause: ctx.Err(),
			}})
		}
	}
}

// callModel invokes the provider under the retry policy.
func (l *StepLoop) callModel(ctx context.Context) (*llm.Response, error) {
	req := llm.Request{
		Model:    l.cfg.Model,
		Provider: l.cfg.Provider,
		Messages: l.buildMessages(),
		ToolDefs: l.toolDefs(),
	}
	return llm.Retry(ctx, l.retry, func(ctx context.Context) (*llm.Response, error) {
		return l.client.Complete(ctx, req)
	})
}

// buildMessages converts the transcript into provider wire messages,
// prepending the configured system prompt.
func (l *StepLoop) buildMessages() []llm.Message {
	history := l.transcript.History()
	msgs := make([]llm.Message, 0, len(history)+1)
	if l.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.SystemMessage(l.cfg.SystemPrompt))
	}
	for _, m := range history {
		msgs = append(msgs, toLLMMessage(m))
	}
	return msgs
}

func toLLMMessage(m Message) llm.Message {
	switch m.Role {
	case RoleUser:
		return llm.UserMessage(m.Text())
	case RoleSystem:
		return llm.SystemMessage(m.Text())
	case RoleTool:
		var parts []llm.ContentPart
		for _, tr := range m.ToolReturns() {
			raw, _ := json.Marshal(tr.Content)
			parts = append(parts, llm.ToolResultPart(tr.CallID, raw, false))
		}
		return llm.Message{Role: llm.RoleTool, Content: parts}
	default: // assistant
		var parts []llm.ContentPart
		for _, p := range m.Parts {
			switch p.Kind {
			case PartText, PartSystemNote:
				if p.Text != "" {
					parts = append(parts, llm.TextPart(p.Text))
				}
			case PartThought:
				parts = append(parts, llm.ThinkingPart(p.Text))
			case PartToolCall:
				if p.ToolCall != nil {
					parts = append(parts, llm.ToolCallPart(p.ToolCall.ID, p.ToolCall.Name, p.ToolCall.Args))
				}
			}
		}
		return llm.Message{Role: llm.RoleAssistant, Content: parts}
	}
}

func (l *StepLoop) toolDefs() []llm.ToolDefinition {
	specs := l.registry.Specs()
	defs := make([]llm.ToolDefinition, len(specs))
	for i, s := range specs {
		defs[i] = llm.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		}
	}
	return defs
}

// extractCalls returns the structured tool calls from the response, or
// the fallback extractor's recovered calls when none are structured.
func (l *StepLoop) extractCalls(resp *llm.Response) []ToolCallPart {
	var calls []ToolCallPart
	for _, tc := range resp.Message.ToolCalls() {
		calls = append(calls, ToolCallPart{ID: tc.ID, Name: tc.Name, Args: tc.Arguments})
	}
	if len(calls) == 0 {
		calls = l.extractor.Extract(resp.Text())
	}
	return calls
}

// splitUndecodable separates calls whose argument payloads are not
// valid JSON from the dispatchable rest.
func splitUndecodable(calls []ToolCallPart) (valid, undecodable []ToolCallPart) {
	for _, c := range calls {
		if len(c.Args) == 0 || !json.Valid(c.Args) {
			undecodable = append(undecodable, c)
			continue
		}
		valid = append(valid, c)
	}
	return valid, undecodable
}

func (l *StepLoop) dispatchCalls(ctx context.Context, calls []ToolCallPart) ([]ToolResult, *CorrectionRequested) {
	for _, c := range calls {
		l.emitter.Emit(EventToolCallStart, map[string]interface{}{"call_id": c.ID, "tool": c.Name})
	}
	results, correction := l.dispatcher.Dispatch(ctx, calls)
	for _, r := range results {
		l.emitter.Emit(EventToolCallEnd, map[string]interface{}{"call_id": r.CallID, "status": string(r.Status)})
	}
	return results, correction
}

// stageGrowth buffers the assistant message and all tool returns for
// the two-phase commit.
func (l *StepLoop) stageGrowth(resp *llm.Response, calls, undecodable []ToolCallPart, results []ToolResult) {
	var parts []Part
	if text := resp.Text(); text != "" {
		parts = append(parts, TextPart(text))
	}
	if reasoning := resp.Reasoning(); reasoning != "" {
		parts = append(parts, ThoughtPart(reasoning))
	}
	for _, c := range calls {
		parts = append(parts, CallPart(c.ID, c.Name, c.Args))
	}
	for _, c := range undecodable {
		parts = append(parts, CallPart(c.ID, c.Name, c.Args))
	}
	assistantMsg := Message{Role: RoleAssistant, Parts: parts}
	l.transcript.Stage(assistantMsg, EstimateMessage(l.estimator, assistantMsg))

	for _, r := range results {
		content := r.Output
		if r.Status == ToolError {
			content = fmt.Sprintf("Error: %s", r.Message)
		}
		msg := ToolReturnMessage(r.CallID, content)
		l.transcript.Stage(msg, EstimateMessage(l.estimator, msg))
	}
	for _, c := range undecodable {
		msg := ToolReturnMessage(c.ID, "Error: tool call arguments were not valid JSON; please re-issue the call")
		l.transcript.Stage(msg, EstimateMessage(l.estimator, msg))
	}
}

// applyCorrection rewinds the transcript to the requested checkpoint,
// re-checkpoints, and injects a system note describing the correction.
// This is controlled rewind, not failure.
func (l *StepLoop) applyCorrection(corr *CorrectionRequested) {
	l.transcript.RevertTo(corr.CheckpointID)
	l.transcript.Checkpoint()
	note := SystemNoteMessage(fmt.Sprintf("The conversation was rewound to an earlier point. %s", corr.Note))
	l.transcript.Append(note, EstimateMessage(l.estimator, note))
	l.logger.Info("correction applied", "run_id", l.runID, "checkpoint", corr.CheckpointID)
	l.emitter.Emit(EventCorrectionApplied, map[string]interface{}{
		"checkpoint": corr.CheckpointID,
	})
	l.emitUsageUpdate()
}

// stepInterrupted ends the run on a fatal provider error or
// cancellation, repairing the transcript before returning.
func (l *StepLoop) stepInterrupted(step int, err error) RunOutcome {
	kind := OutcomeProviderError
	var abortErr *llm.AbortError
	if errors.As(err, &abortErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = OutcomeCancelled
	}
	l.logger.Error("step interrupted",
		"run_id", l.runID, "provider", l.cfg.Provider, "model", l.cfg.Model,
		"step", step, "error", err)
	l.emitter.Emit(EventStepInterrupted, map[string]interface{}{
		"step":  step,
		"error": err.Error(),
	})
	return l.finish(RunOutcome{Kind: kind, Steps: step, Err: err}, true)
}

// finish emits the run-end event and, for abnormal ends, repairs any
// orphaned tool calls so the transcript can be reused.
func (l *StepLoop) finish(outcome RunOutcome, repair bool) RunOutcome {
	l.transcript.DiscardStaged()
	if repair {
		if n := l.repairer.Repair(l.transcript, nil); n > 0 {
			l.logger.Info("patched orphaned tool calls", "run_id", l.runID, "count", n)
		}
	}
	outcome.Usage = l.Usage()
	l.emitter.EmitWithGrace(EventRunEnd, map[string]interface{}{
		"kind":  string(outcome.Kind),
		"steps": outcome.Steps,
	}, runEndGrace)
	return outcome
}

func (l *StepLoop) recordUsage(resp *llm.Response) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage.Add(UsageMetrics{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CachedTokens: resp.Usage.CacheReadTokens,
		Cost:         llm.CostFor(resp.Model, resp.Usage),
	})
}

func (l *StepLoop) emitUsageUpdate() {
	status := l.Status()
	l.emitter.Emit(EventContextUsageUpdate, map[string]interface{}{
		"fraction": status.ContextUsageFraction,
		"tokens":   l.transcript.TokenCount(),
	})
}
