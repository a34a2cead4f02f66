// Package agentcore implements the orchestration core of an LLM-driven
// coding agent: a step loop that drives model calls and tool execution
// against a checkpointed transcript under a hard token budget.
//
// The central pieces are:
//
//   - TranscriptStore: ordered message log with checkpoint/revert and
//     token accounting.
//   - Evictor: backward-scanning pruning of old tool output to reclaim
//     token budget without losing conversation shape.
//   - ToolDispatcher: concurrent execution of read-only tool calls with
//     strictly serialized mutating calls, results in input order.
//   - FallbackExtractor: best-effort recovery of tool calls from free
//     text when the provider returns no structured calls.
//   - HistoryRepairer: patches orphaned tool calls after an abnormal
//     termination so the transcript is valid for the next provider call.
//   - StepLoop: the run state machine, including the correction/rewind
//     signal and cancellation-shielded transcript growth.
//   - RecursiveDecomposer: splits complex requests into subtasks with
//     evenly allocated iteration budgets and bounded depth.
//
// Provider access goes through the llm package; concrete tools are
// supplied by the host via the ToolRegistry.
package agentcore
