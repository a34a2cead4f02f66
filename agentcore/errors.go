package agentcore

import "fmt"

// CorrectionRequested is the rewind signal: a tool executor returns it
// to ask the loop to roll the transcript back to an earlier checkpoint
// and continue from there with the note injected. It is control flow,
// not a failure.
type CorrectionRequested struct {
	CheckpointID int
	Note         string
}

func (e *CorrectionRequested) Error() string {
	return fmt.Sprintf("correction requested: revert to checkpoint %d", e.CheckpointID)
}

// MaxStepsReached is the deterministic fault raised when a run exceeds
// its step limit.
type MaxStepsReached struct {
	Limit int
}

func (e *MaxStepsReached) Error() string {
	return fmt.Sprintf("run exceeded the step limit of %d", e.Limit)
}

// DepthLimitError is raised when decomposition would exceed the
// configured maximum depth.
type DepthLimitError struct {
	MaxDepth int
}

func (e *DepthLimitError) Error() string {
	return fmt.Sprintf("decomposition depth limit of %d reached", e.MaxDepth)
}

// ToolBatchDecodeError reports a structured tool-call payload that
// remained unparseable after the decode retry budget. The loop converts
// it into a degraded final answer instead of aborting the run.
type ToolBatchDecodeError struct {
	CallID string
	Raw    string
	Cause  error
}

func (e *ToolBatchDecodeError) Error() string {
	return fmt.Sprintf("tool call %s: undecodable arguments payload", e.CallID)
}

func (e *ToolBatchDecodeError) Unwrap() error { return e.Cause }
