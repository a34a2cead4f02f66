package agentcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxParallelTools bounds the fan-out within one read-only group.
const DefaultMaxParallelTools = 4

// ToolDispatcher executes a batch of tool calls under the concurrency
// policy: consecutive read-only calls run concurrently with bounded
// fan-out, mutating calls run strictly one at a time after everything
// issued before them in the batch has finished. Result order always
// matches input order.
type ToolDispatcher struct {
	Registry    *ToolRegistry
	MaxParallel int

	// Truncate, when set, is applied to each successful output before
	// it becomes a result.
	Truncate func(toolName, output string) string
}

// NewToolDispatcher creates a dispatcher with the default fan-out bound.
func NewToolDispatcher(registry *ToolRegistry) *ToolDispatcher {
	return &ToolDispatcher{
		Registry:    registry,
		MaxParallel: DefaultMaxParallelTools,
	}
}

// Dispatch runs the batch and returns one result per call, in input
// order. A failing call produces a status=error result and does not
// abort its siblings. At most one correction signal is captured per
// batch; any further corrections in the same batch degrade to error
// results.
func (d *ToolDispatcher) Dispatch(ctx context.Context, calls []ToolCallPart) ([]ToolResult, *CorrectionRequested) {
	results := make([]ToolResult, len(calls))
	var correction *CorrectionRequested
	var correctionMu sync.Mutex

	maxParallel := d.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallelTools
	}

	i := 0
	for i < len(calls) {
		if !d.Registry.IsMutating(calls[i].Name) {
			// Collect the run of consecutive read-only calls.
			j := i
			for j < len(calls) && !d.Registry.IsMutating(calls[j].Name) {
				j++
			}
			var wg sync.WaitGroup
			sem := make(chan struct{}, maxParallel)
			for k := i; k < j; k++ {
				wg.Add(1)
				go func(k int) {
					defer wg.Done()
					sem <- struct{}{}
					defer func() { <-sem }()
					results[k] = d.executeOne(ctx, calls[k], &correction, &correctionMu)
				}(k)
			}
			wg.Wait()
			i = j
		} else {
			// Mutating calls run alone; everything issued before has
			// already completed by construction.
			results[i] = d.executeOne(ctx, calls[i], &correction, &correctionMu)
			i++
		}
	}
	return results, correction
}

func (d *ToolDispatcher) executeOne(ctx context.Context, call ToolCallPart, correction **CorrectionRequested, mu *sync.Mutex) ToolResult {
	tool := d.Registry.Get(call.Name)
	if tool == nil {
		return ToolResult{
			CallID:  call.ID,
			Status:  ToolError,
			Message: fmt.Sprintf("unknown tool: %s", call.Name),
		}
	}

	output, err := tool.Executor(ctx, call.Args)
	if err != nil {
		var corr *CorrectionRequested
		if errors.As(err, &corr) {
			mu.Lock()
			defer mu.Unlock()
			if *correction == nil {
				*correction = corr
				return ToolResult{CallID: call.ID, Status: ToolOK, Message: "correction accepted"}
			}
			// Single-slot invariant: only one pending correction per batch.
			return ToolResult{
				CallID:  call.ID,
				Status:  ToolError,
				Message: "a correction is already pending for this batch",
			}
		}
		return ToolResult{CallID: call.ID, Status: ToolError, Message: err.Error()}
	}

	if d.Truncate != nil {
		output = d.Truncate(call.Name, output)
	}
	return ToolResult{CallID: call.ID, Status: ToolOK, Output: output}
}
