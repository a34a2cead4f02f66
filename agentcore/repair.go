package agentcore

// DefaultIncompleteContent is the synthetic return content for orphaned
// tool calls patched after an abnormal termination.
const DefaultIncompleteContent = "Tool execution was interrupted before completion"

// HistoryRepairer restores the invariant that every tool-call id has
// exactly one matching tool-return before the next provider call. It
// runs after abnormal terminations (provider error, cancellation).
type HistoryRepairer struct {
	IncompleteContent string
	Estimator         TokenEstimator
}

// NewHistoryRepairer creates a repairer with the default content string.
func NewHistoryRepairer(est TokenEstimator) *HistoryRepairer {
	return &HistoryRepairer{
		IncompleteContent: DefaultIncompleteContent,
		Estimator:         est,
	}
}

// Repair walks the transcript and synthesizes one tool return for each
// orphaned tool-call id, spliced immediately after the owning message.
// Ids in skip (explicit retry or error markers) are left alone. Returns
// the number of synthetic returns inserted.
func (r *HistoryRepairer) Repair(t *TranscriptStore, skip map[string]bool) int {
	history := t.History()

	returned := make(map[string]bool)
	for _, msg := range history {
		for _, tr := range msg.ToolReturns() {
			returned[tr.CallID] = true
		}
	}

	type orphan struct {
		msgIdx int
		callID string
	}
	var orphans []orphan
	for i, msg := range history {
		for _, tc := range msg.ToolCalls() {
			if returned[tc.ID] || skip[tc.ID] {
				continue
			}
			orphans = append(orphans, orphan{msgIdx: i, callID: tc.ID})
		}
	}

	// Splice back-to-front so earlier indices stay valid. Orphans from
	// the same message are spliced in reverse call order, which leaves
	// them in call order after insertion.
	for i := len(orphans) - 1; i >= 0; i-- {
		o := orphans[i]
		msg := ToolReturnMessage(o.callID, r.IncompleteContent)
		t.spliceAfter(o.msgIdx, msg, EstimateMessage(r.Estimator, msg))
	}
	return len(orphans)
}
