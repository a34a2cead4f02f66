package agentcore

import (
	"encoding/json"
	"testing"
)

func TestRepairOrphanedToolCall(t *testing.T) {
	store := NewTranscriptStore()
	store.Append(UserMessage("do things"), 3)
	store.Append(Message{Role: RoleAssistant, Parts: []Part{
		CallPart("call_done", "read_file", json.RawMessage(`{"path":"a"}`)),
		CallPart("call_orphan", "write_file", json.RawMessage(`{"path":"b"}`)),
	}}, 10)
	store.Append(ToolReturnMessage("call_done", "contents"), 5)

	repairer := NewHistoryRepairer(HeuristicEstimator{})
	n := repairer.Repair(store, nil)
	if n != 1 {
		t.Fatalf("repaired %d, want 1", n)
	}

	returnsByID := make(map[string]int)
	for _, msg := range store.History() {
		for _, tr := range msg.ToolReturns() {
			returnsByID[tr.CallID]++
		}
	}
	if returnsByID["call_orphan"] != 1 {
		t.Errorf("call_orphan has %d returns, want 1", returnsByID["call_orphan"])
	}
	if returnsByID["call_done"] != 1 {
		t.Errorf("call_done has %d returns, want 1 (no duplicate)", returnsByID["call_done"])
	}

	// The synthetic return is spliced immediately after the owning message.
	history := store.History()
	if history[2].Role != RoleTool || history[2].ToolReturns()[0].CallID != "call_orphan" {
		t.Errorf("synthetic return misplaced: %+v", history[2])
	}
	if history[2].ToolReturns()[0].Content != DefaultIncompleteContent {
		t.Errorf("content = %q", history[2].ToolReturns()[0].Content)
	}
}

func TestRepairSkipsMarkedIDs(t *testing.T) {
	store := NewTranscriptStore()
	store.Append(Message{Role: RoleAssistant, Parts: []Part{
		CallPart("call_retry", "shell", json.RawMessage(`{}`)),
	}}, 5)

	repairer := NewHistoryRepairer(HeuristicEstimator{})
	n := repairer.Repair(store, map[string]bool{"call_retry": true})
	if n != 0 {
		t.Errorf("repaired %d, want 0 (id has a retry marker)", n)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestRepairNoOrphans(t *testing.T) {
	store := NewTranscriptStore()
	store.Append(Message{Role: RoleAssistant, Parts: []Part{
		CallPart("call_1", "grep", json.RawMessage(`{}`)),
	}}, 5)
	store.Append(ToolReturnMessage("call_1", "match"), 2)

	repairer := NewHistoryRepairer(HeuristicEstimator{})
	if n := repairer.Repair(store, nil); n != 0 {
		t.Errorf("repaired %d, want 0", n)
	}
}

func TestRepairMultipleOrphansSameMessage(t *testing.T) {
	store := NewTranscriptStore()
	store.Append(Message{Role: RoleAssistant, Parts: []Part{
		CallPart("call_a", "grep", json.RawMessage(`{}`)),
		CallPart("call_b", "glob", json.RawMessage(`{}`)),
	}}, 5)

	repairer := NewHistoryRepairer(HeuristicEstimator{})
	if n := repairer.Repair(store, nil); n != 2 {
		t.Fatalf("repaired %d, want 2", n)
	}
	history := store.History()
	if len(history) != 3 {
		t.Fatalf("Len = %d, want 3", len(history))
	}
	if history[1].ToolReturns()[0].CallID != "call_a" {
		t.Errorf("first synthetic return = %+v", history[1])
	}
	if history[2].ToolReturns()[0].CallID != "call_b" {
		t.Errorf("second synthetic return = %+v", history[2])
	}
}
