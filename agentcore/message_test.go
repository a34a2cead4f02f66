package agentcore

import (
	"encoding/json"
	"testing"
)

func TestMessageAccessors(t *testing.T) {
	msg := Message{Role: RoleAssistant, Parts: []Part{
		TextPart("working on it"),
		ThoughtPart("hmm"),
		CallPart("c1", "grep", json.RawMessage(`{"pattern":"x"}`)),
	}}
	if msg.Text() != "working on it" {
		t.Errorf("Text() = %q", msg.Text())
	}
	calls := msg.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "grep" {
		t.Errorf("ToolCalls() = %+v", calls)
	}
	if len(msg.ToolReturns()) != 0 {
		t.Error("unexpected tool returns")
	}
}

func TestSystemNoteIncludedInText(t *testing.T) {
	msg := SystemNoteMessage("conversation rewound")
	if msg.Text() != "conversation rewound" {
		t.Errorf("Text() = %q", msg.Text())
	}
	if msg.Parts[0].Kind != PartSystemNote {
		t.Errorf("Kind = %s", msg.Parts[0].Kind)
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	original := Message{Role: RoleAssistant, Parts: []Part{
		CallPart("c1", "grep", json.RawMessage(`{"pattern":"x"}`)),
		ReturnPart("c1", "found it"),
	}}
	clone := original.Clone()
	clone.Parts[0].ToolCall.Name = "changed"
	clone.Parts[1].ToolReturn.Content = "changed"

	if original.Parts[0].ToolCall.Name != "grep" {
		t.Error("clone aliases tool call")
	}
	if original.Parts[1].ToolReturn.Content != "found it" {
		t.Error("clone aliases tool return")
	}
}

func TestEstimateMessageCountsAllParts(t *testing.T) {
	est := HeuristicEstimator{}
	msg := Message{Role: RoleAssistant, Parts: []Part{
		TextPart("12345678"), // 2 tokens
		CallPart("c1", "grep", json.RawMessage(`{"pattern":"abc"}`)),
		ReturnPart("c1", "12345678"), // 2 tokens
	}}
	got := EstimateMessage(est, msg)
	// text 2 + name 1 + args 4 + return 2
	want := 2 + len("grep")/4 + len(`{"pattern":"abc"}`)/4 + 2
	if got != want {
		t.Errorf("EstimateMessage = %d, want %d", got, want)
	}
}
