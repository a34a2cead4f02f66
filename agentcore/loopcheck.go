package agentcore

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// toolCallSignature computes a deterministic signature for a tool call
// (name + hash of arguments).
func toolCallSignature(name string, args json.RawMessage) string {
	h := sha256.Sum256(args)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentToolCallSignatures extracts signatures from the most recent
// tool calls in the transcript, in chronological order.
func recentToolCallSignatures(history []Message, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		msg := history[i]
		if msg.Role != RoleAssistant {
			continue
		}
		calls := msg.ToolCalls()
		for j := len(calls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolCallSignature(calls[j].Name, calls[j].Args))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize tool calls follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(history []Message, windowSize int) bool {
	sigs := recentToolCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}

	return false
}
