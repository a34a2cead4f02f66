package agentcore

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// FallbackExtractor recovers tool calls from free text when the
// provider fails to return structured calls. Best effort: malformed
// candidates are silently skipped.
type FallbackExtractor struct{}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

type fallbackPayload struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Extract scans text for inline JSON objects of the shape
// {"tool": name, "args": {...}} and for fenced JSON code blocks
// containing the same shape. Recovered calls get synthetic ids tagged
// by origin so a later reader can tell how they were produced.
func (FallbackExtractor) Extract(text string) []ToolCallPart {
	var calls []ToolCallPart

	// Fenced code blocks are matched first and removed so the inline
	// scan does not pick the same payloads up twice.
	remaining := text
	for _, m := range codeBlockRe.FindAllStringSubmatch(text, -1) {
		if call, ok := parseFallbackPayload(m[1], "codeblock_"); ok {
			calls = append(calls, call)
		}
		remaining = strings.Replace(remaining, m[0], "", 1)
	}

	for _, candidate := range balancedObjects(remaining) {
		if call, ok := parseFallbackPayload(candidate, "fallback_"); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

func parseFallbackPayload(candidate, idPrefix string) (ToolCallPart, bool) {
	var payload fallbackPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return ToolCallPart{}, false
	}
	if payload.Tool == "" || len(payload.Args) == 0 {
		return ToolCallPart{}, false
	}
	// Args must itself be a JSON object.
	var args map[string]interface{}
	if err := json.Unmarshal(payload.Args, &args); err != nil {
		return ToolCallPart{}, false
	}
	return ToolCallPart{
		ID:   idPrefix + uuid.New().String()[:8],
		Name: payload.Tool,
		Args: payload.Args,
	}, true
}

// balancedObjects returns every brace-balanced JSON object candidate
// that opens with a "tool" key. String literals are tracked so braces
// inside them do not unbalance the scan; nested objects are tolerated.
func balancedObjects(text string) []string {
	var objects []string
	i := 0
	for i < len(text) {
		start := strings.Index(text[i:], `{"tool"`)
		if start == -1 {
			break
		}
		start += i

		depth := 0
		inString := false
		escaped := false
		end := -1
		for j := start; j < len(text); j++ {
			c := text[j]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = j
				}
			}
			if end != -1 {
				break
			}
		}

		if end == -1 {
			// Unbalanced tail; skip past this opening brace.
			i = start + 1
			continue
		}
		objects = append(objects, text[start:end+1])
		i = end + 1
	}
	return objects
}
