package agentcore

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message in the transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// PartKind is the discriminator tag for Part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolReturn PartKind = "tool_return"
	PartThought    PartKind = "thought"
	PartSystemNote PartKind = "system_note"
)

// ToolCallPart is a model-initiated tool invocation.
type ToolCallPart struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolReturnPart holds the outcome of a tool call.
type ToolReturnPart struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
}

// Part is a closed tagged union: exactly one variant pointer is non-nil
// for the non-text kinds; Text and SystemNote use the Text field.
type Part struct {
	Kind       PartKind        `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolCallPart   `json:"tool_call,omitempty"`
	ToolReturn *ToolReturnPart `json:"tool_return,omitempty"`
}

// TextPart creates a text Part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// CallPart creates a tool call Part.
func CallPart(id, name string, args json.RawMessage) Part {
	return Part{Kind: PartToolCall, ToolCall: &ToolCallPart{ID: id, Name: name, Args: args}}
}

// ReturnPart creates a tool return Part.
func ReturnPart(callID, content string) Part {
	return Part{Kind: PartToolReturn, ToolReturn: &ToolReturnPart{CallID: callID, Content: content}}
}

// ThoughtPart creates a reasoning Part.
func ThoughtPart(text string) Part {
	return Part{Kind: PartThought, Text: text}
}

// SystemNotePart creates a system-authored note Part. Notes are injected
// by the loop itself (corrections, loop warnings), never by the model.
func SystemNotePart(text string) Part {
	return Part{Kind: PartSystemNote, Text: text}
}

// Message is an immutable transcript entry. Its identity is positional:
// the index in the transcript, not a field on the message.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// UserMessage creates a user message with one text part.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// AssistantMessage creates an assistant message with one text part.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

// SystemMessage creates a system message with one text part.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// SystemNoteMessage creates a system message carrying a loop-authored note.
func SystemNoteMessage(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{SystemNotePart(text)}}
}

// ToolReturnMessage creates a tool message with one return part.
func ToolReturnMessage(callID, content string) Message {
	return Message{Role: RoleTool, Parts: []Part{ReturnPart(callID, content)}}
}

// Text returns the concatenation of all text and system note parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText || p.Kind == PartSystemNote {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns all tool call parts of the message.
func (m Message) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range m.Parts {
		if p.Kind == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolReturns returns all tool return parts of the message.
func (m Message) ToolReturns() []ToolReturnPart {
	var returns []ToolReturnPart
	for _, p := range m.Parts {
		if p.Kind == PartToolReturn && p.ToolReturn != nil {
			returns = append(returns, *p.ToolReturn)
		}
	}
	return returns
}

// Clone returns a deep copy of the message. Parts share no pointers with
// the original, so mutating the copy never aliases transcript state.
func (m Message) Clone() Message {
	parts := make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		cp := p
		if p.ToolCall != nil {
			tc := *p.ToolCall
			tc.Args = append(json.RawMessage(nil), p.ToolCall.Args...)
			cp.ToolCall = &tc
		}
		if p.ToolReturn != nil {
			tr := *p.ToolReturn
			cp.ToolReturn = &tr
		}
		parts[i] = cp
	}
	return Message{Role: m.Role, Parts: parts}
}
