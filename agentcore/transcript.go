package agentcore

import (
	"fmt"
	"sync"
)

// Checkpoint records a revert target: a position in the transcript and
// the token count at the moment it was taken.
type Checkpoint struct {
	Index      int `json:"index"`
	TokenCount int `json:"token_count"`
}

// TranscriptStore is the ordered message log for one run. It is a
// single-writer resource: only the owning step loop (and the Evictor it
// invokes) mutate it. The mutex exists for concurrent readers such as
// Status observers, not for concurrent writers.
type TranscriptStore struct {
	mu          sync.RWMutex
	messages    []Message
	tokenCount  int
	checkpoints []Checkpoint
	staged      []stagedMessage
}

type stagedMessage struct {
	msg    Message
	tokens int
}

// NewTranscriptStore creates an empty transcript.
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{}
}

// RestoreTranscript rebuilds a store from persisted state: the message
// list, the running token count, and the checkpoint list. Checkpoint
// positions outside the message range are a corrupt-state fault and
// panic.
func RestoreTranscript(messages []Message, tokenCount int, checkpoints []Checkpoint) *TranscriptStore {
	for i, cp := range checkpoints {
		if cp.Index < 0 || cp.Index > len(messages) {
			panic(fmt.Sprintf("agentcore: restored checkpoint %d has index %d outside [0, %d]", i, cp.Index, len(messages)))
		}
	}
	return &TranscriptStore{
		messages:    append([]Message(nil), messages...),
		tokenCount:  tokenCount,
		checkpoints: append([]Checkpoint(nil), checkpoints...),
	}
}

// Append adds a message to the end of the transcript. The caller
// supplies the token estimate for the appended content.
func (t *TranscriptStore) Append(msg Message, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
	t.tokenCount += tokens
}

// Checkpoint records the current position and token count, returning
// the new checkpoint's id. Ids are assigned sequentially from 0.
func (t *TranscriptStore) Checkpoint() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkpoints = append(t.checkpoints, Checkpoint{
		Index:      len(t.messages),
		TokenCount: t.tokenCount,
	})
	return len(t.checkpoints) - 1
}

// RevertTo truncates the transcript to the position recorded by
// checkpoint id, restores the token count recorded there, and discards
// every checkpoint created after it. An id outside [0, NumCheckpoints)
// is a programming error and panics.
func (t *TranscriptStore) RevertTo(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.checkpoints) {
		panic(fmt.Sprintf("agentcore: revert to invalid checkpoint %d (have %d)", id, len(t.checkpoints)))
	}
	cp := t.checkpoints[id]
	t.messages = t.messages[:cp.Index]
	t.tokenCount = cp.TokenCount
	t.checkpoints = t.checkpoints[:id+1]
}

// History returns a copy of the transcript. The messages themselves are
// shared; callers must not mutate parts in place.
func (t *TranscriptStore) History() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := make([]Message, len(t.messages))
	copy(h, t.messages)
	return h
}

// Len returns the number of messages in the transcript.
func (t *TranscriptStore) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// TokenCount returns the running token total.
func (t *TranscriptStore) TokenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tokenCount
}

// NumCheckpoints returns the number of checkpoints taken so far.
func (t *TranscriptStore) NumCheckpoints() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.checkpoints)
}

// Checkpoints returns a copy of the checkpoint list.
func (t *TranscriptStore) Checkpoints() []Checkpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cps := make([]Checkpoint, len(t.checkpoints))
	copy(cps, t.checkpoints)
	return cps
}

// Stage buffers a message without applying it. Staged messages become
// visible only after CommitStaged; a cancellation observed before the
// commit leaves the transcript untouched.
func (t *TranscriptStore) Stage(msg Message, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged = append(t.staged, stagedMessage{msg: msg, tokens: tokens})
}

// CommitStaged applies all staged messages in one uninterruptible pass
// and clears the buffer. Returns the number of messages applied.
func (t *TranscriptStore) CommitStaged() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.staged)
	for _, s := range t.staged {
		t.messages = append(t.messages, s.msg)
		t.tokenCount += s.tokens
	}
	t.staged = nil
	return n
}

// DiscardStaged drops the staged buffer without applying it.
func (t *TranscriptStore) DiscardStaged() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staged = nil
}

// StagedLen returns the number of messages currently staged.
func (t *TranscriptStore) StagedLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.staged)
}

// spliceAfter inserts a message immediately after position idx and
// shifts later checkpoints forward so their positions stay valid. Used
// by the repairer to place a synthetic tool return next to its call.
func (t *TranscriptStore) spliceAfter(idx int, msg Message, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.messages) {
		panic(fmt.Sprintf("agentcore: splice after invalid index %d (have %d)", idx, len(t.messages)))
	}
	t.messages = append(t.messages, Message{})
	copy(t.messages[idx+2:], t.messages[idx+1:])
	t.messages[idx+1] = msg
	t.tokenCount += tokens
	for i := range t.checkpoints {
		if t.checkpoints[i].Index > idx {
			t.checkpoints[i].Index++
		}
	}
}
