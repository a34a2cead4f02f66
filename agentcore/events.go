package agentcore

import (
	"sync"
	"time"
)

// EventKind identifies the type of run lifecycle event.
type EventKind string

const (
	EventRunBegin           EventKind = "run_begin"
	EventStepBegin          EventKind = "step_begin"
	EventContextUsageUpdate EventKind = "context_usage_update"
	EventToolCallStart      EventKind = "tool_call_start"
	EventToolCallEnd        EventKind = "tool_call_end"
	EventCorrectionApplied  EventKind = "correction_applied"
	EventLoopDetection      EventKind = "loop_detection"
	EventStepInterrupted    EventKind = "step_interrupted"
	EventRunEnd             EventKind = "run_end"
	EventWarning            EventKind = "warning"
)

// RunEvent is a typed event emitted by the step loop.
type RunEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers typed events to the host application via a
// buffered channel. Emission never blocks the loop: a full channel
// drops the event.
type EventEmitter struct {
	runID  string
	ch     chan RunEvent
	closed bool
	mu     sync.Mutex
}

// NewEventEmitter creates an EventEmitter with a buffered channel.
func NewEventEmitter(runID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		runID: runID,
		ch:    make(chan RunEvent, bufferSize),
	}
}

// Emit sends an event to the channel. If the emitter is closed or the
// channel is full, the event is silently dropped.
func (e *EventEmitter) Emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := RunEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// EmitWithGrace sends an event, waiting up to grace for channel space
// instead of dropping immediately. Used for the final run-end event so
// a slow host still usually receives it; the loop never blocks longer.
func (e *EventEmitter) EmitWithGrace(kind EventKind, data map[string]interface{}, grace time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := RunEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	case <-time.After(grace):
	}
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan RunEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
