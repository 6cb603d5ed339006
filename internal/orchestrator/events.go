// Package orchestrator owns per-session chat streams: bounded event buffers
// with drop-oldest overflow, subscriber fan-out, heartbeats, and a producer
// task per enqueued message.
package orchestrator

import (
	"time"

	"github.com/limbodancer/limbodancer-mcp/internal/fault"
)

// EventType enumerates the chat stream events.
type EventType string

const (
	EventToken     EventType = "token"
	EventCompleted EventType = "message.completed"
	EventError     EventType = "error"
	EventPing      EventType = "ping"
)

// Event is one element of a session's stream.
type Event struct {
	Type          EventType    `json:"type"`
	SessionID     string       `json:"sessionId,omitempty"`
	CorrelationID string       `json:"correlationId,omitempty"`
	Content       string       `json:"content,omitempty"`
	Error         *fault.Error `json:"error,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// Terminal reports whether the event ends its correlation's stream.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}
