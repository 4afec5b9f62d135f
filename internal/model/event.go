package model

import (
	"time"
)

// EventType represents the type of canvas event.
type EventType string

const (
	EventTypeNodeOutput EventType = "node_output"
	EventTypeNodeError  EventType = "node_error"
)

// NodeEvent represents an event produced by a node execution.
type NodeEvent struct {
	ID        string              `json:"id"`
	NodeID    string              `json:"node_id"`
	Type      EventType           `json:"type"`
	Content   Content             `json:"content,omitempty"`
	Context   ConversationContext `json:"context,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	Sequence  uint64              `json:"sequence,omitempty"`
}
