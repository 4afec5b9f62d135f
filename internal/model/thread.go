package model

import (
	"time"
)

// Thread is a persistent, append-only conversation log.
type Thread struct {
	ID                 string    `json:"id"`
	Messages           []Message `json:"messages"`
	BrandVoiceInjected bool      `json:"brand_voice_injected"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ConversationContext is a transient view of messages passed along graph
// edges. Values are immutable once constructed: consumers always build a new
// context instead of mutating one in place, so contexts may be shared across
// interleaved executions without locking.
type ConversationContext struct {
	Messages []Message `json:"messages"`
	ThreadID string    `json:"thread_id,omitempty"`
}

// Empty reports whether the context carries neither messages nor a thread id.
func (c ConversationContext) Empty() bool {
	return len(c.Messages) == 0 && c.ThreadID == ""
}
