package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is one entry in a thread. Immutable after creation except IsRead,
// which flips false→true when the counterpart opens the thread.
type Message struct {
	ID            uuid.UUID `json:"id"`
	ThreadID      uuid.UUID `json:"thread_id"`
	SenderID      uuid.UUID `json:"sender_id"`
	SenderRole    string    `json:"sender_role"`
	Body          string    `json:"body"`
	AttachmentRef *string   `json:"attachment_ref,omitempty"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}

// ThreadSummary is the directory projection: thread metadata plus the last
// message and the viewer's unread count.
type ThreadSummary struct {
	Thread      Thread   `json:"thread"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
