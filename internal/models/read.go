package models

import "time"

// ReadReceipt records that a user has read one message. Uniqueness on
// (message_id, user_id) makes re-marking a no-op, so read tracking is
// idempotent by construction.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// UnreadCountResponse is the response for the unread-count endpoint.
type UnreadCountResponse struct {
	Scope  string `json:"scope"`
	Unread int    `json:"unread"`
}
