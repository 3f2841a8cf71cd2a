package models

import "time"

// MessageKind discriminates the message payload.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
	KindLink MessageKind = "link"
)

// Message is the central entity: one entry in a conversation's timeline.
// Confirmed messages carry a server-assigned id and timestamp; a pending
// message carries a locally generated temporary id until the change feed
// delivers its confirmed counterpart.
type Message struct {
	// ID is the server-assigned identifier, or a temporary local one
	// while the message is pending.
	ID string `json:"id"`

	// Exactly one of GroupID or DMKey is set, selecting the scope.
	GroupID string `json:"group_id,omitempty"`
	DMKey   string `json:"dm_key,omitempty"`

	// AuthorID is the sender's user id.
	AuthorID string `json:"author_id"`

	// Denormalized author display fields, attached for rendering only.
	// The profiles table is authoritative.
	AuthorName   string `json:"author_name,omitempty"`
	AuthorHandle string `json:"author_handle,omitempty"`
	AuthorAvatar string `json:"author_avatar,omitempty"`

	// Kind selects which payload fields are meaningful.
	Kind MessageKind `json:"kind"`

	// Body is the free-text payload. May accompany a file reference.
	Body string `json:"body,omitempty"`

	// File reference payload.
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`

	// ReplyTo references an earlier message in the same scope.
	ReplyTo string `json:"reply_to,omitempty"`

	// CreatedAt is server-authoritative once confirmed.
	CreatedAt time.Time `json:"created_at"`

	Edited   bool       `json:"edited,omitempty"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	// Moderation flags hide a message without physically deleting it.
	Deleted  bool `json:"deleted,omitempty"`
	Reported bool `json:"reported,omitempty"`

	// Pending marks a locally synthesized message awaiting confirmation.
	// Never persisted; a confirmed row replaces the pending entry.
	Pending bool `json:"pending,omitempty"`

	// SentAt is the local wall-clock send time of a pending message,
	// used by the reconciliation matching window.
	SentAt time.Time `json:"-"`
}

// Scope returns the conversation this message belongs to.
func (m *Message) Scope() Scope {
	if m.DMKey != "" {
		return Scope{Kind: ScopeDirect, ID: m.DMKey}
	}
	return Scope{Kind: ScopeGroup, ID: m.GroupID}
}

// Hidden reports whether moderation flags exclude this message from
// delivery to new subscribers.
func (m *Message) Hidden() bool {
	return m.Deleted || m.Reported
}

// SetScope stamps the scope column onto the message.
func (m *Message) SetScope(s Scope) {
	switch s.Kind {
	case ScopeDirect:
		m.DMKey = s.ID
		m.GroupID = ""
	default:
		m.GroupID = s.ID
		m.DMKey = ""
	}
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Body    string      `json:"body" validate:"required_without=FileURL,max=4000"`
	Kind    MessageKind `json:"kind" validate:"omitempty,oneof=text file link"`
	ReplyTo string      `json:"reply_to,omitempty" validate:"omitempty,max=64"`

	// Set by the attachment flow for file-kind messages.
	FileURL  string `json:"file_url,omitempty" validate:"omitempty,url"`
	FileName string `json:"file_name,omitempty" validate:"omitempty,max=255"`
	FileSize int64  `json:"file_size,omitempty" validate:"omitempty,min=0"`
}

// TimelineResponse is the response for fetching a scope's timeline.
type TimelineResponse struct {
	Messages []Message `json:"messages"`
}
