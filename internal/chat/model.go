package chat

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

// Reaction is one user's emoji on one message. The store guarantees at most
// one entry per (user_id, emoji) pair on any message.
type Reaction struct {
	Emoji    string `json:"emoji"`
	UserID   int    `json:"user_id"`
	UserName string `json:"user_name"`
}

type Message struct {
	ID         uuid.UUID  `json:"id"`
	TribeID    int        `json:"tribe_id"`
	SenderID   int        `json:"sender_id"`
	SenderName string     `json:"sender_name"` // Denormalized for UI speed (fetched via JOIN)
	Content    string     `json:"content"`
	Mentions   []string   `json:"mentions"`
	Reactions  []Reaction `json:"reactions"`
	Edited     bool       `json:"edited"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	ReplyTo    *uuid.UUID `json:"reply_to,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Before orders messages canonically: created_at ascending, ties broken by
// id. Arrival order over the live transport means nothing.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID.String() < other.ID.String()
}

// ---------------------------------------------
// Live transport envelopes
// ---------------------------------------------

// Client → server event types.
const (
	EventJoinRoom        = "join_room"
	EventLeaveRoom       = "leave_room"
	EventPublishMessage  = "publish_message"
	EventPublishReaction = "publish_reaction"
)

// Server → room event types.
const (
	EventMessageReceived  = "message_received"
	EventReactionReceived = "reaction_received"
	EventMessageUpdated   = "message_updated"
	EventMessageDeleted   = "message_deleted"
)

// Envelope is the single frame format on the live transport, both
// directions. Message carries the full persisted record: receivers replace
// wholesale instead of patching fields.
type Envelope struct {
	Type      string     `json:"type"`
	TribeID   int        `json:"tribe_id,omitempty"`
	MessageID *uuid.UUID `json:"message_id,omitempty"`
	Message   *Message   `json:"message,omitempty"`
}
