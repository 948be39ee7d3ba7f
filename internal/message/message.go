package message

import "time"

// Message is a stored chat message. EditedAt, DeletedAt, and AttachmentURL
// are modeled but not driven by any core flow.
type Message struct {
	ID              string     `json:"id"`
	RoomID          string     `json:"room_id"`
	SenderID        string     `json:"sender_id"`
	Body            string     `json:"body"`
	CreatedAt       time.Time  `json:"created_at"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	ClientMessageID string     `json:"client_message_id,omitempty"`
	AttachmentURL   string     `json:"attachment_url,omitempty"`
}

// less orders messages by creation time, ties broken by id ascending.
func less(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
