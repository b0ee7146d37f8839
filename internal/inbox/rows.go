// ABOUTME: Raw backend row shapes for conversations and messages
// ABOUTME: JSON tags follow the backend column names; nullable data is pointers

package inbox

import "time"

// ParticipantRow is an embedded profile summary.
type ParticipantRow struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url"`
}

// ProductRow is an embedded product summary.
type ProductRow struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Images []string `json:"images"`
	Price  *float64 `json:"price"`
}

// ConversationRow is one row returned by the conversation list call.
type ConversationRow struct {
	ID             string     `json:"id"`
	Participant1ID string     `json:"participant1_id"`
	Participant2ID string     `json:"participant2_id"`
	ProductID      *string    `json:"product_id"`
	OrderID        *string    `json:"order_id"`
	IsOffer        bool       `json:"is_offer"`
	LastMessage    *string    `json:"last_message"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UnreadCount    int        `json:"unread_count"`

	Participant1 *ParticipantRow `json:"participant1"`
	Participant2 *ParticipantRow `json:"participant2"`
	Product      *ProductRow     `json:"product"`
}

// MessageRow is one row returned by the message history calls.
type MessageRow struct {
	ID          string          `json:"id" validate:"required"`
	SenderID    string          `json:"sender_id" validate:"required"`
	ReceiverID  *string         `json:"receiver_id"`
	ProductID   *string         `json:"product_id"`
	Content     string          `json:"content"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   *time.Time      `json:"updated_at"`
	IsRead      bool            `json:"is_read"`
	Status      string          `json:"status"`
	MessageType string          `json:"message_type"`
	Sender      *ParticipantRow `json:"sender"`
}
