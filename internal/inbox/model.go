// ABOUTME: Display-ready Message and Conversation types for the marketplace inbox
// ABOUTME: Built fresh from backend rows on every load, never mutated locally

package inbox

import "time"

// DeliveryStatus is the delivery state of a message.
type DeliveryStatus string

// StatusSent is the only status the backend reports today.
const StatusSent DeliveryStatus = "sent"

// MessageKind says who originated a message.
type MessageKind string

// KindUser marks user-originated messages.
const KindUser MessageKind = "user"

// Participant is the embedded summary of a user.
type Participant struct {
	ID     string
	Name   string
	Avatar *string
}

// ProductSummary is the product a conversation is about.
type ProductSummary struct {
	ID    string
	Title string
	Image *string
	Price *float64
}

// Message is one exchanged text unit.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID *string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  *time.Time
	IsRead     bool
	Status     DeliveryStatus
	Kind       MessageKind
	Sender     *Participant
}

// Conversation groups messages between the current user and one counterpart.
type Conversation struct {
	ID            string
	OtherUserID   string
	Name          string
	Avatar        *string
	LastMessage   string
	LastMessageAt time.Time
	Unread        bool

	// Messages is populated lazily when the conversation is opened.
	Messages []Message

	Product *ProductSummary
	OrderID *string

	IsProductConversation bool
	IsOrderConversation   bool
	IsOfferConversation   bool
}

// Cursor marks a pagination boundary. Messages strictly older than the cursor
// are returned. When ID is set the comparison is on (created_at, id), which
// keeps pages disjoint even when several messages share a timestamp.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Before returns a time-only cursor.
func Before(t time.Time) Cursor {
	return Cursor{CreatedAt: t}
}

// CursorOf returns the keyset cursor positioned at msg.
func CursorOf(msg Message) Cursor {
	return Cursor{CreatedAt: msg.CreatedAt, ID: msg.ID}
}

// IsZero reports whether the cursor carries no boundary.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// SendRequest is the outbound message handed to the send gateway.
type SendRequest struct {
	ReceiverID string  `json:"receiverId"`
	ProductID  *string `json:"productId,omitempty"`
	Content    string  `json:"content"`
}
