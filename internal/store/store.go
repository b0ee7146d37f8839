// ABOUTME: Store types and errors for the local marketplace backend
// ABOUTME: Profiles and products exist so conversations can embed display data

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrSelfMessage is returned when a user messages themselves
var ErrSelfMessage = errors.New("cannot message yourself")

// Profile is a marketplace user.
type Profile struct {
	ID        string
	Username  string
	AvatarURL string
	CreatedAt time.Time
}

// Product is a listed item conversations can be scoped to.
type Product struct {
	ID        string
	SellerID  string
	Title     string
	Images    []string
	Price     *float64
	CreatedAt time.Time
}

// Message types and delivery statuses written by this store.
const (
	MessageTypeUser = "user"
	StatusSent      = "sent"
)

// timestampLayout is fixed width in UTC so text comparison in SQL matches
// chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
