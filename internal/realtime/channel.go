// ABOUTME: Transport-neutral contract for per-user broadcast subscriptions
// ABOUTME: Status values mirror the channel lifecycle the conversation service reacts to

package realtime

import (
	"context"
	"fmt"

	"github.com/2389/resale-inbox/internal/envelope"
)

// Status is a subscription lifecycle transition reported by a transport.
type Status int

const (
	// StatusSubscribed means the topic join was acknowledged.
	StatusSubscribed Status = iota + 1
	// StatusChannelError means the join was rejected or the channel failed.
	StatusChannelError
	// StatusTimedOut means the join was not acknowledged in time.
	StatusTimedOut
	// StatusClosed means the transport went away.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "SUBSCRIBED"
	case StatusChannelError:
		return "CHANNEL_ERROR"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Handlers receive callbacks from a subscription. Calls for one subscription
// are serialized; either field may be nil.
type Handlers struct {
	OnStatus    func(Status, error)
	OnBroadcast func(envelope.NewMessage)
}

func (h Handlers) status(s Status, err error) {
	if h.OnStatus != nil {
		h.OnStatus(s, err)
	}
}

func (h Handlers) broadcast(msg envelope.NewMessage) {
	if h.OnBroadcast != nil {
		h.OnBroadcast(msg)
	}
}

// Channel opens subscriptions on a broadcast transport.
type Channel interface {
	// Subscribe starts joining topic and returns immediately; the outcome is
	// reported through h.OnStatus. The subscription ends when ctx is done or
	// Close is called.
	Subscribe(ctx context.Context, topic string, h Handlers) (Subscription, error)
}

// Subscription is a live topic subscription.
type Subscription interface {
	// Close ends the subscription. It is idempotent, does not wait for the
	// transport goroutine, and reports no status.
	Close() error
}

// Publisher sends a new message notification to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg envelope.NewMessage) error
}

// Topic returns the private notification topic for a user.
func Topic(userID string) string {
	return "user:" + userID + ":notifications"
}
