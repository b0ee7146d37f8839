// ABOUTME: Event kinds and payloads emitted by the conversation service
// ABOUTME: Closed set of kinds with typed payloads instead of string keys

package events

import "github.com/2389/resale-inbox/internal/inbox"

// Kind identifies an event channel.
type Kind int

const (
	KindConnectionStatus Kind = iota + 1
	KindNewMessage
	KindPollRefresh
)

func (k Kind) String() string {
	switch k {
	case KindConnectionStatus:
		return "connection_status"
	case KindNewMessage:
		return "new_message"
	case KindPollRefresh:
		return "poll_refresh"
	default:
		return "unknown"
	}
}

// ConnState is the realtime connection state.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateConnecting   ConnState = "connecting"
	StateError        ConnState = "error"
	StateDisconnected ConnState = "disconnected"
)

// ConnectionStatus is the payload of KindConnectionStatus.
type ConnectionStatus struct {
	State    ConnState
	Message  string
	CanRetry bool
}

// NewMessage is the payload of KindNewMessage. Message may be nil when the
// notification only names the conversation.
type NewMessage struct {
	ConversationID string
	Message        *inbox.Message
}

// Event is a single emission. Only the payload matching Kind is set.
type Event struct {
	Kind       Kind
	Status     ConnectionStatus
	NewMessage NewMessage
}

// StatusEvent builds a KindConnectionStatus event.
func StatusEvent(state ConnState, message string, canRetry bool) Event {
	return Event{
		Kind:   KindConnectionStatus,
		Status: ConnectionStatus{State: state, Message: message, CanRetry: canRetry},
	}
}

// MessageEvent builds a KindNewMessage event.
func MessageEvent(conversationID string, msg *inbox.Message) Event {
	return Event{
		Kind:       KindNewMessage,
		NewMessage: NewMessage{ConversationID: conversationID, Message: msg},
	}
}

// PollRefreshEvent builds a KindPollRefresh event.
func PollRefreshEvent() Event {
	return Event{Kind: KindPollRefresh}
}
