// Package conversation provides the inbox service a UI drives.
//
// # Overview
//
// Service combines push and pull delivery of new messages:
//
//   - a realtime subscription on the user's private notification topic
//     delivers new_message events as they happen
//   - a fallback poller emits poll_refresh every 30 seconds while the
//     subscription is unavailable
//
// The two are mutually exclusive. Both signals mean "re-fetch"; neither is
// an authoritative delta.
//
// # Connection States
//
//	disconnected -> connecting -> connected
//	                           -> error        (channel error or join timeout)
//	connected    -> disconnected               (transport closed)
//
// Entering connected stops the poller; entering error or disconnected starts
// it. Every transition is emitted as a connection_status event, with
// CanRetry set for errors.
//
// # Loads and Sends
//
//	svc := conversation.New(conversation.Deps{...}, conversation.Options{})
//	defer svc.Cleanup()
//
//	convs := svc.LoadConversations(ctx)
//	msgs := svc.LoadMessages(ctx, convs[0].ID)
//	older := svc.LoadOlderMessages(ctx, convs[0].ID, inbox.CursorOf(msgs[0]))
//	ok := svc.SendMessage(ctx, convs[0].ID, "still available?")
//
// Loads never fail: errors are logged and an empty slice is returned.
// Message slices are oldest first. Sends report success as a bool and never
// append locally; the sent message arrives through the realtime channel or
// the next poll.
//
// # Teardown
//
// Cleanup closes the subscription, stops polling, emits a final
// disconnected status and removes every listener. Callbacks from a
// subscription that has been replaced or torn down are ignored.
package conversation
