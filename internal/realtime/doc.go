// Package realtime delivers per-user broadcast frames to the inbox.
//
// Channel is the transport-neutral contract: Subscribe joins a topic and
// reports lifecycle transitions (SUBSCRIBED, CHANNEL_ERROR, TIMED_OUT,
// CLOSED) through Handlers.OnStatus, and decoded new_message envelopes
// through Handlers.OnMessage. Three transports implement it:
//
//   - Supabase speaks the Phoenix channel protocol over a websocket. It
//     sends a heartbeat on every interval and treats a heartbeat that is
//     still unacknowledged when the next one is due as a dead link.
//   - RedisChannel subscribes to a Redis pub/sub channel per topic and pings
//     the connection whenever it has been idle for the health check interval.
//   - Hub is an in-process broadcaster used by the local SQLite backend and
//     by tests.
//
// # Reconnects
//
// Network transports report CLOSED when the link drops and rejoin at most
// once per rejoin interval until the subscription is closed or its context
// ends. A rejoin that succeeds reports SUBSCRIBED again.
package realtime
