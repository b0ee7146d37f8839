// Package events provides the typed in-process emitter the conversation
// service uses to notify its UI.
//
// There are three event kinds:
//
//   - KindConnectionStatus: the realtime connection changed state
//   - KindNewMessage: a push notification arrived for a conversation
//   - KindPollRefresh: push delivery is degraded, re-fetch everything
//
// Listeners for a kind run synchronously in registration order. A listener
// that panics is recovered and logged; the remaining listeners still run.
package events
