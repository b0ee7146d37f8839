// Package poller runs a fallback refresh ticker.
//
// The conversation service starts a Poller when realtime delivery degrades
// (channel error, timeout, or close) and stops it once the channel reports
// SUBSCRIBED again. Ticks carry no payload; the consumer re-fetches the
// newest history page on each one.
package poller
