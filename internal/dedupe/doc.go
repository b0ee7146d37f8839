// Package dedupe remembers recently delivered message ids so a realtime
// notification replayed after a rejoin is only surfaced once.
package dedupe
