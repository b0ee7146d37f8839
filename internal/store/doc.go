// Package store provides a local SQLite backend for the inbox.
//
// SQLiteStore implements the same contract as the hosted backend: the
// conversation list, the newest message page of a pair, older pages behind a
// cursor, and sends. It backs the CLI's offline mode and is the reference
// implementation of the ordering rules the conversation service relies on:
//
//   - history pages are sorted created_at DESC, id DESC, then limited
//   - older pages contain only messages strictly before the cursor, compared
//     on (created_at, id) when the cursor carries an id
//
// Timestamps are stored as fixed-width UTC text so the SQL comparisons above
// are chronological.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Realtime
//
// When a publisher is set, every stored message is announced on the
// receiver's and the sender's notification topics, so a local hub delivers
// the same new_message broadcasts the hosted backend would.
package store
