// Package inbox defines the marketplace messaging data model.
//
// # Overview
//
// Messages are exchanged between the current user and one counterpart,
// optionally about a product. There is no conversation table on the client
// side: a Conversation is computed from backend rows every time the inbox is
// loaded, and its ID is a synthetic composite key:
//
//	<counterpartID>__<productID>   product conversation
//	<counterpartID>__general       general conversation
//
// Compose and ParseConversationID are exact inverses and are used to route
// message loads and sends.
//
// # Ordering
//
// Backends return messages newest-first so that "the latest N" can be fetched
// with a single LIMIT. ChronologicalMessages reverses such a page into the
// oldest-first order the UI renders. The backend must sort by created_at and
// then id, both descending, before applying the limit.
package inbox
