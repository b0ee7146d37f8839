// Package supabase is a thin HTTP client for the marketplace backend.
//
// It speaks three Supabase surfaces:
//
//   - PostgREST RPC (POST /rest/v1/rpc/<fn>) for the conversation list and
//     the most recent message history of a pair
//   - PostgREST table queries (GET /rest/v1/messages) for older pages
//   - Edge functions (POST /functions/v1/send-message) for sends
//
// Every request carries the project anon key in the apikey header and the
// user's access token as a bearer token. Non-2xx responses are returned as
// *APIError.
//
// History queries rely on the backend sorting by created_at descending with
// id as the tie-breaker before the limit is applied; callers reverse the
// page for display.
package supabase
