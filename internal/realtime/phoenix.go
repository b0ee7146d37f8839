// ABOUTME: Phoenix channel wire frames used by Supabase Realtime
// ABOUTME: JSON object serializer (vsn 1.0.0) for join, heartbeat, reply, and broadcast frames

package realtime

import "encoding/json"

// Phoenix channel events.
const (
	phxJoin      = "phx_join"
	phxLeave     = "phx_leave"
	phxReply     = "phx_reply"
	phxError     = "phx_error"
	phxClose     = "phx_close"
	phxHeartbeat = "heartbeat"
	phxBroadcast = "broadcast"
	phxSystem    = "system"

	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
)

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast broadcastConfig `json:"broadcast"`
	Private   bool            `json:"private"`
}

type broadcastConfig struct {
	Ack  bool `json:"ack"`
	Self bool `json:"self"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type systemPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Extension string `json:"extension"`
}

func newJoin(topic, ref, accessToken string) (phxMessage, error) {
	payload, err := json.Marshal(joinPayload{
		Config:      joinConfig{Private: true},
		AccessToken: accessToken,
	})
	if err != nil {
		return phxMessage{}, err
	}
	return phxMessage{Topic: topic, Event: phxJoin, Payload: payload, Ref: ref, JoinRef: ref}, nil
}

func newHeartbeat(ref string) phxMessage {
	return phxMessage{Topic: phoenixTopic, Event: phxHeartbeat, Payload: json.RawMessage(`{}`), Ref: ref}
}
