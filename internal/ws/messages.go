package ws

import "encoding/json"

// MessageType identifies the kind of WebSocket message.
type MessageType string

// Events sent by the server.
const (
	MsgAnalysisStarted  MessageType = "analysis_started"
	MsgAnalysisComplete MessageType = "analysis_complete"
	MsgAnalysisBlocked  MessageType = "analysis_blocked"
	MsgCheckResult      MessageType = "check_result"
	MsgModelsChanged    MessageType = "models_changed"
	MsgError            MessageType = "error"
	MsgLatest           MessageType = "latest"
	MsgSubscribed       MessageType = "subscribed"
)

// Requests sent by clients.
const (
	// MsgSync asks for the latest result again.
	MsgSync MessageType = "sync"
	// MsgSubscribe limits the events a client receives. Its payload is a
	// Subscription; an empty type list restores every event.
	MsgSubscribe MessageType = "subscribe"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subscription is the payload of a subscribe request and its reply.
type Subscription struct {
	Types []MessageType `json:"types"`
}

// NewMessage encodes payload under the given type.
func NewMessage(typ MessageType, payload any) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Message{Type: typ, Payload: p})
}
