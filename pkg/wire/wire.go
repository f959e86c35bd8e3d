// Package wire defines the JSON event envelope exchanged over the
// websocket channel and the payload shapes for every event.
package wire

import (
	"encoding/json"
	"time"
)

// Client -> server events.
const (
	EventUserJoin       = "user_join"
	EventUpdateProfile  = "update_profile"
	EventSendMessage    = "send_message"
	EventPrivateMessage = "private_message"
	EventTyping         = "typing"
	EventMessageRead    = "message_read"
	EventLogout         = "logout"
)

// Server -> client events. EventPrivateMessage and EventMessageRead are
// reused in both directions.
const (
	EventUserList         = "user_list"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventTypingUsers      = "typing_users"
	EventReceiveMessage   = "receive_message"
	EventMessageDelivered = "message_delivered"
	EventAck              = "ack"
)

// Envelope frames every event. Seq is set on requests that expect an
// acknowledgement; the reply is an EventAck envelope carrying the same Seq.
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendRequest is the send_message payload. Body or Attachment must be
// non-empty; TempID is the sender's reconciliation tag.
type SendRequest struct {
	TempID     string `json:"tempId"`
	Message    string `json:"message"`
	Attachment string `json:"attachment,omitempty"`
	To         string `json:"to,omitempty"`
	IsPrivate  bool   `json:"isPrivate,omitempty"`
}

// SendAck acknowledges a send_message back to the origin only.
type SendAck struct {
	Status    string    `json:"status"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// PrivateRequest is the private_message payload.
type PrivateRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// ProfileUpdate mutates the sender's presence entry in place.
type ProfileUpdate struct {
	Avatar   string `json:"avatar,omitempty"`
	Username string `json:"username,omitempty"`
}

// Delivered is the sender-only delivery confirmation.
type Delivered struct {
	ID          int64     `json:"id"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// ReadRequest marks a message read by the sending connection.
type ReadRequest struct {
	MessageID int64 `json:"messageId"`
}

// ReadEvent is the broadcast form of a recorded read receipt.
type ReadEvent struct {
	MessageID int64  `json:"messageId"`
	ReaderID  string `json:"readerId"`
	Reader    string `json:"reader"`
}

// Notice announces a join or leave.
type Notice struct {
	Username string `json:"username"`
	ID       string `json:"id"`
}

// LogoutAck completes an explicit logout before the transport closes.
type LogoutAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Encode frames an event envelope around the JSON encoding of data.
func Encode(event string, seq uint64, data interface{}) ([]byte, error) {
	env := Envelope{Event: event, Seq: seq}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses a framed envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}
