// ABOUTME: Socket event names, frame envelope, and payload types
// ABOUTME: Frames are JSON {"event": name, "data": payload} in both directions

package presence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/relay-gateway/internal/store"
)

// Outbound event names.
const (
	EventOnlineUsers    = "getOnlineUsers"
	EventNewMessage     = "new-message"
	EventMessageSeen    = "message-seen"
	EventMessageDeleted = "message-deleted"
	EventTyping         = "typing"
	EventStopTyping     = "stop-typing"
	EventError          = "error"
)

// Inbound event names. Typing events share their outbound names.
const (
	EventMarkSeen = "mark-messages-seen"
)

// Frame is the envelope every socket message travels in.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals data inside a Frame.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// TypingPayload is sent inbound as {senderId, receiverId} and outbound as {senderId}.
type TypingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
}

// MarkSeenPayload asks to mark everything SenderID sent to the caller as seen.
type MarkSeenPayload struct {
	SenderID string `json:"senderId"`
}

// SeenPayload tells a sender which of their messages ReceiverID has read.
type SeenPayload struct {
	ReceiverID   string              `json:"receiverId"`
	SeenMessages []store.SeenReceipt `json:"seenMessages"`
}

// DeletedPayload announces that a message was deleted for everyone.
type DeletedPayload struct {
	MessageID string    `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// MessagePayload is a stored message enriched with the sender's display fields.
type MessagePayload struct {
	*store.Message
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic"`
}

// NewMessagePayload builds the enriched payload for msg. A nil sender leaves
// the display fields empty.
func NewMessagePayload(msg *store.Message, sender *store.User) MessagePayload {
	p := MessagePayload{Message: msg}
	if sender != nil {
		p.FullName = sender.FullName
		p.ProfilePic = sender.ProfilePic
	}
	return p
}

// ErrorPayload is sent back to a client whose frame could not be handled.
type ErrorPayload struct {
	Message string `json:"message"`
}
