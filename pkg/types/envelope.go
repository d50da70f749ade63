package types

import (
	"errors"

	"github.com/goccy/go-json"
)

// Client to server kinds.
const (
	KindJoinGroup   = "join-group"
	KindJoinPrivate = "join-private"
	KindLeaveRoom   = "leave-room"
	KindSendMessage = "send-message"
	KindSendPrivate = "send-private"
	KindMarkRead    = "mark-read"
	KindPing        = "ping"
)

// Server to client kinds.
const (
	KindReceiveMessage  = "receive-message"
	KindReceivePrivate  = "receive-private"
	KindNewNotification = "new-notification"
	KindAck             = "ack"
	KindPong            = "pong"
)

// Envelope is an inbound frame. Payload is decoded once Kind is known.
type Envelope struct {
	Kind    string          `json:"kind"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Kind    string      `json:"kind"`
	Ref     string      `json:"ref,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// JoinGroupPayload is the payload of join-group.
type JoinGroupPayload struct {
	GroupID string `json:"groupId" validate:"required,max=64,chatid"`
}

// JoinPrivatePayload is the payload of join-private.
type JoinPrivatePayload struct {
	TargetUserID string `json:"targetUserId" validate:"required,max=50,chatid"`
}

// LeaveRoomPayload names either a group or a private counterpart.
type LeaveRoomPayload struct {
	GroupID      string `json:"groupId,omitempty" validate:"required_without=TargetUserID,max=64"`
	TargetUserID string `json:"targetUserId,omitempty" validate:"required_without=GroupID,max=50"`
}

// SendMessagePayload is the payload of send-message.
type SendMessagePayload struct {
	GroupID string          `json:"groupId" validate:"required,max=64,chatid"`
	Content string          `json:"content" validate:"max=65536"`
	Type    string          `json:"type" validate:"omitempty,oneof=text file"`
	File    *FileDescriptor `json:"file,omitempty"`
}

// SendPrivatePayload is the payload of send-private.
type SendPrivatePayload struct {
	ReceiverID string `json:"receiverId" validate:"required,max=50,chatid"`
	Content    string `json:"content" validate:"required,max=65536"`
}

// MarkReadPayload clears the unread marker of a group or a private conversation.
type MarkReadPayload struct {
	GroupID string `json:"groupId,omitempty" validate:"required_without=UserID,max=64"`
	UserID  string `json:"userId,omitempty" validate:"required_without=GroupID,max=50"`
}

// AckPayload answers a request that carried a ref.
type AckPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// NewAck builds an ack event for ref.
func NewAck(ref string, ack AckPayload) *Event {
	return &Event{Kind: KindAck, Ref: ref, Payload: ack}
}

// AckFor maps an error onto the client-facing acknowledgment. Store and
// transport details never reach the client.
func AckFor(err error) AckPayload {
	switch {
	case err == nil:
		return AckPayload{Success: true}
	case errors.Is(err, ErrAuth):
		return AckPayload{Message: "authentication required"}
	case errors.Is(err, ErrForbidden):
		return AckPayload{Message: "not a member of this room"}
	case errors.Is(err, ErrValidation):
		return AckPayload{Message: err.Error()}
	case errors.Is(err, ErrNotFound):
		return AckPayload{Message: "not found"}
	case errors.Is(err, ErrRateLimited):
		return AckPayload{Message: "rate limit exceeded, slow down"}
	case errors.Is(err, ErrPersistenceTimeout):
		return AckPayload{Message: "message could not be saved in time, please retry"}
	case errors.Is(err, ErrPersistence):
		return AckPayload{Message: "message could not be saved, please retry"}
	default:
		return AckPayload{Message: "internal error"}
	}
}
