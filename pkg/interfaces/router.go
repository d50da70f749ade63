package interfaces

import (
	"context"

	"huddle/pkg/types"
)

// SendRequest is one outbound message intent.
type SendRequest struct {
	ConnectionID string
	SenderID     string
	RoomKey      string
	Type         string
	Content      string
	File         *types.FileDescriptor
}

// MessageRouter persists and fans out messages and owns unread markers.
type MessageRouter interface {
	Send(ctx context.Context, req SendRequest) (*types.Message, error)
	History(ctx context.Context, userID, roomKey string, limit int, beforeID int64) ([]*types.Message, error)
	Notify(ctx context.Context, n *types.Notification) error
	MarkRead(ctx context.Context, userID, roomKey string) error
	UnreadCounts(ctx context.Context, userID string) ([]types.UnreadCount, error)
}

// Memberships manages room subscriptions of connections.
type Memberships interface {
	JoinGroup(ctx context.Context, connectionID, userID, groupID string) (types.AckPayload, error)
	JoinPrivate(ctx context.Context, connectionID, userID, targetUserID string) (string, error)
	Leave(connectionID, roomKey string)
	MembersOf(ctx context.Context, roomKey string) ([]string, error)
	DropConnection(connectionID string)
}

// Roster answers group membership and user existence questions.
type Roster interface {
	GetGroup(ctx context.Context, groupID string) (*types.Group, error)
	IsMember(ctx context.Context, groupID, userID string) error
	UserExists(ctx context.Context, userID string) (bool, error)
}
