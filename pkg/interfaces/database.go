package interfaces

import (
	"context"

	"huddle/pkg/types"
)

// MessageStore is the durable, append-only message log.
type MessageStore interface {
	// AppendMessage persists message and fills in its ID and CreatedAt.
	// IDs are strictly increasing and CreatedAt never goes backwards in ID order.
	AppendMessage(ctx context.Context, message *types.Message) error

	// History returns at most limit messages of roomKey with ID < beforeID
	// (beforeID <= 0 means from the newest), oldest first.
	History(ctx context.Context, roomKey string, limit int, beforeID int64) ([]*types.Message, error)
}

// DirectoryStore holds users and group rosters.
type DirectoryStore interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, userID string) (*types.User, error)
	CreateGroup(ctx context.Context, group *types.Group) error
	GetGroup(ctx context.Context, groupID string) (*types.Group, error)
	ListGroups(ctx context.Context) ([]*types.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
}

// NotificationStore holds per-user notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *types.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, userID, notificationID string) error
}

// Store is everything the core needs from the data layer.
// Lookups of missing rows return an error wrapping types.ErrNotFound.
type Store interface {
	MessageStore
	DirectoryStore
	NotificationStore

	HealthCheck(ctx context.Context) error
	Close() error
}
