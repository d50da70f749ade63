package types

import "time"

// Message kinds.
const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

// MaxContentBytes bounds a message body.
const MaxContentBytes = 64 * 1024

// Message is a persisted chat message. ID and CreatedAt are assigned by the store
// and define the room's total order.
type Message struct {
	ID         int64     `json:"id"`
	RoomKey    string    `json:"room_key"`
	GroupID    string    `json:"group_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	FileURL    string    `json:"file_url,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	FileSize   int64     `json:"file_size,omitempty"`
	MimeType   string    `json:"mime_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FileDescriptor describes an already stored attachment.
type FileDescriptor struct {
	URL      string `json:"url" validate:"required,max=1024"`
	Name     string `json:"name" validate:"required,max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
	MimeType string `json:"mime_type,omitempty" validate:"max=255"`
}

// AttachFile copies the descriptor onto the message and marks it as a file message.
func (m *Message) AttachFile(f *FileDescriptor) {
	if f == nil {
		return
	}
	m.Type = MessageTypeFile
	m.FileURL = f.URL
	m.FileName = f.Name
	m.FileSize = f.Size
	m.MimeType = f.MimeType
}

// IsPrivate reports whether the message belongs to a private pair room.
func (m *Message) IsPrivate() bool {
	return m.ReceiverID != ""
}

// User is the minimal directory entry needed to validate private targets.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Group is a durable chat group and its roster.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports roster membership.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Notification is produced by collaborator subsystems and pushed to its owner.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// UnreadCount is one unread marker as exposed over REST.
type UnreadCount struct {
	RoomKey string `json:"room_key"`
	Kind    string `json:"kind"`
	GroupID string `json:"group_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Count   int    `json:"count"`
}

// Delivery is a persisted item on its way to live connections. It is what the
// fan-out bus carries between the router and the connections of a node.
// Recipients is the room's roster at send time; group fan-out only reaches
// subscribers listed there.
type Delivery struct {
	Kind         string        `json:"kind"`
	RoomKey      string        `json:"room_key,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Recipients   []string      `json:"recipients,omitempty"`
}

// Event converts the delivery into the frame pushed to clients.
func (d *Delivery) Event() *Event {
	if d.Notification != nil {
		return &Event{Kind: d.Kind, Payload: d.Notification}
	}
	return &Event{Kind: d.Kind, Payload: d.Message}
}
