package types

import (
	"fmt"
	"regexp"
	"strings"
)

// Room kinds.
const (
	RoomKindGroup   = "group"
	RoomKindPrivate = "private"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidGroupID checks if a group ID meets format requirements.
func IsValidGroupID(groupID string) bool {
	if len(groupID) < 1 || len(groupID) > 64 {
		return false
	}
	return idRegex.MatchString(groupID)
}

// GroupRoomKey returns the room key of a group.
func GroupRoomKey(groupID string) string {
	return RoomKindGroup + ":" + groupID
}

// PrivateRoomKey returns the canonical key of the pair room shared by a and b.
// The result does not depend on argument order.
func PrivateRoomKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return RoomKindPrivate + ":" + a + ":" + b
}

// RoomRef is a parsed room key.
type RoomRef struct {
	Key          string
	Kind         string
	GroupID      string
	Participants [2]string
}

// ParseRoomKey validates and splits a room key.
func ParseRoomKey(key string) (RoomRef, error) {
	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 2 && parts[0] == RoomKindGroup:
		if !IsValidGroupID(parts[1]) {
			return RoomRef{}, fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidRoomKey, key)
		}
		return RoomRef{Key: key, Kind: RoomKindGroup, GroupID: parts[1]}, nil
	case len(parts) == 3 && parts[0] == RoomKindPrivate:
		a, b := parts[1], parts[2]
		if !IsValidUserID(a) || !IsValidUserID(b) || a == b || PrivateRoomKey(a, b) != key {
			return RoomRef{}, fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidRoomKey, key)
		}
		return RoomRef{Key: key, Kind: RoomKindPrivate, Participants: [2]string{a, b}}, nil
	default:
		return RoomRef{}, fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidRoomKey, key)
	}
}

// IsPrivate reports whether the room is a pair room.
func (r RoomRef) IsPrivate() bool {
	return r.Kind == RoomKindPrivate
}

// Includes reports whether userID is one of the pair's participants.
func (r RoomRef) Includes(userID string) bool {
	return r.IsPrivate() && (r.Participants[0] == userID || r.Participants[1] == userID)
}

// Counterpart returns the other participant of a pair room.
func (r RoomRef) Counterpart(userID string) (string, bool) {
	if !r.Includes(userID) {
		return "", false
	}
	if r.Participants[0] == userID {
		return r.Participants[1], true
	}
	return r.Participants[0], true
}
