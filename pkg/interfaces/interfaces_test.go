package interfaces_test

import (
	"context"
	"testing"
	"time"

	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

type stubConnection struct{}

func (stubConnection) ID() string { return "c1" }
func (stubConnection) UserID() string { return "u1" }
func (stubConnection) Send(*types.Event) error { return nil }
func (stubConnection) Close() error { return nil }
func (stubConnection) Done() <-chan struct{} { return nil }
func (stubConnection) LastSeen() time.Time { return time.Time{} }

type stubRoster struct{}

func (stubRoster) GetGroup(context.Context, string) (*types.Group, error) { return nil, nil }
func (stubRoster) IsMember(context.Context, string, string) error { return nil }
func (stubRoster) UserExists(context.Context, string) (bool, error) { return true, nil }

type stubMemberships struct{}

func (stubMemberships) JoinGroup(context.Context, string, string, string) (types.AckPayload, error) {
	return types.AckPayload{Success: true}, nil
}
func (stubMemberships) JoinPrivate(_ context.Context, _, userID, target string) (string, error) {
	return types.PrivateRoomKey(userID, target), nil
}
func (stubMemberships) Leave(string, string) {}
func (stubMemberships) MembersOf(context.Context, string) ([]string, error) { return nil, nil }
func (stubMemberships) DropConnection(string) {}

var (
	_ interfaces.Connection  = stubConnection{}
	_ interfaces.Roster      = stubRoster{}
	_ interfaces.Memberships = stubMemberships{}
)

func TestSendRequest_ZeroValue(t *testing.T) {
	var req interfaces.SendRequest
	if req.File != nil || req.RoomKey != "" {
		t.Errorf("zero SendRequest should be empty: %+v", req)
	}
}

func TestMemberships_StubUsesCanonicalKey(t *testing.T) {
	var m interfaces.Memberships = stubMemberships{}
	k1, _ := m.JoinPrivate(context.Background(), "c1", "alice", "bob")
	k2, _ := m.JoinPrivate(context.Background(), "c2", "bob", "alice")
	if k1 != k2 {
		t.Errorf("keys differ: %q vs %q", k1, k2)
	}
}
