package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"huddle/internal/bus"
	"huddle/internal/config"
	"huddle/internal/membership"
	"huddle/internal/roster"
	"huddle/internal/testutil"
	"huddle/internal/unread"
	"huddle/internal/websocket"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

type harness struct {
	router   *Router
	store    *testutil.MemoryStore
	registry *websocket.Registry
	members  *membership.Manager
	roster   *roster.Manager
	unread   *unread.MemoryStore
}

func testDeliveryConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		PersistTimeout:      time.Second,
		HistoryDefaultLimit: 3,
		HistoryMaxLimit:     5,
		RateLimitPerMinute:  1000,
		BreakerFailures:     3,
		BreakerTimeout:      time.Minute,
	}
}

func newHarness(t *testing.T, cfg config.DeliveryConfig) *harness {
	t.Helper()
	ctx := context.Background()

	store := testutil.NewMemoryStore()
	r := roster.NewManager(store)
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		if _, err := r.CreateUser(ctx, id, strings.ToUpper(id)); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	if _, err := r.CreateGroup(ctx, "ops", "Operations", "alice", []string{"bob", "carol"}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	registry := websocket.NewRegistry()
	members := membership.NewManager(r, registry)
	b := bus.NewLocalBus()
	fanout := NewFanout(registry, members)
	if err := b.Subscribe(fanout.Deliver); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	u := unread.NewMemoryStore()

	return &harness{
		router: NewRouter(Deps{
			Rooms:  members,
			Users:  r,
			Store:  store,
			Bus:    b,
			Unread: u,
		}, cfg),
		store:    store,
		registry: registry,
		members:  members,
		roster:   r,
		unread:   u,
	}
}

func (h *harness) connect(t *testing.T, connID, userID string) *testutil.FakeConnection {
	t.Helper()
	conn := testutil.NewFakeConnection(connID, userID)
	if _, err := h.registry.Register(conn); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return conn
}

func (h *harness) joinGroup(t *testing.T, conn *testutil.FakeConnection, groupID string) {
	t.Helper()
	if _, err := h.members.JoinGroup(context.Background(), conn.ID(), conn.UserID(), groupID); err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
}

func (h *harness) unreadOf(t *testing.T, userID, roomKey string) int {
	t.Helper()
	counts, err := h.unread.Counts(context.Background(), userID)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	return counts[roomKey]
}

func text(sender, roomKey, content string) interfaces.SendRequest {
	return interfaces.SendRequest{SenderID: sender, RoomKey: roomKey, Type: types.MessageTypeText, Content: content}
}

func TestRouter_SendGroupFanout(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()

	a1 := h.connect(t, "a1", "alice")
	b1 := h.connect(t, "b1", "bob")
	b2 := h.connect(t, "b2", "bob")
	h.joinGroup(t, a1, "ops")
	h.joinGroup(t, b1, "ops")

	msg, err := h.router.Send(ctx, text("alice", "group:ops", "standup in 5"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == 0 || msg.CreatedAt.IsZero() || msg.GroupID != "ops" {
		t.Errorf("message not filled in: %+v", msg)
	}

	for _, conn := range []*testutil.FakeConnection{a1, b1} {
		events := conn.EventsOfKind(types.KindReceiveMessage)
		if len(events) != 1 {
			t.Fatalf("%s got %d receive-message events, want 1", conn.ID(), len(events))
		}
		if got := events[0].Payload.(*types.Message); got.ID != msg.ID {
			t.Errorf("%s got message %d, want %d", conn.ID(), got.ID, msg.ID)
		}
	}
	if n := len(b2.Events()); n != 0 {
		t.Errorf("unsubscribed tab got %d events", n)
	}

	if got := h.unreadOf(t, "carol", "group:ops"); got != 1 {
		t.Errorf("carol unread = %d, want 1", got)
	}
	if got := h.unreadOf(t, "bob", "group:ops"); got != 0 {
		t.Errorf("bob is watching, unread = %d, want 0", got)
	}
	if got := h.unreadOf(t, "alice", "group:ops"); got != 0 {
		t.Errorf("sender unread = %d, want 0", got)
	}
}

func TestRouter_SendPrivate(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()

	a1 := h.connect(t, "a1", "alice")
	b1 := h.connect(t, "b1", "bob")
	b2 := h.connect(t, "b2", "bob")
	room := types.PrivateRoomKey("alice", "bob")

	msg, err := h.router.Send(ctx, text("alice", room, "hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ReceiverID != "bob" || msg.GroupID != "" {
		t.Errorf("private message fields: %+v", msg)
	}

	for _, conn := range []*testutil.FakeConnection{a1, b1, b2} {
		if n := len(conn.EventsOfKind(types.KindReceivePrivate)); n != 1 {
			t.Errorf("%s got %d receive-private events, want 1", conn.ID(), n)
		}
	}
	if got := h.unreadOf(t, "bob", room); got != 1 {
		t.Errorf("bob unread = %d, want 1 before joining", got)
	}

	if _, err := h.members.JoinPrivate(ctx, "b1", "bob", "alice"); err != nil {
		t.Fatalf("JoinPrivate: %v", err)
	}
	if _, err := h.router.Send(ctx, text("alice", room, "are you there?")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := h.unreadOf(t, "bob", room); got != 1 {
		t.Errorf("bob unread = %d, want still 1 while watching", got)
	}
}

func TestRouter_SendOfflineRecipientIncrementsOnce(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := h.router.Send(ctx, text("alice", "group:ops", fmt.Sprintf("note %d", i))); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for _, user := range []string{"bob", "carol"} {
		if got := h.unreadOf(t, user, "group:ops"); got != 3 {
			t.Errorf("%s unread = %d, want 3", user, got)
		}
	}
	history, err := h.router.History(ctx, "bob", "group:ops", 50, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("history = %d messages, want 3", len(history))
	}
}

func TestRouter_RemovedMemberStopsReceiving(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()

	a1 := h.connect(t, "a1", "alice")
	c1 := h.connect(t, "c1", "carol")
	h.joinGroup(t, a1, "ops")
	h.joinGroup(t, c1, "ops")

	if err := h.roster.RemoveMember(ctx, "ops", "carol"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	if _, err := h.router.Send(ctx, text("alice", "group:ops", "carol is gone")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if n := len(c1.EventsOfKind(types.KindReceiveMessage)); n != 0 {
		t.Errorf("removed member carol received %d receive-message events", n)
	}
	if n := len(a1.EventsOfKind(types.KindReceiveMessage)); n != 1 {
		t.Errorf("alice got %d receive-message events, want 1", n)
	}
	if got := h.unreadOf(t, "carol", "group:ops"); got != 0 {
		t.Errorf("carol unread = %d, want 0", got)
	}
	if got := h.unreadOf(t, "bob", "group:ops"); got != 1 {
		t.Errorf("bob unread = %d, want 1", got)
	}
}

func TestRouter_SendRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     interfaces.SendRequest
		wantErr error
	}{
		{"blank text", text("alice", "group:ops", "   "), types.ErrValidation},
		{"too large", text("alice", "group:ops", strings.Repeat("x", types.MaxContentBytes+1)), types.ErrValidation},
		{"file without descriptor", interfaces.SendRequest{SenderID: "alice", RoomKey: "group:ops", Type: types.MessageTypeFile}, types.ErrValidation},
		{"file without url", interfaces.SendRequest{SenderID: "alice", RoomKey: "group:ops", Type: types.MessageTypeFile, File: &types.FileDescriptor{Name: "a.pdf"}}, types.ErrValidation},
		{"unknown type", interfaces.SendRequest{SenderID: "alice", RoomKey: "group:ops", Type: "video", Content: "x"}, types.ErrValidation},
		{"bad room key", text("alice", "room:ops", "hi"), types.ErrValidation},
		{"self private", text("alice", "private:alice:alice", "hi"), types.ErrValidation},
		{"unknown receiver", text("alice", types.PrivateRoomKey("alice", "zed"), "hi"), types.ErrValidation},
		{"not a participant", text("carol", types.PrivateRoomKey("alice", "bob"), "hi"), types.ErrForbidden},
		{"not on roster", text("dave", "group:ops", "hi"), types.ErrForbidden},
		{"unknown group", text("alice", "group:missing", "hi"), types.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testDeliveryConfig())
			watcher := h.connect(t, "b1", "bob")
			h.joinGroup(t, watcher, "ops")

			_, err := h.router.Send(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if n := h.store.MessageCount(); n != 0 {
				t.Errorf("rejected send persisted %d messages", n)
			}
			if n := len(watcher.Events()); n != 0 {
				t.Errorf("rejected send delivered %d events", n)
			}
		})
	}
}

func TestRouter_SendFileMessage(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	b1 := h.connect(t, "b1", "bob")
	h.joinGroup(t, b1, "ops")

	msg, err := h.router.Send(context.Background(), interfaces.SendRequest{
		SenderID: "alice",
		RoomKey:  "group:ops",
		Type:     types.MessageTypeFile,
		File:     &types.FileDescriptor{URL: "/files/abc.pdf", Name: "policy.pdf", Size: 1024, MimeType: "application/pdf"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	events := b1.EventsOfKind(types.KindReceiveMessage)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0].Payload.(*types.Message)
	if got.ID != msg.ID || got.Type != types.MessageTypeFile || got.FileURL != "/files/abc.pdf" || got.FileName != "policy.pdf" {
		t.Errorf("file message = %+v", got)
	}
}

func TestRouter_PersistenceFailureBlocksDelivery(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	b1 := h.connect(t, "b1", "bob")
	h.joinGroup(t, b1, "ops")

	h.store.SetAppendErr(errors.New("disk full"))
	_, err := h.router.Send(context.Background(), text("alice", "group:ops", "hi"))
	if !errors.Is(err, types.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if strings.Contains(types.AckFor(err).Message, "disk full") {
		t.Error("store details leaked into the ack")
	}
	if n := len(b1.Events()); n != 0 {
		t.Errorf("unpersisted message delivered %d events", n)
	}
	if got := h.unreadOf(t, "carol", "group:ops"); got != 0 {
		t.Errorf("unpersisted message bumped unread to %d", got)
	}
}

func TestRouter_PersistenceTimeout(t *testing.T) {
	cfg := testDeliveryConfig()
	cfg.PersistTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg)
	b1 := h.connect(t, "b1", "bob")
	h.joinGroup(t, b1, "ops")
	h.store.AppendDelay = 500 * time.Millisecond

	_, err := h.router.Send(context.Background(), text("alice", "group:ops", "hi"))
	if !errors.Is(err, types.ErrPersistenceTimeout) {
		t.Fatalf("expected ErrPersistenceTimeout, got %v", err)
	}
	if n := len(b1.Events()); n != 0 {
		t.Errorf("timed out message delivered %d events", n)
	}
}

func TestRouter_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()
	h.store.SetAppendErr(errors.New("io error"))

	for i := 0; i < 3; i++ {
		if _, err := h.router.Send(ctx, text("alice", "group:ops", "hi")); !errors.Is(err, types.ErrPersistence) {
			t.Fatalf("send %d: expected ErrPersistence, got %v", i, err)
		}
	}

	h.store.SetAppendErr(nil)
	_, err := h.router.Send(ctx, text("alice", "group:ops", "hi"))
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if h.store.Appends != 3 {
		t.Errorf("store saw %d appends, want 3 while the breaker is open", h.store.Appends)
	}
	if h.router.Gateway().State() != "open" {
		t.Errorf("breaker state = %s, want open", h.router.Gateway().State())
	}
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := testDeliveryConfig()
	cfg.RateLimitPerMinute = 3
	h := newHarness(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := h.router.Send(ctx, text("alice", "group:ops", "hi")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	_, err := h.router.Send(ctx, text("alice", "group:ops", "hi"))
	if !errors.Is(err, types.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := h.router.Send(ctx, text("bob", "group:ops", "hi")); err != nil {
		t.Errorf("other users keep their budget: %v", err)
	}
}

func TestRouter_RejectedSendsKeepBudget(t *testing.T) {
	cfg := testDeliveryConfig()
	cfg.RateLimitPerMinute = 1
	h := newHarness(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.router.Send(ctx, text("alice", types.PrivateRoomKey("alice", "zed"), "hi"))
		if !errors.Is(err, types.ErrValidation) {
			t.Fatalf("send %d: expected ErrValidation, got %v", i, err)
		}
		_, err = h.router.Send(ctx, text("dave", "group:ops", "hi"))
		if !errors.Is(err, types.ErrForbidden) {
			t.Fatalf("send %d: expected ErrForbidden, got %v", i, err)
		}
	}

	if _, err := h.router.Send(ctx, text("alice", "group:ops", "hi")); err != nil {
		t.Fatalf("first accepted send: %v", err)
	}
	if _, err := h.router.Send(ctx, text("alice", "group:ops", "hi")); !errors.Is(err, types.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRouter_OrderingUnderConcurrentSends(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()

	watchers := []*testutil.FakeConnection{h.connect(t, "b1", "bob"), h.connect(t, "c1", "carol")}
	for _, w := range watchers {
		h.joinGroup(t, w, "ops")
	}

	const perSender = 20
	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob", "carol"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := h.router.Send(ctx, text(sender, "group:ops", fmt.Sprintf("%s-%d", sender, i))); err != nil {
					t.Errorf("Send: %v", err)
				}
			}
		}(sender)
	}
	wg.Wait()

	for _, w := range watchers {
		events := w.EventsOfKind(types.KindReceiveMessage)
		if len(events) != 3*perSender {
			t.Fatalf("%s got %d events, want %d", w.ID(), len(events), 3*perSender)
		}
		var last int64
		for _, e := range events {
			id := e.Payload.(*types.Message).ID
			if id <= last {
				t.Fatalf("%s saw id %d after %d", w.ID(), id, last)
			}
			last = id
		}
	}
}

func TestRouter_FailedPushDoesNotFailSend(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	a1 := h.connect(t, "a1", "alice")
	b1 := h.connect(t, "b1", "bob")
	h.joinGroup(t, a1, "ops")
	h.joinGroup(t, b1, "ops")
	b1.FailSends(websocket.ErrSendBufferFull)

	if _, err := h.router.Send(context.Background(), text("carol", "group:ops", "hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := len(a1.EventsOfKind(types.KindReceiveMessage)); n != 1 {
		t.Errorf("healthy connection got %d events, want 1", n)
	}
}

func TestRouter_History(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 8; i++ {
		msg, err := h.router.Send(ctx, text("alice", "group:ops", fmt.Sprintf("m%d", i)))
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	tests := []struct {
		name     string
		limit    int
		beforeID int64
		want     []int64
	}{
		{"default limit", 0, 0, ids[5:]},
		{"explicit limit", 2, 0, ids[6:]},
		{"clamped to max", 100, 0, ids[3:]},
		{"before id", 2, ids[4], ids[2:4]},
		{"negative before", 1, -5, ids[7:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.router.History(ctx, "carol", "group:ops", tt.limit, tt.beforeID)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("message %d id = %d, want %d", i, got[i].ID, tt.want[i])
				}
			}
		})
	}

	again, _ := h.router.History(ctx, "carol", "group:ops", 2, 0)
	first, _ := h.router.History(ctx, "carol", "group:ops", 2, 0)
	if again[0].ID != first[0].ID || again[1].ID != first[1].ID {
		t.Error("history is not deterministic")
	}

	if _, err := h.router.History(ctx, "dave", "group:ops", 10, 0); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("non-member history: expected ErrForbidden, got %v", err)
	}
	if _, err := h.router.History(ctx, "carol", types.PrivateRoomKey("alice", "bob"), 10, 0); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("outsider private history: expected ErrForbidden, got %v", err)
	}
}

func TestRouter_Notify(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()
	b1 := h.connect(t, "b1", "bob")
	b2 := h.connect(t, "b2", "bob")
	c1 := h.connect(t, "c1", "carol")

	n := &types.Notification{UserID: "bob", Type: "leave", Title: "Leave approved", Message: "Enjoy"}
	if err := h.router.Notify(ctx, n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Errorf("notification not filled in: %+v", n)
	}

	for _, conn := range []*testutil.FakeConnection{b1, b2} {
		if got := len(conn.EventsOfKind(types.KindNewNotification)); got != 1 {
			t.Errorf("%s got %d notifications, want 1", conn.ID(), got)
		}
	}
	if got := len(c1.Events()); got != 0 {
		t.Errorf("other user got %d events", got)
	}

	stored, _ := h.store.ListNotifications(ctx, "bob", 10)
	if len(stored) != 1 {
		t.Errorf("stored notifications = %d, want 1", len(stored))
	}

	for _, bad := range []*types.Notification{nil, {UserID: "bob"}, {UserID: "bad id", Title: "x"}} {
		if err := h.router.Notify(ctx, bad); !errors.Is(err, types.ErrValidation) {
			t.Errorf("Notify(%+v): expected ErrValidation, got %v", bad, err)
		}
	}
}

func TestRouter_MarkReadAndUnreadCounts(t *testing.T) {
	h := newHarness(t, testDeliveryConfig())
	ctx := context.Background()

	_, _ = h.router.Send(ctx, text("alice", "group:ops", "one"))
	_, _ = h.router.Send(ctx, text("alice", "group:ops", "two"))
	_, _ = h.router.Send(ctx, text("alice", types.PrivateRoomKey("alice", "bob"), "psst"))

	counts, err := h.router.UnreadCounts(ctx, "bob")
	if err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	want := []types.UnreadCount{
		{RoomKey: "group:ops", Kind: types.RoomKindGroup, GroupID: "ops", Count: 2},
		{RoomKey: "private:alice:bob", Kind: types.RoomKindPrivate, UserID: "alice", Count: 1},
	}
	if len(counts) != len(want) {
		t.Fatalf("counts = %+v", counts)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %+v, want %+v", i, counts[i], want[i])
		}
	}

	if err := h.router.MarkRead(ctx, "bob", "group:ops"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := h.router.MarkRead(ctx, "bob", "group:ops"); err != nil {
		t.Fatalf("MarkRead twice: %v", err)
	}
	counts, _ = h.router.UnreadCounts(ctx, "bob")
	if len(counts) != 1 || counts[0].RoomKey != "private:alice:bob" {
		t.Errorf("counts after mark-read = %+v", counts)
	}

	if err := h.router.MarkRead(ctx, "carol", types.PrivateRoomKey("alice", "bob")); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := h.router.MarkRead(ctx, "bob", "garbage"); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
