package router

import (
	"context"

	"github.com/rs/zerolog"

	"huddle/internal/logging"
	"huddle/internal/membership"
	"huddle/internal/metrics"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

// ConnectionSource resolves live connections.
type ConnectionSource interface {
	Get(connectionID string) (interfaces.Connection, bool)
	Connections(userID string) []interfaces.Connection
}

// SubscriberSource lists a room's subscribed connections.
type SubscriberSource interface {
	SubscribersOf(roomKey string) []membership.Subscriber
}

// Fanout pushes deliveries to this node's live connections.
type Fanout struct {
	conns  ConnectionSource
	subs   SubscriberSource
	logger zerolog.Logger
}

// NewFanout creates the local fan-out stage.
func NewFanout(conns ConnectionSource, subs SubscriberSource) *Fanout {
	return &Fanout{
		conns:  conns,
		subs:   subs,
		logger: logging.WithComponent("fanout"),
	}
}

// Deliver enqueues d on every connection that should see it. Group messages
// reach subscribed connections of users on d.Recipients; private messages
// and notifications reach every connection of their users. A failed push
// never stops the others.
func (f *Fanout) Deliver(_ context.Context, d *types.Delivery) {
	f.DeliverCount(d)
}

// DeliverCount is Deliver returning the number of successful pushes.
func (f *Fanout) DeliverCount(d *types.Delivery) int {
	targets := f.targets(d)
	if len(targets) == 0 {
		return 0
	}

	event := d.Event()
	pushed := 0
	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			metrics.FanoutPushes.WithLabelValues("failed").Inc()
			f.logger.Warn().
				Err(err).
				Str("connection_id", conn.ID()).
				Str("user_id", conn.UserID()).
				Str("kind", d.Kind).
				Msg("Failed to push delivery")
			continue
		}
		metrics.FanoutPushes.WithLabelValues("ok").Inc()
		pushed++
	}
	return pushed
}

func (f *Fanout) targets(d *types.Delivery) []interfaces.Connection {
	if d.Notification != nil {
		return f.conns.Connections(d.Notification.UserID)
	}
	if d.Message == nil {
		return nil
	}

	ref, err := types.ParseRoomKey(d.Message.RoomKey)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Delivery with invalid room key")
		return nil
	}

	if ref.IsPrivate() {
		out := f.conns.Connections(ref.Participants[0])
		return append(out, f.conns.Connections(ref.Participants[1])...)
	}

	roster := make(map[string]struct{}, len(d.Recipients))
	for _, userID := range d.Recipients {
		roster[userID] = struct{}{}
	}

	subs := f.subs.SubscribersOf(ref.Key)
	out := make([]interfaces.Connection, 0, len(subs))
	for _, s := range subs {
		if _, ok := roster[s.UserID]; !ok {
			continue
		}
		if conn, ok := f.conns.Get(s.ConnectionID); ok {
			out = append(out, conn)
		}
	}
	return out
}
