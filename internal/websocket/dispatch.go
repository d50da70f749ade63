package websocket

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"huddle/internal/logging"
	"huddle/internal/validation"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

// Dispatcher decodes inbound envelopes and routes them to the membership
// manager and the router. Frames of one connection are handled in order.
type Dispatcher struct {
	members interfaces.Memberships
	router  interfaces.MessageRouter
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(members interfaces.Memberships, router interfaces.MessageRouter) *Dispatcher {
	return &Dispatcher{
		members: members,
		router:  router,
		logger:  logging.WithComponent("dispatch"),
	}
}

// Dispatch handles one frame from conn. Failures only ever reach the
// sender, as an ack.
func (d *Dispatcher) Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Kind == "" {
		d.reply(conn, env.Ref, ErrMalformedFrame, true)
		return
	}

	switch env.Kind {
	case types.KindPing:
		d.send(conn, &types.Event{Kind: types.KindPong, Ref: env.Ref, Payload: struct{}{}})

	case types.KindJoinGroup:
		var p types.JoinGroupPayload
		if err := decode(env.Payload, &p); err != nil {
			d.reply(conn, env.Ref, err, true)
			return
		}
		ack, err := d.members.JoinGroup(ctx, conn.ID(), conn.UserID(), p.GroupID)
		if err != nil {
			ack = types.AckFor(err)
		}
		d.send(conn, types.NewAck(env.Ref, ack))

	case types.KindJoinPrivate:
		var p types.JoinPrivatePayload
		if err := decode(env.Payload, &p); err != nil {
			d.reply(conn, env.Ref, err, false)
			return
		}
		roomKey, err := d.members.JoinPrivate(ctx, conn.ID(), conn.UserID(), p.TargetUserID)
		if err != nil {
			d.reply(conn, env.Ref, err, false)
			return
		}
		if env.Ref != "" {
			d.send(conn, types.NewAck(env.Ref, types.AckPayload{Success: true, Message: roomKey}))
		}

	case types.KindLeaveRoom:
		var p types.LeaveRoomPayload
		if err := decode(env.Payload, &p); err != nil {
			d.reply(conn, env.Ref, err, false)
			return
		}
		d.members.Leave(conn.ID(), roomKeyFor(conn.UserID(), p.GroupID, p.TargetUserID))
		d.reply(conn, env.Ref, nil, false)

	case types.KindSendMessage:
		var p types.SendMessagePayload
		if err := decode(env.Payload, &p); err != nil {
			d.reply(conn, env.Ref, err, true)
			return
		}
		_, err := d.router.Send(ctx, interfaces.SendRequest{
			ConnectionID: conn.ID(),
			SenderID:     conn.UserID(),
			RoomKey:      types.GroupRoomKey(p.GroupID),
			Type:         p.Type,
			Content:      p.Content,
			File:         p.File,
		})
		d.reply(conn, env.Ref, err, true)

	case types.KindSendPrivate:
		var p types.SendPrivatePayload
		if err := decode(env.Payload, &p); err != nil {
			d.reply(conn, env.Ref, err, false)
			return
		}
		_, err := d.router.Send(ctx, interfaces.SendRequest{
			ConnectionID: conn.ID(),
			SenderID:     conn.UserID(),
			RoomKey:      types.PrivateRoomKey(conn.UserID(), p.ReceiverID),
			Type:         types.MessageTypeText,
			Content:      p.Content,
		})
		d.reply(conn, env.Ref, err, false)

	case types.KindMarkRead:
		var p types.MarkReadPayload
		if err := decode(env.Payload, &p); err != nil {
			d.reply(conn, env.Ref, err, false)
			return
		}
		err := d.router.MarkRead(ctx, conn.UserID(), roomKeyFor(conn.UserID(), p.GroupID, p.UserID))
		d.reply(conn, env.Ref, err, false)

	default:
		d.reply(conn, env.Ref, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind), true)
	}
}

// decode unmarshals and validates a payload.
func decode(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: invalid payload", types.ErrValidation)
	}
	return validation.Struct(dst)
}

// roomKeyFor resolves a group id or private counterpart to a room key.
func roomKeyFor(userID, groupID, counterpart string) string {
	if groupID != "" {
		return types.GroupRoomKey(groupID)
	}
	return types.PrivateRoomKey(userID, counterpart)
}

// reply acks the outcome when the request carried a ref, or always when
// the kind is always acknowledged.
func (d *Dispatcher) reply(conn interfaces.Connection, ref string, err error, always bool) {
	if err != nil {
		d.logger.Debug().Err(err).Str("connection_id", conn.ID()).Str("user_id", conn.UserID()).Msg("Request failed")
	}
	if ref == "" && !always {
		return
	}
	d.send(conn, types.NewAck(ref, types.AckFor(err)))
}

func (d *Dispatcher) send(conn interfaces.Connection, event *types.Event) {
	if err := conn.Send(event); err != nil {
		d.logger.Debug().Err(err).Str("connection_id", conn.ID()).Str("kind", event.Kind).Msg("Failed to send reply")
	}
}
