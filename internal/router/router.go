// Package router persists messages and routes them to live connections,
// keeping unread markers for members who were not watching the room.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"huddle/internal/bus"
	"huddle/internal/config"
	"huddle/internal/logging"
	"huddle/internal/metrics"
	"huddle/internal/unread"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

var _ interfaces.MessageRouter = (*Router)(nil)

// RoomIndex answers who may read a room and who is watching it.
type RoomIndex interface {
	MembersOf(ctx context.Context, roomKey string) ([]string, error)
	HasSubscriber(userID, roomKey string) bool
}

// UserDirectory validates private message receivers.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Deps are the router's collaborators.
type Deps struct {
	Rooms  RoomIndex
	Users  UserDirectory
	Store  interfaces.Store
	Bus    bus.Bus
	Unread unread.Store
}

// Router implements interfaces.MessageRouter.
type Router struct {
	rooms   RoomIndex
	users   UserDirectory
	store   interfaces.Store
	gateway *Gateway
	bus     bus.Bus
	unread  unread.Store
	limiter *RateLimiter
	locks   *roomLocks

	historyDefault int
	historyMax     int

	logger zerolog.Logger
}

// NewRouter creates a router.
func NewRouter(deps Deps, cfg config.DeliveryConfig) *Router {
	historyDefault, historyMax := cfg.HistoryDefaultLimit, cfg.HistoryMaxLimit
	if historyMax <= 0 {
		historyMax = 200
	}
	if historyDefault <= 0 || historyDefault > historyMax {
		historyDefault = min(50, historyMax)
	}

	return &Router{
		rooms: deps.Rooms,
		users: deps.Users,
		store: deps.Store,
		gateway: NewGateway(deps.Store, GatewayConfig{
			Timeout:         cfg.PersistTimeout,
			BreakerFailures: cfg.BreakerFailures,
			BreakerTimeout:  cfg.BreakerTimeout,
		}),
		bus:            deps.Bus,
		unread:         deps.Unread,
		limiter:        NewRateLimiter(cfg.RateLimitPerMinute),
		locks:          newRoomLocks(),
		historyDefault: historyDefault,
		historyMax:     historyMax,
		logger:         logging.WithComponent("router"),
	}
}

// Limiter exposes the send rate limiter for periodic cleanup.
func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}

// Gateway exposes the persistence gateway.
func (r *Router) Gateway() *Gateway {
	return r.gateway
}

// Send validates, authorizes, persists and fans out one message. Nothing is
// delivered unless the message was persisted.
func (r *Router) Send(ctx context.Context, req interfaces.SendRequest) (*types.Message, error) {
	ref, err := types.ParseRoomKey(req.RoomKey)
	if err != nil {
		metrics.SendFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	message, err := buildMessage(ref, req)
	if err != nil {
		metrics.SendFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	members, err := r.authorize(ctx, ref, req.SenderID)
	if err != nil {
		metrics.SendFailures.WithLabelValues("forbidden").Inc()
		return nil, err
	}

	if !r.limiter.Allow(req.SenderID) {
		metrics.SendFailures.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimitExceeded
	}

	unlock := r.locks.Lock(ref.Key)
	defer unlock()

	if err := r.gateway.Append(ctx, message); err != nil {
		reason := "persistence"
		if errors.Is(err, types.ErrPersistenceTimeout) {
			reason = "persistence_timeout"
		}
		metrics.SendFailures.WithLabelValues(reason).Inc()
		logging.Ctx(ctx).Error().Err(err).Str("room", ref.Key).Str("sender_id", req.SenderID).Msg("Message not persisted")
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(ref.Kind, message.Type).Inc()

	kind := types.KindReceiveMessage
	if ref.IsPrivate() {
		kind = types.KindReceivePrivate
	}
	if err := r.bus.Publish(ctx, &types.Delivery{Kind: kind, RoomKey: ref.Key, Message: message, Recipients: members}); err != nil {
		r.logger.Error().Err(err).Int64("message_id", message.ID).Str("room", ref.Key).Msg("Failed to publish delivery")
	}

	r.markUnread(ctx, ref.Key, req.SenderID, members)

	r.logger.Debug().
		Int64("message_id", message.ID).
		Str("room", ref.Key).
		Str("sender_id", req.SenderID).
		Msg("Message routed")
	return message, nil
}

func buildMessage(ref types.RoomRef, req interfaces.SendRequest) (*types.Message, error) {
	message := &types.Message{
		RoomKey:  ref.Key,
		SenderID: req.SenderID,
		Type:     req.Type,
		Content:  req.Content,
	}
	if message.Type == "" {
		message.Type = types.MessageTypeText
	}
	if ref.IsPrivate() {
		receiver, ok := ref.Counterpart(req.SenderID)
		if !ok {
			return nil, ErrSenderNotMember
		}
		message.ReceiverID = receiver
	} else {
		message.GroupID = ref.GroupID
	}

	if len(message.Content) > types.MaxContentBytes {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrContentTooLarge)
	}

	switch message.Type {
	case types.MessageTypeText:
		if strings.TrimSpace(message.Content) == "" {
			return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrEmptyContent)
		}
	case types.MessageTypeFile:
		if req.File == nil || req.File.URL == "" || req.File.Name == "" {
			return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrInvalidFile)
		}
		message.AttachFile(req.File)
	default:
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrInvalidKind)
	}
	return message, nil
}

// authorize re-checks membership at send time and returns the room's members.
func (r *Router) authorize(ctx context.Context, ref types.RoomRef, senderID string) ([]string, error) {
	if ref.IsPrivate() {
		receiver, _ := ref.Counterpart(senderID)
		exists, err := r.users.UserExists(ctx, receiver)
		if err != nil {
			return nil, fmt.Errorf("failed to look up receiver: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReceiver, receiver)
		}
	}
	return r.membersIncluding(ctx, ref, senderID, ErrSenderNotMember)
}

// membersIncluding returns the room's members, or notMember when userID is
// not one of them or the room does not exist.
func (r *Router) membersIncluding(ctx context.Context, ref types.RoomRef, userID string, notMember error) ([]string, error) {
	members, err := r.rooms.MembersOf(ctx, ref.Key)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", notMember, err)
		}
		return nil, err
	}
	for _, m := range members {
		if m == userID {
			return members, nil
		}
	}
	return nil, notMember
}

// markUnread bumps the marker of every member other than the sender that has
// no connection subscribed to the room on this node.
func (r *Router) markUnread(ctx context.Context, roomKey, senderID string, members []string) {
	for _, userID := range members {
		if userID == senderID || r.rooms.HasSubscriber(userID, roomKey) {
			continue
		}
		if _, err := r.unread.Increment(ctx, userID, roomKey); err != nil {
			r.logger.Error().Err(err).Str("user_id", userID).Str("room", roomKey).Msg("Failed to increment unread marker")
			continue
		}
		metrics.UnreadIncrements.Inc()
	}
}

// History returns up to limit messages of roomKey older than beforeID,
// oldest first. userID must be a member of the room.
func (r *Router) History(ctx context.Context, userID, roomKey string, limit int, beforeID int64) ([]*types.Message, error) {
	ref, err := types.ParseRoomKey(roomKey)
	if err != nil {
		return nil, err
	}
	if _, err := r.membersIncluding(ctx, ref, userID, ErrReaderNotMember); err != nil {
		return nil, err
	}

	limit = r.clampLimit(limit)
	if beforeID < 0 {
		beforeID = 0
	}

	var messages []*types.Message
	err = r.gateway.Run(ctx, func(ctx context.Context) error {
		var err error
		messages, err = r.store.History(ctx, ref.Key, limit, beforeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *Router) clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return r.historyDefault
	case limit > r.historyMax:
		return r.historyMax
	default:
		return limit
	}
}

// Notify persists n and pushes it to every connection of its owner.
func (r *Router) Notify(ctx context.Context, n *types.Notification) error {
	if n == nil || !types.IsValidUserID(n.UserID) || strings.TrimSpace(n.Title) == "" {
		return ErrInvalidNotification
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Type == "" {
		n.Type = "general"
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if err := r.gateway.Run(ctx, func(ctx context.Context) error {
		return r.store.CreateNotification(ctx, n)
	}); err != nil {
		return err
	}

	delivery := &types.Delivery{Kind: types.KindNewNotification, UserID: n.UserID, Notification: n}
	if err := r.bus.Publish(ctx, delivery); err != nil {
		r.logger.Error().Err(err).Str("notification_id", n.ID).Msg("Failed to publish notification")
	}
	return nil
}

// MarkRead clears userID's marker for roomKey.
func (r *Router) MarkRead(ctx context.Context, userID, roomKey string) error {
	ref, err := types.ParseRoomKey(roomKey)
	if err != nil {
		return err
	}
	if ref.IsPrivate() && !ref.Includes(userID) {
		return ErrReaderNotMember
	}
	return r.unread.Clear(ctx, userID, ref.Key)
}

// UnreadCounts lists userID's non-zero markers ordered by room key.
func (r *Router) UnreadCounts(ctx context.Context, userID string) ([]types.UnreadCount, error) {
	counts, err := r.unread.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]types.UnreadCount, 0, len(counts))
	for key, n := range counts {
		ref, err := types.ParseRoomKey(key)
		if err != nil {
			continue
		}
		uc := types.UnreadCount{RoomKey: key, Kind: ref.Kind, Count: n}
		if ref.IsPrivate() {
			uc.UserID, _ = ref.Counterpart(userID)
		} else {
			uc.GroupID = ref.GroupID
		}
		out = append(out, uc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomKey < out[j].RoomKey })
	return out, nil
}
