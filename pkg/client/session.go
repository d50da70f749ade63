// Package client is a Go client for the huddle socket protocol: a Session
// for one live connection and a Supervisor that keeps one alive.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"huddle/pkg/types"
)

const (
	eventBuffer  = 256
	writeTimeout = 10 * time.Second
)

var (
	// ErrSessionClosed is returned by requests on a closed session.
	ErrSessionClosed = fmt.Errorf("%w: session closed", types.ErrTransport)

	// ErrRejected wraps a negative ack. The ack message follows it.
	ErrRejected = errors.New("request rejected")
)

// Event is a frame pushed by the server. Payload is left raw and can be
// decoded with Decode.
type Event struct {
	Kind    string          `json:"kind"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into dst.
func (e *Event) Decode(dst interface{}) error {
	return json.Unmarshal(e.Payload, dst)
}

// Message decodes a receive-message or receive-private payload.
func (e *Event) Message() (*types.Message, error) {
	var m types.Message
	if err := e.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Session is one authenticated socket. Requests carrying a ref are matched
// to their ack; everything else is delivered on Events.
type Session struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	seq     atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan *Event

	events  chan *Event
	dropped atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens a session to a ws:// or wss:// endpoint. The token is sent as a
// bearer header. A 401 from the handshake is reported as types.ErrAuth.
func Dial(ctx context.Context, endpoint, token string) (*Session, error) {
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", types.ErrValidation, err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: handshake rejected", types.ErrAuth)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrTransport, endpoint, err)
	}

	s := &Session{
		conn:    conn,
		pending: make(map[string]chan *Event),
		events:  make(chan *Event, eventBuffer),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) readLoop() {
	var err error
	defer func() {
		s.shutdown(err)
		close(s.events)
	}()

	for {
		var data []byte
		if _, data, err = s.conn.ReadMessage(); err != nil {
			return
		}
		var ev Event
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		if ev.Ref != "" && s.resolve(&ev) {
			continue
		}
		select {
		case s.events <- &ev:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Session) resolve(ev *Event) bool {
	s.mu.Lock()
	ch, ok := s.pending[ev.Ref]
	delete(s.pending, ev.Ref)
	s.mu.Unlock()
	if ok {
		ch <- ev
	}
	return ok
}

// Request sends kind with a fresh ref and waits for the matching reply.
func (s *Session) Request(ctx context.Context, kind string, payload interface{}) (*Event, error) {
	ref := strconv.FormatUint(s.seq.Add(1), 10)
	ch := make(chan *Event, 1)

	s.mu.Lock()
	s.pending[ref] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, ref)
		s.mu.Unlock()
	}()

	if err := s.write(kind, ref, payload); err != nil {
		return nil, err
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends kind without a ref. Kinds that are always acknowledged will
// still produce an ack on Events.
func (s *Session) Notify(kind string, payload interface{}) error {
	return s.write(kind, "", payload)
}

func (s *Session) write(kind, ref string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	frame, err := json.Marshal(types.Envelope{Kind: kind, Ref: ref, Payload: raw})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	return nil
}

func (s *Session) ack(ctx context.Context, kind string, payload interface{}) (types.AckPayload, error) {
	ev, err := s.Request(ctx, kind, payload)
	if err != nil {
		return types.AckPayload{}, err
	}
	var ack types.AckPayload
	if err := ev.Decode(&ack); err != nil {
		return types.AckPayload{}, fmt.Errorf("%w: malformed ack", types.ErrTransport)
	}
	if !ack.Success {
		return ack, fmt.Errorf("%w: %s", ErrRejected, ack.Message)
	}
	return ack, nil
}

// JoinGroup subscribes this session to a group room.
func (s *Session) JoinGroup(ctx context.Context, groupID string) error {
	_, err := s.ack(ctx, types.KindJoinGroup, types.JoinGroupPayload{GroupID: groupID})
	return err
}

// JoinPrivate subscribes to the private room with target and returns its key.
func (s *Session) JoinPrivate(ctx context.Context, targetUserID string) (string, error) {
	ack, err := s.ack(ctx, types.KindJoinPrivate, types.JoinPrivatePayload{TargetUserID: targetUserID})
	return ack.Message, err
}

// LeaveGroup drops the subscription to a group room.
func (s *Session) LeaveGroup(ctx context.Context, groupID string) error {
	_, err := s.ack(ctx, types.KindLeaveRoom, types.LeaveRoomPayload{GroupID: groupID})
	return err
}

// SendMessage posts a text message to a group.
func (s *Session) SendMessage(ctx context.Context, groupID, content string) error {
	_, err := s.ack(ctx, types.KindSendMessage, types.SendMessagePayload{
		GroupID: groupID,
		Content: content,
		Type:    types.MessageTypeText,
	})
	return err
}

// SendPrivate posts a text message to receiverID.
func (s *Session) SendPrivate(ctx context.Context, receiverID, content string) error {
	_, err := s.ack(ctx, types.KindSendPrivate, types.SendPrivatePayload{ReceiverID: receiverID, Content: content})
	return err
}

// MarkGroupRead clears the caller's unread marker of a group.
func (s *Session) MarkGroupRead(ctx context.Context, groupID string) error {
	_, err := s.ack(ctx, types.KindMarkRead, types.MarkReadPayload{GroupID: groupID})
	return err
}

// MarkPrivateRead clears the caller's unread marker of a private conversation.
func (s *Session) MarkPrivateRead(ctx context.Context, userID string) error {
	_, err := s.ack(ctx, types.KindMarkRead, types.MarkReadPayload{UserID: userID})
	return err
}

// Ping round-trips an application level ping.
func (s *Session) Ping(ctx context.Context) error {
	ev, err := s.Request(ctx, types.KindPing, struct{}{})
	if err != nil {
		return err
	}
	if ev.Kind != types.KindPong {
		return fmt.Errorf("%w: expected pong, got %s", types.ErrTransport, ev.Kind)
	}
	return nil
}

// Events delivers pushed frames. It is closed when the session ends. Frames
// arriving while the buffer is full are dropped and counted.
func (s *Session) Events() <-chan *Event { return s.events }

// Dropped is the number of events discarded on a full buffer.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// Done is closed when the session ends for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is the reason the session ended, nil while it is open or after Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close sends a normal closure and tears the session down.
func (s *Session) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	s.shutdown(nil)
	return nil
}

func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			s.err = fmt.Errorf("%w: %v", types.ErrTransport, err)
		}
		close(s.done)
		_ = s.conn.Close()
	})
}
