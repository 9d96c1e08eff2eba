package ws

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"duochat/core"
	"duochat/pubsub"
)

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub tracks the open connections of every user and their room-topic
// subscriptions. Inbound events are exposed through Receive for the event
// router; outbound room events flow from the pub-sub topics straight into
// the subscribed connections.
//
// The hub also produces the presence signals of the transport: when the
// last connection a user had in a room closes, the OnUserLeftRoom callback
// fires so the chat service can drop the user from the room's presence set.
type Hub struct {
	conns map[string][]*Conn
	mu    sync.RWMutex

	subscriber pubsub.Subscriber
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	receivedEvents chan *core.Event
	onUserLeftRoom func(roomID, user string)

	baseCtx      context.Context
	wg           sync.WaitGroup
	nextConnID   atomic.Int64
	closeTimeout time.Duration

	// WriteStreamSize is the per-connection buffer of outbound events.
	// A connection that cannot drain its buffer is disconnected.
	WriteStreamSize int
}

type HubOption func(*Hub)

func WithCheckOrigin(f func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = f
	}
}

func WithCloseTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.closeTimeout = d
	}
}

func NewHub(ctx context.Context, subscriber pubsub.Subscriber, logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		conns:           make(map[string][]*Conn),
		subscriber:      subscriber,
		upgrader:        defaultUpgrader,
		logger:          logger,
		baseCtx:         ctx,
		closeTimeout:    10 * time.Second,
		onUserLeftRoom:  func(string, string) {},
		WriteStreamSize: 100,
	}

	for _, opt := range opts {
		opt(h)
	}

	h.receivedEvents = make(chan *core.Event, h.WriteStreamSize)

	return h
}

// Receive implements core.EventTransport.
func (h *Hub) Receive() <-chan *core.Event {
	return h.receivedEvents
}

// SendToUser implements core.EventTransport. The event goes to every open
// connection of the user and nobody else.
func (h *Hub) SendToUser(e *core.Event, user string) {
	h.mu.RLock()
	conns := slices.Clone(h.conns[user])
	h.mu.RUnlock()

	for _, c := range conns {
		h.sendOrDisconnect(c, e)
	}
}

// OnUserLeftRoom registers the callback fired when a user's last
// connection in a room closes.
func (h *Hub) OnUserLeftRoom(f func(roomID, user string)) {
	h.onUserLeftRoom = f
}

// Connect upgrades the request and registers the connection under user.
func (h *Hub) Connect(user string, w http.ResponseWriter, r *http.Request) error {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	id := h.nextConnID.Add(1)
	c := &Conn{
		conn:        wsConn,
		user:        user,
		id:          id,
		writeStream: make(chan *core.Event, h.WriteStreamSize),
		rooms:       make(map[string]context.CancelFunc),
		hub:         h,
		ticker:      time.NewTicker(pingPeriod),
		logger:      h.logger.With(slog.String("conn.user", user), slog.Int64("conn.id", id)),
	}

	h.mu.Lock()
	h.conns[user] = append(h.conns[user], c)
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.readLoop()
	}()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.writeLoop()
	}()

	h.logger.Info("new connection", slog.String("user", user), slog.Int64("id", id))
	return nil
}

// JoinRoom subscribes every open connection of the user to the room's
// topic. Already-subscribed connections are left alone, so the call is
// idempotent. Events arriving on the topic are forwarded to the
// connection's write stream.
func (h *Hub) JoinRoom(user, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.conns[user] {
		if _, ok := c.rooms[roomID]; ok {
			continue
		}

		subCtx, cancel := context.WithCancel(h.baseCtx)
		conn := c
		err := h.subscriber.Subscribe(subCtx, pubsub.RoomTopic(roomID), func(ctx context.Context, msg pubsub.Message) error {
			var e core.Event
			if err := core.DecodeEvent(bytes.NewReader(msg.Payload), &e); err != nil {
				return err
			}
			h.sendOrDisconnect(conn, &e)
			return nil
		})
		if err != nil {
			cancel()
			return err
		}
		c.rooms[roomID] = cancel
	}
	return nil
}

// Close disconnects everything and waits for the connection goroutines,
// bounded by the close timeout.
func (h *Hub) Close() {
	h.mu.RLock()
	var conns []*Conn
	for _, cs := range h.conns {
		conns = append(conns, cs...)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.disconnect(c)
	}

	timer := time.NewTimer(h.closeTimeout)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-timer.C:
		h.logger.Info("hub closed with timeout")
	case <-done:
		h.logger.Info("hub closed gracefully")
	}
}

func (h *Hub) pass(e *core.Event) {
	h.receivedEvents <- e
}

// sendOrDisconnect sends an event to a connection. If the connection's
// write stream is full, the connection is dropped instead of blocking the
// sender.
func (h *Hub) sendOrDisconnect(c *Conn, e *core.Event) {
	if !c.trySend(e) {
		h.disconnect(c)
	}
}

func (h *Hub) disconnect(c *Conn) {
	h.mu.Lock()
	conns := h.conns[c.user]
	idx := slices.Index(conns, c)
	if idx == -1 {
		h.mu.Unlock()
		return
	}
	conns = slices.Delete(conns, idx, idx+1)
	if len(conns) == 0 {
		delete(h.conns, c.user)
	} else {
		h.conns[c.user] = conns
	}

	rooms := c.rooms
	c.rooms = make(map[string]context.CancelFunc)

	// Rooms where this was the user's last connection lose the user's
	// presence.
	left := make([]string, 0, len(rooms))
	for roomID := range rooms {
		last := true
		for _, other := range conns {
			if _, ok := other.rooms[roomID]; ok {
				last = false
				break
			}
		}
		if last {
			left = append(left, roomID)
		}
	}
	h.mu.Unlock()

	for _, cancel := range rooms {
		cancel()
	}
	c.close()

	for _, roomID := range left {
		h.onUserLeftRoom(roomID, c.user)
	}

	h.logger.Info("connection closed", slog.String("user", c.user), slog.Int64("id", c.id))
}
