package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"duochat/core"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Conn is one websocket connection of a user. A user may hold several
// connections at once; each one carries its own room subscriptions.
type Conn struct {
	conn        *websocket.Conn
	user        string
	id          int64
	writeStream chan *core.Event
	// rooms maps an entered room to the cancel func of its topic
	// subscription. Guarded by the hub mutex.
	rooms  map[string]context.CancelFunc
	hub    *Hub
	ticker *time.Ticker
	logger *slog.Logger

	// sendMu serializes trySend against close so topic subscriptions can
	// never write to a closed stream.
	sendMu sync.Mutex
	closed bool
}

// trySend queues an event without blocking. It reports false when the
// write stream is full; events for an already-closed connection are
// silently dropped.
func (c *Conn) trySend(e *core.Event) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.writeStream <- e:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.writeStream)
}

func (c *Conn) readLoop() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
		c.logger.Info("exited read loop")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		mt, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if mt != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %v", mt))
			continue
		}

		var event core.Event
		if err := core.DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		// Identity comes from the connection, never from the payload.
		event.Dispatcher = c.user

		c.hub.pass(&event)
	}
}

func (c *Conn) writeLoop() {
	var err error
	defer func() {
		c.ticker.Stop()
		if err != nil {
			c.conn.Close()
		}
		c.logger.Info("exited write loop")
	}()

	for {
		select {
		case e, ok := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, werr := c.conn.NextWriter(websocket.TextMessage)
			if werr != nil {
				err = werr
				c.logger.Error(fmt.Sprintf("NextWriter: %v", werr))
				return
			}
			if eerr := core.EncodeEvent(w, e); eerr != nil {
				c.logger.Error(eerr.Error())
			}
			w.Close()
		case <-c.ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("WritePing: %v", err))
				return
			}
		}
	}
}
