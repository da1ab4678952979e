package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go-signal/internal/transport"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 4096                // Maximum message size allowed from peer.

	sendBufferSize = 256
)

// Client is one attached websocket connection. It implements
// transport.Outbox so the fanout engine can push to it through the
// connection table.
type Client struct {
	ConnID      string
	UserID      string
	DisplayName string

	conn    *websocket.Conn
	send    chan []byte
	closed  chan struct{}
	once    sync.Once
	handler *Handler
	log     *slog.Logger
}

// Enqueue hands a payload to the write pump without blocking. A full
// buffer means the client is reading too slowly; the payload is
// dropped and the connection left alive.
func (c *Client) Enqueue(payload []byte) error {
	select {
	case <-c.closed:
		return transport.ErrGone
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return transport.ErrGone
	default:
		return transport.ErrSlowConsumer
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// readPump pumps inbound frames into the handler's router. It also
// owns the disconnect path: when the read loop exits, for any reason,
// the connection is detached and presence gets to react.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.handler.handleDisconnect(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("ws: unexpected close", "connection_id", c.ConnID, "err", err)
			}
			return
		}
		c.handler.route(c, message)
	}
}

// writePump drains the send buffer to the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush anything else already queued in one writer to
			// cut down on syscalls.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
