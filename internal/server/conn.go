package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dankular/Babblefish/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("send queue full")
)

// wsConn adapts a WebSocket connection to a session transport. Outbound
// messages go through a bounded queue drained by writePump; inbound frames
// are handed to the session by readPump.
type wsConn struct {
	conn   *websocket.Conn
	logger *slog.Logger

	send   chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex

	writerDone chan struct{}
}

func newWSConn(conn *websocket.Conn, queueSize int, maxMessageSize int64, logger *slog.Logger) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{
		conn:       conn,
		logger:     logger,
		send:       make(chan []byte, queueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Send queues a message without blocking
func (c *wsConn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("%w (%d messages)", errQueueFull, cap(c.send))
	}
}

// Close stops accepting messages. Already queued messages are written
// before the close frame.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	close(c.done)
	return nil
}

// readPump delivers inbound frames until the peer goes away or the
// connection is closed. frames is closed on return.
func (c *wsConn) readPump(frames chan<- []byte) {
	defer close(frames)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Connection read failed", slog.String("error", err.Error()))
			}
			return
		}

		select {
		case frames <- data:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued messages and keepalive pings
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Connection write failed", slog.String("error", err.Error()))
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
