package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshconf/conference-relay/internal/ratelimit"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Outbound queue depth per connection. A peer that falls further behind
	// than this starts losing messages rather than stalling the relay.
	sendQueueLen = 256
)

// client wraps one websocket connection and its participant handle.
type client struct {
	srv    *Server
	conn   *websocket.Conn
	handle string
	log    *slog.Logger

	send chan []byte

	limiter *ratelimit.TokenBucket

	sendMu sync.Mutex
	closed bool
}

// enqueue queues an outbound frame without blocking. Delivery is
// fire-and-forget: frames to a slow or closed peer are dropped.
func (c *client) enqueue(msg wireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal outbound frame", "err", err)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("outbound queue full, dropping frame", "type", msg.Type)
	}
}

// readPump reads frames from the connection and hands them to the server.
// It is the only reader of the connection; on exit the server performs the
// full disconnect flow.
func (c *client) readPump() {
	defer c.srv.disconnect(c)

	c.conn.SetReadLimit(c.srv.maxMessageBytes())
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout()))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("read error", "err", err)
			}
			return
		}
		// Rate limit *after* reading so bytes already buffered by the OS are
		// consumed; closing with unread data can turn into an abortive close
		// that hides the close code from the client.
		if !c.limiter.Allow(1) {
			c.srv.rejectAndClose(c, "rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation)
			return
		}
		if msgType != websocket.TextMessage {
			c.srv.rejectAndClose(c, "bad_message", "expected text message", websocket.CloseUnsupportedData)
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			// A malformed frame must not take down the session: report it and
			// keep reading.
			c.srv.rejectFrame(c, err)
			continue
		}

		if msg.Type == messageTypeClose {
			return
		}
		c.srv.dispatch(c, msg)
	}
}

// writePump is the only writer of the connection. It drains the send queue
// and emits keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.pingInterval())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeSend closes the outbound queue exactly once, releasing writePump.
func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
