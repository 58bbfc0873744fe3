package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
	sendBuffer   = 64
)

// HandleWebSocket upgrades the request, greets the client with the latest
// result and serves it until either side closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	c := &Client{hub: h, send: make(chan []byte, sendBuffer), conn: conn, ready: make(chan struct{})}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	select {
	case <-c.ready:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	c.reply(MsgLatest, h.latestPayload())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writeLoop(ctx)
	c.readLoop(ctx)
}

func (h *Hub) latestPayload() json.RawMessage {
	if h.latest == nil {
		return nil
	}
	data, err := h.latest()
	if err != nil {
		h.logger.Warn("latest result unavailable", "error", err)
		return nil
	}
	return data
}

// reply queues a message for this client only. Nil payloads are skipped
// for latest results, which have nothing to send before the first analysis.
func (c *Client) reply(typ MessageType, payload json.RawMessage) {
	if typ == MsgLatest && payload == nil {
		return
	}
	data, err := NewMessage(typ, payload)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.hub.logger.Debug("websocket client closed the connection")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("ignoring malformed websocket message", "error", err)
			continue
		}

		switch msg.Type {
		case MsgSync:
			c.reply(MsgLatest, c.hub.latestPayload())
		case MsgSubscribe:
			var sub Subscription
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &sub); err != nil {
					c.reply(MsgError, mustJSON(map[string]string{"message": "invalid subscription: " + err.Error()}))
					continue
				}
			}
			c.subscribe(sub.Types)
			c.reply(MsgSubscribed, mustJSON(sub))
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
