package authz

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// Client is one audit stream subscriber.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan *StreamMessage

	mu     sync.RWMutex
	chatID string // "" receives every decision
}

// NewClient creates a new stream client
func NewClient(hub *Hub, conn *websocket.Conn, chatID string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan *StreamMessage, 64),
		chatID: chatID,
	}
}

func (c *Client) wants(msg *StreamMessage) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chatID == "" || c.chatID == msg.ChatID
}

// ReadPump handles subscribe messages and pongs until the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				alog().Error("stream read error: %v", err)
			}
			return
		}

		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageTypeSubscribe {
			c.reply(&StreamMessage{Type: MessageTypeError, Detail: "expected a subscribe message"})
			continue
		}
		c.mu.Lock()
		c.chatID = msg.ChatID
		c.mu.Unlock()
		alog().Debug("stream client %s subscribed to chat %q", c.ID, msg.ChatID)
	}
}

// WritePump writes queued messages and pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				alog().Error("failed to write stream message: %v", err)
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

// reply queues a message for this client only. It must not race with the hub
// closing send, so it goes through the hub's lock.
func (c *Client) reply(msg *StreamMessage) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
		alog().Warn("stream client %s send channel full, dropping message", c.ID)
	}
}
