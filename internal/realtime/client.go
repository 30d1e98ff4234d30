package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 2048
)

// Client bridges one WebSocket connection with the hub. A single connection
// may hold subscriptions to several groups; all of them are released when
// the connection drops.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	senderRef string

	subsMux sync.Mutex
	subs    map[uuid.UUID]*Subscription
}

// NewClient constructs a Client for the given connection.
func NewClient(hub *Hub, conn *websocket.Conn, senderRef string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		senderRef: senderRef,
		subs:      make(map[uuid.UUID]*Subscription),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.closeAllSubscriptions()
		close(c.done)
		c.conn.Close()
		log.Printf("Realtime client %s (sender %s): readPump done, subscriptions released.", c.conn.RemoteAddr(), c.senderRef)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Realtime client %s (sender %s): readPump error: %v", c.conn.RemoteAddr(), c.senderRef, err)
			}
			break
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("Realtime client %s: invalid frame: %v. Raw: %s", c.conn.RemoteAddr(), err, raw)
			c.sendFrame(FrameTypeError, ErrorPayload{Message: "Invalid frame format"})
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame InboundFrame) {
	switch frame.Type {
	case FrameTypeSubscribe:
		var payload SubscribePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.sendFrame(FrameTypeError, ErrorPayload{Message: "Invalid subscribe payload"})
			return
		}
		c.handleSubscribe(payload)

	case FrameTypeUnsubscribe:
		var payload SubscribePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.sendFrame(FrameTypeError, ErrorPayload{Message: "Invalid unsubscribe payload"})
			return
		}
		c.handleUnsubscribe(payload.GroupID)

	default:
		log.Printf("Realtime client %s: unknown frame type %q", c.conn.RemoteAddr(), frame.Type)
		c.sendFrame(FrameTypeError, ErrorPayload{Message: "Unknown frame type"})
	}
}

func (c *Client) handleSubscribe(payload SubscribePayload) {
	if payload.Table != TableMessages || payload.Event != EventInsert {
		c.sendFrame(FrameTypeError, ErrorPayload{Message: "Only messages INSERT subscriptions are supported"})
		return
	}
	if payload.GroupID == uuid.Nil {
		c.sendFrame(FrameTypeError, ErrorPayload{Message: "Subscribe requires a groupId"})
		return
	}

	c.subsMux.Lock()
	if _, already := c.subs[payload.GroupID]; already {
		// Idempotent: re-subscribing to the same group re-acks the
		// existing channel instead of opening a second one.
		c.subsMux.Unlock()
		c.sendFrame(FrameTypeSubscribed, SubscribedPayload{Table: TableMessages, GroupID: payload.GroupID})
		return
	}
	sub := c.hub.Subscribe(payload.GroupID)
	c.subs[payload.GroupID] = sub
	c.subsMux.Unlock()

	c.sendFrame(FrameTypeSubscribed, SubscribedPayload{Table: TableMessages, GroupID: payload.GroupID})

	go func() {
		for msg := range sub.Events() {
			c.sendFrame(FrameTypeInsert, msg)
		}
	}()
}

func (c *Client) handleUnsubscribe(groupID uuid.UUID) {
	c.subsMux.Lock()
	sub, ok := c.subs[groupID]
	if ok {
		delete(c.subs, groupID)
	}
	c.subsMux.Unlock()
	if ok {
		sub.Close()
	}
}

func (c *Client) closeAllSubscriptions() {
	c.subsMux.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[uuid.UUID]*Subscription)
	c.subsMux.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Realtime client %s: write error: %v", c.conn.RemoteAddr(), err)
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

// sendFrame queues an outbound frame; frames for a saturated or finished
// connection are dropped rather than blocking the hub.
func (c *Client) sendFrame(frameType string, payload interface{}) {
	raw, err := json.Marshal(OutboundFrame{Type: frameType, Payload: payload})
	if err != nil {
		log.Printf("Realtime client %s: error marshalling %s frame: %v", c.conn.RemoteAddr(), frameType, err)
		return
	}
	select {
	case <-c.done:
	case c.send <- raw:
	default:
		log.Printf("Realtime client %s: send channel full. Dropping %s frame.", c.conn.RemoteAddr(), frameType)
	}
}
