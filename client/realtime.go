package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"geochat/internal/models"
	"geochat/internal/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const subscribeAckTimeout = 10 * time.Second

// WSSubscriber dials the realtime endpoint and opens per-group message
// streams over a single socket protocol. Each Subscribe call uses its own
// connection, so closing one stream never disturbs another.
type WSSubscriber struct {
	cfg Config
}

// NewWSSubscriber creates a subscriber from cfg.
func NewWSSubscriber(cfg Config) *WSSubscriber {
	return &WSSubscriber{cfg: cfg}
}

// Subscribe dials the realtime socket, opens an insert channel for the
// group and waits for the server's ack before returning the stream.
func (s *WSSubscriber) Subscribe(ctx context.Context, groupID uuid.UUID) (MessageStream, error) {
	endpoint, err := url.Parse(s.cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := endpoint.Query()
	if s.cfg.Token != "" {
		q.Set("token", s.cfg.Token)
	} else if s.cfg.DeviceID != "" {
		q.Set("device", s.cfg.DeviceID)
	}
	endpoint.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime socket: %w", err)
	}

	subscribe := realtime.OutboundFrame{
		Type: realtime.FrameTypeSubscribe,
		Payload: realtime.SubscribePayload{
			Table:   realtime.TableMessages,
			GroupID: groupID,
			Event:   realtime.EventInsert,
		},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send subscribe frame: %w", err)
	}

	if err := awaitAck(conn, groupID); err != nil {
		conn.Close()
		return nil, err
	}

	stream := &wsStream{
		conn:    conn,
		groupID: groupID,
		events:  make(chan *models.Message, 64),
		done:    make(chan struct{}),
	}
	go stream.readLoop()
	return stream, nil
}

func awaitAck(conn *websocket.Conn, groupID uuid.UUID) error {
	conn.SetReadDeadline(time.Now().Add(subscribeAckTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		var frame realtime.InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("failed waiting for subscribe ack: %w", err)
		}
		switch frame.Type {
		case realtime.FrameTypeSubscribed:
			var payload realtime.SubscribedPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				return fmt.Errorf("malformed subscribe ack: %w", err)
			}
			if payload.GroupID != groupID {
				return fmt.Errorf("subscribe ack for wrong group %s", payload.GroupID)
			}
			return nil
		case realtime.FrameTypeError:
			var payload realtime.ErrorPayload
			if err := json.Unmarshal(frame.Payload, &payload); err == nil {
				return fmt.Errorf("subscribe rejected: %s", payload.Message)
			}
			return fmt.Errorf("subscribe rejected")
		default:
			// Stray frame before the ack; keep waiting.
		}
	}
}

type wsStream struct {
	conn    *websocket.Conn
	groupID uuid.UUID
	events  chan *models.Message
	done    chan struct{}
	once    sync.Once
}

func (s *wsStream) Events() <-chan *models.Message {
	return s.events
}

func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		var frame realtime.InboundFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
			default:
				log.Printf("WSSubscriber: Read error for group %s: %v", s.groupID, err)
			}
			return
		}
		if frame.Type != realtime.FrameTypeInsert {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			log.Printf("WSSubscriber: Dropping undecodable insert frame: %v", err)
			continue
		}
		if msg.GroupID != s.groupID {
			continue
		}
		select {
		case s.events <- &msg:
		case <-s.done:
			return
		}
	}
}

// Close sends an unsubscribe frame on a best-effort basis and tears down
// the connection. The events channel closes once the read loop exits.
func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		unsubscribe := realtime.OutboundFrame{
			Type:    realtime.FrameTypeUnsubscribe,
			Payload: realtime.SubscribePayload{Table: realtime.TableMessages, GroupID: s.groupID},
		}
		if writeErr := s.conn.WriteJSON(unsubscribe); writeErr != nil {
			log.Printf("WSSubscriber: Failed to send unsubscribe for group %s: %v", s.groupID, writeErr)
		}
		err = s.conn.Close()
	})
	return err
}
