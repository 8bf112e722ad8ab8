package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-arbiter/internal/broadcast"
	"github.com/iliyamo/seat-arbiter/internal/model"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendBuffer   = 64
	maxInboundSz = 512
)

var (
	errSubscriberClosed = errors.New("subscriber closed")
	errSubscriberSlow   = errors.New("subscriber send buffer full")
)

// Subscriptions is the membership side of broadcast.Hub.
type Subscriptions interface {
	Subscribe(group uint64, s broadcast.Subscriber)
	Unsubscribe(group uint64, id string)
}

// SeatLister loads the snapshot sent to new subscribers.
type SeatLister interface {
	Seats(ctx context.Context, eventID uint64) ([]model.Seat, error)
}

// RealtimeHandler serves GET /v1/events/:id/ws.  The channel is public and
// read-only apart from ping messages.
type RealtimeHandler struct {
	Hub   Subscriptions
	Seats SeatLister
	Log   *slog.Logger

	upgrader websocket.Upgrader
}

func NewRealtimeHandler(hub Subscriptions, seats SeatLister, log *slog.Logger) *RealtimeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RealtimeHandler{
		Hub:   hub,
		Seats: seats,
		Log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// wsSubscriber queues messages for one connection.  Send never blocks: a
// full buffer fails the send and the hub drops the subscriber.
type wsSubscriber struct {
	id   string
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSSubscriber() *wsSubscriber {
	return &wsSubscriber{id: uuid.NewString(), send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(msg []byte) error {
	select {
	case <-s.done:
		return errSubscriberClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		s.close()
		return errSubscriberSlow
	}
}

func (s *wsSubscriber) close() { s.once.Do(func() { close(s.done) }) }

// Serve upgrades the connection, subscribes it to the event and sends the
// current seat snapshot.  Updates committed after the subscription was
// registered follow the snapshot; clients drop any update whose version is
// not newer than what they hold.
func (h *RealtimeHandler) Serve(c echo.Context) error {
	eventID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid event id")
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", "event_id", eventID, "error", err)
		return nil
	}
	defer conn.Close()

	sub := newWSSubscriber()
	h.Hub.Subscribe(eventID, sub)
	defer h.Hub.Unsubscribe(eventID, sub.id)
	defer sub.close()
	log := h.Log.With("event_id", eventID, "subscriber", sub.id)
	log.Debug("subscriber connected")

	seats, err := h.Seats.Seats(c.Request().Context(), eventID)
	if err != nil {
		log.Warn("load seat snapshot failed", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot unavailable"), time.Now().Add(writeWait))
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(model.SnapshotMessage{Type: model.SeatEventInitial, EventID: eventID, Seats: model.Snapshot(seats)}); err != nil {
		log.Debug("write snapshot failed", "error", err)
		return nil
	}

	go h.writeLoop(conn, sub, log)
	h.readLoop(conn, sub)
	log.Debug("subscriber disconnected")
	return nil
}

func (h *RealtimeHandler) writeLoop(conn *websocket.Conn, sub *wsSubscriber, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case msg := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("write to subscriber failed", "error", err)
				sub.close()
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				sub.close()
				_ = conn.Close()
				return
			}
		}
	}
}

var pong, _ = json.Marshal(map[string]string{"type": model.SeatEventPong})

// readLoop answers pings until the peer goes away.
func (h *RealtimeHandler) readLoop(conn *websocket.Conn, sub *wsSubscriber) {
	conn.SetReadLimit(maxInboundSz)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind == websocket.TextMessage && isPing(data) {
			if err := sub.Send(pong); err != nil {
				return
			}
		}
	}
}

func isPing(data []byte) bool {
	if strings.EqualFold(strings.TrimSpace(string(data)), "ping") {
		return true
	}
	var msg struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &msg) == nil && msg.Type == "ping"
}
