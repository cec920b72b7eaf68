package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"tunesync-backend/internal/apperr"
	"tunesync-backend/internal/middleware"
	"tunesync-backend/internal/models"
	"tunesync-backend/internal/presence"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/rooms"
	"tunesync-backend/internal/signaling"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	tablesKey      = "tables"
	participantKey = "participant"
)

// RealtimeHandler serves the room change feed and the signaling relay over
// websockets.
type RealtimeHandler struct {
	registry *rooms.Registry
	tracker  *presence.Tracker
	feed     realtime.Feed
	relay    *signaling.Relay
}

func NewRealtimeHandler(registry *rooms.Registry, tracker *presence.Tracker, feed realtime.Feed, relay *signaling.Relay) *RealtimeHandler {
	return &RealtimeHandler{registry: registry, tracker: tracker, feed: feed, relay: relay}
}

// RequireUpgrade rejects plain HTTP requests on websocket routes.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// PrepareEvents checks the room and the requested tables before upgrading.
func (h *RealtimeHandler) PrepareEvents(c *fiber.Ctx) error {
	if _, err := h.registry.GetRoom(c.UserContext(), c.Params("id")); err != nil {
		return HandleError(c, err)
	}

	tables, err := parseTables(c.Query("tables"))
	if err != nil {
		return HandleError(c, err)
	}
	c.Locals(tablesKey, tables)
	return c.Next()
}

func parseTables(raw string) ([]realtime.Table, error) {
	if strings.TrimSpace(raw) == "" {
		return realtime.RoomTables, nil
	}

	var tables []realtime.Table
	for _, name := range strings.Split(raw, ",") {
		table := realtime.Table(strings.TrimSpace(name))
		known := false
		for _, t := range realtime.RoomTables {
			if t == table {
				known = true
				break
			}
		}
		if !known {
			return nil, apperr.Validation("unknown table " + string(table))
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// @Summary Follow room changes
// @Description Websocket stream of INSERT, UPDATE and DELETE events for the room. A client that falls behind is closed with reason "lagged" and should resubscribe.
// @Tags realtime
// @Param id path string true "Room ID"
// @Param tables query string false "Comma separated tables, defaults to rooms,participants,playback_state"
// @Success 101
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{id}/events [get]
func (h *RealtimeHandler) Events(conn *websocket.Conn) {
	roomID := conn.Params("id")
	tables, _ := conn.Locals(tablesKey).([]realtime.Table)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := h.feed.Subscribe(ctx, roomID, tables...)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("Failed to subscribe to room events")
		closeWith(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer sub.Close()

	go drain(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if errors.Is(sub.Err(), realtime.ErrLagged) {
					closeWith(conn, websocket.ClosePolicyViolation, "lagged")
				} else {
					closeWith(conn, websocket.CloseGoingAway, "feed closed")
				}
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("room_id", roomID).Msg("Event write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// PrepareSignal admits only connected participants of the room. Signed-in
// callers are identified by their token, anonymous guests by ?nickname=.
func (h *RealtimeHandler) PrepareSignal(c *fiber.Ctx) error {
	room, err := h.registry.GetRoom(c.UserContext(), c.Params("id"))
	if err != nil {
		return HandleError(c, err)
	}

	identity := presence.Identity{Nickname: c.Query("nickname")}
	if claims := middleware.GetClaims(c); claims != nil {
		identity = presence.Identity{PrincipalID: claims.PrincipalID}
	}

	participant, err := h.tracker.FindConnected(c.UserContext(), room.ID, identity)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return HandleError(c, apperr.PermissionDenied("only connected participants can signal"))
		}
		return HandleError(c, err)
	}

	c.Locals(participantKey, participant)
	return c.Next()
}

// @Summary Signaling relay
// @Description Websocket for offer, answer and ice-candidate messages. The sender is always the connected participant; messages are never stored.
// @Tags realtime
// @Param id path string true "Room ID"
// @Param nickname query string false "Nickname of an anonymous guest"
// @Success 101
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{id}/signal [get]
func (h *RealtimeHandler) Signal(conn *websocket.Conn) {
	roomID := conn.Params("id")
	participant, ok := conn.Locals(participantKey).(*models.Participant)
	if !ok {
		closeWith(conn, websocket.CloseInternalServerErr, "no participant")
		return
	}
	self := participant.Identity()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := h.relay.Subscribe(ctx, roomID, signaling.Recipient{
		PrincipalID: self,
		IsHost:      participant.IsHost,
	})
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("Failed to subscribe to signals")
		closeWith(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer stream.Close()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg signaling.Message
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("room_id", roomID).Msg("Signal socket closed")
				}
				return
			}
			msg.FromPrincipalID = self
			if err := h.relay.Send(ctx, roomID, msg); err != nil {
				if werr := write(fiber.Map{"error": apperrMessage(err)}); werr != nil {
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-stream.Messages():
			if !ok {
				if errors.Is(stream.Err(), realtime.ErrLagged) {
					writeMu.Lock()
					closeWith(conn, websocket.ClosePolicyViolation, "lagged")
					writeMu.Unlock()
				}
				return
			}
			if err := write(msg); err != nil {
				return
			}
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// drain reads until the peer goes away so pongs and close frames are
// processed, then cancels the writer.
func drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func apperrMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.KindUnknown {
		return appErr.Message
	}
	return "signal could not be relayed"
}
