// Package handlers provides HTTP request handlers for the application.
package handlers

import (
	"tunesync-backend/internal/middleware"
	"tunesync-backend/internal/presence"
	"tunesync-backend/internal/rooms"

	"github.com/gofiber/fiber/v2"
)

type RoomHandler struct {
	registry *rooms.Registry
	tracker  *presence.Tracker
}

func NewRoomHandler(registry *rooms.Registry, tracker *presence.Tracker) *RoomHandler {
	return &RoomHandler{registry: registry, tracker: tracker}
}

// @Summary Create a new room
// @Description Creates a room hosted by the caller. Requires a premium account.
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateRoomRequest true "Room creation parameters"
// @Success 201 {object} models.Room
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /rooms [post]
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	claims := middleware.GetClaims(c)
	room, err := h.registry.CreateRoom(c.UserContext(), rooms.Host{
		PrincipalID: claims.PrincipalID,
		Premium:     claims.Premium,
	}, rooms.CreateParams{
		Name:     req.Name,
		IsPublic: req.IsPublic,
		Settings: req.Settings,
	})
	if err != nil {
		return HandleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(room)
}

// @Summary Join a room
// @Description Join a room by code, either signed in or with a nickname. Rejoining reconnects the same participant.
// @Tags rooms
// @Accept json
// @Produce json
// @Param request body JoinRoomRequest true "Room join parameters"
// @Success 200 {object} presence.JoinResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /rooms/join [post]
func (h *RoomHandler) JoinRoom(c *fiber.Ctx) error {
	var req JoinRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	params := presence.JoinParams{RoomCode: req.roomCode()}
	params.Nickname = req.Nickname
	if claims := middleware.GetClaims(c); claims != nil {
		params.Identity = presence.Identity{PrincipalID: claims.PrincipalID}
	}

	result, err := h.tracker.Join(c.UserContext(), params)
	if err != nil {
		return HandleError(c, err)
	}

	return c.JSON(result)
}

// @Summary Get a room by code
// @Tags rooms
// @Produce json
// @Param code path string true "Room code"
// @Success 200 {object} models.Room
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /rooms/code/{code} [get]
func (h *RoomHandler) GetRoomByCode(c *fiber.Ctx) error {
	room, err := h.registry.GetRoomByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(room)
}

// @Summary List public rooms
// @Description Public rooms whose host is connected, newest first
// @Tags rooms
// @Produce json
// @Success 200 {array} rooms.RoomSummary
// @Router /rooms/public [get]
func (h *RoomHandler) ListPublicRooms(c *fiber.Ctx) error {
	list, err := h.registry.ListPublicRooms(c.UserContext())
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(list)
}

// @Summary Get the caller's room
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MyRoomResponse
// @Failure 401 {object} ErrorResponse
// @Router /rooms/mine [get]
func (h *RoomHandler) GetMyRoom(c *fiber.Ctx) error {
	claims := middleware.GetClaims(c)
	room, hasRoom, err := h.registry.GetMyRoom(c.UserContext(), claims.PrincipalID)
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(MyRoomResponse{Room: room, HasRoom: hasRoom})
}

// @Summary End a room
// @Description Deletes the room with its participants and playback state. Host only.
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{id} [delete]
func (h *RoomHandler) TerminateRoom(c *fiber.Ctx) error {
	claims := middleware.GetClaims(c)
	if err := h.registry.TerminateRoom(c.UserContext(), c.Params("id"), claims.PrincipalID); err != nil {
		return HandleError(c, err)
	}
	return c.JSON(fiber.Map{"status": "terminated"})
}

// @Summary Disconnect from a room
// @Description Marks the caller disconnected. Repeated calls are a no-op.
// @Tags presence
// @Accept json
// @Produce json
// @Param id path string true "Room ID"
// @Param request body DisconnectRequest false "Nickname of an anonymous caller"
// @Success 200 {object} presence.DisconnectResult
// @Failure 400 {object} ErrorResponse
// @Router /rooms/{id}/disconnect [post]
func (h *RoomHandler) Disconnect(c *fiber.Ctx) error {
	var req DisconnectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badBody(c)
		}
	}

	identity := presence.Identity{Nickname: req.Nickname}
	if claims := middleware.GetClaims(c); claims != nil {
		identity = presence.Identity{PrincipalID: claims.PrincipalID}
	}

	result, err := h.tracker.Disconnect(c.UserContext(), c.Params("id"), identity)
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(result)
}

// @Summary Leave a room
// @Description Removes the caller's own participant row for good. A host who joins again takes the seat back.
// @Tags presence
// @Accept json
// @Produce json
// @Param id path string true "Room ID"
// @Param request body LeaveRequest true "Participant to remove"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{id}/leave [post]
func (h *RoomHandler) Leave(c *fiber.Ctx) error {
	var req LeaveRequest
	if err := c.BodyParser(&req); err != nil || req.ParticipantID == "" {
		return badBody(c)
	}

	identity := presence.Identity{Nickname: req.Nickname}
	if claims := middleware.GetClaims(c); claims != nil {
		identity = presence.Identity{PrincipalID: claims.PrincipalID}
	}

	if err := h.tracker.Leave(c.UserContext(), c.Params("id"), req.ParticipantID, identity); err != nil {
		return HandleError(c, err)
	}
	return c.JSON(fiber.Map{"status": "left"})
}

// @Summary List participants
// @Tags presence
// @Produce json
// @Param id path string true "Room ID"
// @Success 200 {array} models.Participant
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{id}/participants [get]
func (h *RoomHandler) ListParticipants(c *fiber.Ctx) error {
	participants, err := h.tracker.ListParticipants(c.UserContext(), c.Params("id"))
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(participants)
}
