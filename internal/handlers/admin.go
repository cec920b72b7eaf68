package handlers

import (
	"tunesync-backend/internal/cleanup"
	"tunesync-backend/internal/rooms"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

type AdminHandler struct {
	registry *rooms.Registry
	reaper   *cleanup.Reaper
}

func NewAdminHandler(registry *rooms.Registry, reaper *cleanup.Reaper) *AdminHandler {
	return &AdminHandler{registry: registry, reaper: reaper}
}

// @Summary List all rooms
// @Description Every room with its connected participant count, including inactive ones
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} rooms.RoomSummary
// @Failure 403 {object} ErrorResponse
// @Router /admin/rooms [get]
func (h *AdminHandler) ListRooms(c *fiber.Ctx) error {
	list, err := h.registry.ListAllRooms(c.UserContext())
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(list)
}

// @Summary Delete any room
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /admin/rooms/{id} [delete]
func (h *AdminHandler) DeleteRoom(c *fiber.Ctx) error {
	if err := h.registry.ForceTerminate(c.UserContext(), c.Params("id")); err != nil {
		return HandleError(c, err)
	}
	return c.JSON(fiber.Map{"status": "terminated"})
}

// @Summary Run cleanup now
// @Description Reaps abandoned and expired rooms, ignoring the throttle window
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} cleanup.Result
// @Failure 403 {object} ErrorResponse
// @Router /admin/cleanup [post]
func (h *AdminHandler) Cleanup(c *fiber.Ctx) error {
	result, err := h.reaper.Force(c.UserContext())
	if err != nil {
		return HandleError(c, err)
	}

	log.Info().
		Int64("inactive_deleted", result.InactiveDeleted).
		Int64("expired_deleted", result.ExpiredDeleted).
		Msg("Manual cleanup finished")
	return c.JSON(result)
}
