package handlers

import (
	"time"

	"tunesync-backend/internal/middleware"
	"tunesync-backend/internal/playback"

	"github.com/gofiber/fiber/v2"
)

type PlaybackHandler struct {
	clock *playback.Clock
	now   func() time.Time
}

func NewPlaybackHandler(clock *playback.Clock) *PlaybackHandler {
	return &PlaybackHandler{
		clock: clock,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// @Summary Get playback state
// @Description Stored playback state plus the position interpolated for the server clock
// @Tags playback
// @Produce json
// @Param id path string true "Room ID"
// @Success 200 {object} PlaybackResponse
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{id}/playback [get]
func (h *PlaybackHandler) Get(c *fiber.Ctx) error {
	state, err := h.clock.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(PlaybackResponse{
		PlaybackState: state,
		PositionNowMs: playback.Interpolate(state, h.now()),
	})
}

// @Summary Play
// @Description Starts playback. Omitted fields keep their current value.
// @Tags playback
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body PlayRequest false "Track and position"
// @Success 200 {object} models.PlaybackState
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{id}/playback/play [post]
func (h *PlaybackHandler) Play(c *fiber.Ctx) error {
	var req PlayRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badBody(c)
		}
	}

	claims := middleware.GetClaims(c)
	state, err := h.clock.Play(c.UserContext(), c.Params("id"), claims.PrincipalID, req)
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(state)
}

// @Summary Pause
// @Tags playback
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body PositionRequest true "Position to freeze at"
// @Success 200 {object} models.PlaybackState
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /rooms/{id}/playback/pause [post]
func (h *PlaybackHandler) Pause(c *fiber.Ctx) error {
	position, ok := parsePosition(c)
	if !ok {
		return badBody(c)
	}

	claims := middleware.GetClaims(c)
	state, err := h.clock.Pause(c.UserContext(), c.Params("id"), claims.PrincipalID, position)
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(state)
}

// @Summary Seek
// @Tags playback
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body PositionRequest true "New position"
// @Success 200 {object} models.PlaybackState
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /rooms/{id}/playback/seek [post]
func (h *PlaybackHandler) Seek(c *fiber.Ctx) error {
	position, ok := parsePosition(c)
	if !ok {
		return badBody(c)
	}

	claims := middleware.GetClaims(c)
	state, err := h.clock.Seek(c.UserContext(), c.Params("id"), claims.PrincipalID, position)
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(state)
}

// @Summary Skip
// @Description With a track, plays it from the start. Without one, only acknowledges the request.
// @Tags playback
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param request body SkipRequest true "Direction and optional track"
// @Success 200 {object} playback.SkipResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /rooms/{id}/playback/skip [post]
func (h *PlaybackHandler) Skip(c *fiber.Ctx) error {
	var req SkipRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	claims := middleware.GetClaims(c)
	result, err := h.clock.Skip(c.UserContext(), c.Params("id"), claims.PrincipalID, req)
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(result)
}

func parsePosition(c *fiber.Ctx) (int64, bool) {
	var req PositionRequest
	if err := c.BodyParser(&req); err != nil || req.PositionMs == nil {
		return 0, false
	}
	return *req.PositionMs, true
}
