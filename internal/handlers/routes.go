package handlers

import (
	"tunesync-backend/config"
	"tunesync-backend/internal/auth"
	"tunesync-backend/internal/cleanup"
	"tunesync-backend/internal/middleware"
	"tunesync-backend/internal/playback"
	"tunesync-backend/internal/presence"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/rooms"
	"tunesync-backend/internal/signaling"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Services are the domain components the HTTP surface is built on.
type Services struct {
	Registry *rooms.Registry
	Tracker  *presence.Tracker
	Clock    *playback.Clock
	Feed     realtime.Feed
	Relay    *signaling.Relay
	Reaper   *cleanup.Reaper
}

// Register mounts every API route on app.
func Register(app fiber.Router, cfg *config.Config, s Services) {
	protected := middleware.Protected(cfg)
	optional := middleware.OptionalIdentity(cfg)

	roomHandler := NewRoomHandler(s.Registry, s.Tracker)
	playbackHandler := NewPlaybackHandler(s.Clock)
	realtimeHandler := NewRealtimeHandler(s.Registry, s.Tracker, s.Feed, s.Relay)
	adminHandler := NewAdminHandler(s.Registry, s.Reaper)

	// Room routes
	roomGroup := app.Group("/rooms")
	roomGroup.Post("/", protected, roomHandler.CreateRoom)
	roomGroup.Post("/join", optional, roomHandler.JoinRoom)
	roomGroup.Get("/public", roomHandler.ListPublicRooms)
	roomGroup.Get("/mine", protected, roomHandler.GetMyRoom)
	roomGroup.Get("/code/:code", roomHandler.GetRoomByCode)
	roomGroup.Delete("/:id", protected, roomHandler.TerminateRoom)
	roomGroup.Post("/:id/disconnect", optional, roomHandler.Disconnect)
	roomGroup.Post("/:id/leave", optional, roomHandler.Leave)
	roomGroup.Get("/:id/participants", roomHandler.ListParticipants)

	// Playback routes
	roomGroup.Get("/:id/playback", playbackHandler.Get)
	roomGroup.Post("/:id/playback/play", protected, playbackHandler.Play)
	roomGroup.Post("/:id/playback/pause", protected, playbackHandler.Pause)
	roomGroup.Post("/:id/playback/seek", protected, playbackHandler.Seek)
	roomGroup.Post("/:id/playback/skip", protected, playbackHandler.Skip)

	// Websocket routes
	roomGroup.Get("/:id/events", RequireUpgrade, realtimeHandler.PrepareEvents,
		websocket.New(realtimeHandler.Events))
	roomGroup.Get("/:id/signal", RequireUpgrade, optional, realtimeHandler.PrepareSignal,
		websocket.New(realtimeHandler.Signal))

	// Admin routes
	adminGroup := app.Group("/admin",
		protected,
		middleware.RequireAccess(auth.AccessAdmin),
	)
	adminGroup.Get("/rooms", adminHandler.ListRooms)
	adminGroup.Delete("/rooms/:id", adminHandler.DeleteRoom)
	adminGroup.Post("/cleanup", adminHandler.Cleanup)
}
