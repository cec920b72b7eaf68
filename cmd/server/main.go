package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunesync-backend/config"
	"tunesync-backend/internal/cleanup"
	"tunesync-backend/internal/database"
	"tunesync-backend/internal/handlers"
	"tunesync-backend/internal/playback"
	"tunesync-backend/internal/presence"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/repository"
	"tunesync-backend/internal/rooms"
	"tunesync-backend/internal/scheduler"
	"tunesync-backend/internal/signaling"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// @title           TuneSync Backend API
// @version         1.0
// @description     Listening rooms with a shared playback clock, presence and WebRTC signaling.

// @host      localhost:8090
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter the token with the `Bearer ` prefix, e.g. "Bearer abcde12345"

func init() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Configure zerolog based on config
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logLevel, err := zerolog.ParseLevel(cfg.Logger.Level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	output := os.Stdout
	if cfg.Logger.OutputPath != "" {
		file, err := os.OpenFile(cfg.Logger.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			output = file
		}
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	})
}

func main() {
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize database connection
	if err := database.Initialize(&cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close()

	// Run database migrations after database initialization
	if err := database.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	feed := realtime.Open(&cfg.Realtime)
	defer feed.Close()

	// Initialize repositories
	db := database.GetDB()
	roomRepo := repository.NewRoomRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	playbackRepo := repository.NewPlaybackRepository(db)
	cleanupRepo := repository.NewCleanupRepository(db)

	reaper := cleanup.NewReaper(roomRepo, cleanupRepo, feed, cleanup.Options{
		Window:    cfg.Cleanup.Window(),
		HostGrace: cfg.Cleanup.HostGrace(),
		MaxAge:    cfg.Cleanup.MaxAge(),
		Timeout:   cfg.Cleanup.Timeout(),
	})
	relay := signaling.NewRelay(feed, signaling.NewRateLimiter(cfg.Signaling.RateLimit, cfg.Signaling.RateInterval()))

	services := handlers.Services{
		Registry: rooms.NewRegistry(roomRepo, feed, reaper, rooms.Options{
			DefaultMaxParticipants: cfg.Rooms.DefaultMaxParticipants,
			CodeAttempts:           cfg.Rooms.CodeAttempts,
		}),
		Tracker: presence.NewTracker(roomRepo, participantRepo, feed, reaper, database.NowUTC),
		Clock:   playback.NewClock(roomRepo, playbackRepo, feed, database.NowUTC),
		Feed:    feed,
		Relay:   relay,
		Reaper:  reaper,
	}

	// Initialize scheduler
	err := scheduler.Initialize(
		scheduler.Job{Name: "room-cleanup", Every: cfg.Cleanup.Window(), Run: reaper.Trigger},
		scheduler.Job{Name: "signal-limiter-prune", Every: time.Minute, Run: relay.PruneLimiter},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer scheduler.Stop()

	// Create new Fiber instance
	app := fiber.New(fiber.Config{
		AppName:      "TuneSync API",
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        300,
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/ready"
		},
	}))

	// Health check routes
	app.Get("/health", healthCheck)
	app.Get("/ready", readinessCheck)

	handlers.Register(app, cfg, services)

	// Start server in a goroutine
	serverAddr := cfg.Server.Host + ":" + cfg.Server.Port
	go func() {
		if err := app.Listen(serverAddr); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reaper.Wait()
}

// @Summary Health check endpoint
// @Description Get the health status of the service
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// @Summary Readiness check endpoint
// @Description Reports ready once the database answers
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /ready [get]
func readinessCheck(c *fiber.Ctx) error {
	sqlDB, err := database.GetDB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.UserContext())
	}
	if err != nil {
		log.Warn().Err(err).Msg("Readiness check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"time":   time.Now().Unix(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
