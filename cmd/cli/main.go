package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"tunesync-backend/config"
	"tunesync-backend/internal/auth"
	"tunesync-backend/internal/cleanup"
	"tunesync-backend/internal/database"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/repository"
	"tunesync-backend/internal/rooms"
)

var (
	// Command flags
	mintToken  = flag.Bool("token", false, "Mint an access token")
	listRooms  = flag.Bool("rooms", false, "List every room")
	terminate  = flag.Bool("terminate", false, "Delete a room by code")
	runCleanup = flag.Bool("cleanup", false, "Reap abandoned and expired rooms now")
	listen     = flag.Bool("listen", false, "Join a room and receive the host's audio")

	// Data flags
	configPath = flag.String("config", "config.yaml", "Path to the configuration file")
	principal  = flag.String("principal", "", "Principal id the token is issued to")
	premium    = flag.Bool("premium", false, "Mark the token as premium")
	accesses   = flag.String("access", "", "Comma separated accesses, e.g. admin")
	code       = flag.String("code", "", "Room code")
	server     = flag.String("server", "http://localhost:8090", "API base URL for -listen")
	nickname   = flag.String("nickname", "", "Nickname for anonymous -listen")
	jwtToken   = flag.String("jwt", "", "Access token for signed-in -listen")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *listen {
		return handleListen()
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *mintToken {
		return handleMintToken(cfg)
	}
	if !*listRooms && !*terminate && !*runCleanup {
		printUsage()
		return nil
	}

	// Initialize database
	if err := database.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	// with the memory driver nobody hears these events; clients catch up on
	// their next snapshot
	feed := realtime.Open(&cfg.Realtime)
	defer feed.Close()

	roomRepo := repository.NewRoomRepository(database.GetDB())
	reaper := cleanup.NewReaper(roomRepo, repository.NewCleanupRepository(database.GetDB()), feed, cleanup.Options{
		Window:    cfg.Cleanup.Window(),
		HostGrace: cfg.Cleanup.HostGrace(),
		MaxAge:    cfg.Cleanup.MaxAge(),
		Timeout:   cfg.Cleanup.Timeout(),
	})
	registry := rooms.NewRegistry(roomRepo, feed, nil, rooms.Options{})

	ctx := context.Background()
	switch {
	case *listRooms:
		return handleListRooms(ctx, registry)
	case *terminate:
		return handleTerminate(ctx, registry)
	default:
		return handleCleanup(ctx, reaper)
	}
}

func handleMintToken(cfg *config.Config) error {
	if *principal == "" {
		return fmt.Errorf("principal is required")
	}

	var list []string
	for _, access := range strings.Split(*accesses, ",") {
		if access = strings.TrimSpace(access); access != "" {
			list = append(list, access)
		}
	}

	token, err := auth.GenerateToken(*principal, *premium, list, cfg)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func handleListRooms(ctx context.Context, registry *rooms.Registry) error {
	list, err := registry.ListAllRooms(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tHOST\tACTIVE\tPUBLIC\tCONNECTED\tCREATED")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%d\t%s\n",
			r.Code, r.Name, r.HostPrincipalID, r.IsActive, r.IsPublic, r.ParticipantCount,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func handleTerminate(ctx context.Context, registry *rooms.Registry) error {
	if *code == "" {
		return fmt.Errorf("code is required")
	}

	room, err := registry.GetRoomByCode(ctx, *code)
	if err != nil {
		return fmt.Errorf("failed to find room: %w", err)
	}
	if err := registry.ForceTerminate(ctx, room.ID); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}

	fmt.Printf("Successfully deleted room: %s (%s)\n", room.Code, room.Name)
	return nil
}

func handleCleanup(ctx context.Context, reaper *cleanup.Reaper) error {
	result, err := reaper.Force(ctx)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Printf("Deleted %d abandoned and %d expired rooms\n", result.InactiveDeleted, result.ExpiredDeleted)
	return nil
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  Mint token:     cli -token -principal=user-1 [-premium] [-access=admin]")
	fmt.Println("  List rooms:     cli -rooms")
	fmt.Println("  Delete room:    cli -terminate -code=K7Q2ZD")
	fmt.Println("  Run cleanup:    cli -cleanup")
	fmt.Println("  Listen:         cli -listen -code=K7Q2ZD -nickname=alex [-server=http://localhost:8090]")
}
