package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tunesync-backend/internal/peer"
	"tunesync-backend/internal/presence"
	"tunesync-backend/internal/signaling"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// handleListen joins a room as a guest, answers the host's offers and
// counts the audio packets received until interrupted.
func handleListen() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *code == "" {
		return fmt.Errorf("code is required")
	}
	if (*nickname == "") == (*jwtToken == "") {
		return fmt.Errorf("exactly one of nickname or jwt is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := strings.TrimRight(*server, "/")
	joined, err := join(ctx, base)
	if err != nil {
		return err
	}
	roomID := joined.Room.ID
	self := joined.Participant.Identity()
	log.Info().Str("room", joined.Room.Name).Str("as", self).Bool("reconnected", joined.Reconnected).Msg("Joined room")

	conn, err := dialSignal(ctx, base, roomID)
	if err != nil {
		return err
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(_ context.Context, msg signaling.Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	var packets atomic.Int64
	factory := &peer.PionFactory{
		Config: peer.DefaultWebRTCConfig(),
		OnTrack: func(remote string, track *webrtc.TrackRemote) {
			go func() {
				for {
					if _, _, err := track.ReadRTP(); err != nil {
						return
					}
					packets.Add(1)
				}
			}()
		},
	}
	negotiator := peer.NewNegotiator(self, false, factory, send)
	defer negotiator.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			var frame struct {
				signaling.Message
				Error string `json:"error"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("signal socket: %w", err)
			}
			if frame.Error != "" {
				log.Warn().Str("error", frame.Error).Msg("Relay rejected a message")
				continue
			}
			if err := negotiator.HandleSignal(gctx, frame.Message); err != nil {
				log.Warn().Err(err).Str("from", frame.FromPrincipalID).Msg("Failed to handle signal")
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				writeMu.Unlock()
				_ = conn.Close()
				return nil
			case <-ticker.C:
				log.Info().Int64("packets", packets.Load()).Strs("peers", negotiator.Peers()).Msg("Listening")
			}
		}
	})

	err = g.Wait()

	// leave a disconnected row behind so the same identity can reconnect
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if derr := disconnect(shutdownCtx, base, roomID); derr != nil {
		log.Warn().Err(derr).Msg("Failed to mark disconnected")
	}
	return err
}

func join(ctx context.Context, base string) (*presence.JoinResult, error) {
	var result presence.JoinResult
	err := call(ctx, http.MethodPost, base+"/rooms/join", map[string]string{
		"room_code": *code,
		"nickname":  *nickname,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}
	return &result, nil
}

func disconnect(ctx context.Context, base, roomID string) error {
	body := map[string]string{}
	if *jwtToken == "" {
		body["nickname"] = *nickname
	}
	return call(ctx, http.MethodPost, base+"/rooms/"+roomID+"/disconnect", body, nil)
}

func dialSignal(ctx context.Context, base, roomID string) (*websocket.Conn, error) {
	u, err := url.Parse(base + "/rooms/" + roomID + "/signal")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	q := u.Query()
	if *jwtToken != "" {
		q.Set("token", *jwtToken)
	} else {
		q.Set("nickname", *nickname)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signal socket rejected with %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to open signal socket: %w", err)
	}
	return conn, nil
}

func call(ctx context.Context, method, endpoint string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if *jwtToken != "" {
		req.Header.Set("Authorization", "Bearer "+*jwtToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}
