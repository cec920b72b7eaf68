package peer

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// PionFactory opens Pion peer connections. A host sets LocalTrack to the
// audio it streams; a guest sets OnTrack to consume the remote audio.
type PionFactory struct {
	Config     webrtc.Configuration
	LocalTrack webrtc.TrackLocal
	OnTrack    func(remote string, track *webrtc.TrackRemote)
	OnClosed   func(remote string)
}

func (f *PionFactory) NewConn(remote string) (Conn, error) {
	pc, err := webrtc.NewPeerConnection(f.Config)
	if err != nil {
		return nil, err
	}
	c := &PionConn{pc: pc, remote: remote}

	if f.LocalTrack != nil {
		if _, err := pc.AddTrack(f.LocalTrack); err != nil {
			_ = pc.Close()
			return nil, err
		}
	} else {
		// receive-only guest
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", remote).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", remote).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			if f.OnClosed != nil {
				f.OnClosed(remote)
			}
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.emitCandidate(cand.ToJSON())
	})
	if f.OnTrack != nil {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.Info().
				Str("module", "webrtc").
				Str("peer", remote).
				Str("kind", track.Kind().String()).
				Str("track_id", track.ID()).
				Msg("OnTrack received")
			f.OnTrack(remote, track)
		})
	}

	return c, nil
}

// PionConn adapts a webrtc.PeerConnection to Conn.
type PionConn struct {
	pc     *webrtc.PeerConnection
	remote string

	mu    sync.Mutex
	onICE func(json.RawMessage)
}

func (c *PionConn) CreateOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *PionConn) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *PionConn) AcceptAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(answer)
}

func (c *PionConn) AddCandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return err
	}
	return c.pc.AddICECandidate(candidate)
}

func (c *PionConn) OnCandidate(fn func(json.RawMessage)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *PionConn) emitCandidate(init webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn == nil {
		return
	}
	data, err := json.Marshal(init)
	if err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Str("peer", c.remote).Msg("Failed to encode candidate")
		return
	}
	fn(data)
}

func (c *PionConn) Close() error {
	err := c.pc.Close()
	if err == nil {
		log.Info().Str("module", "webrtc").Str("peer", c.remote).Msg("closed")
	}
	return err
}

// NewAudioTrack returns an Opus track a host can write samples to.
func NewAudioTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		streamID,
	)
}
