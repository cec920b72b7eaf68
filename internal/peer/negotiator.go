package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"tunesync-backend/internal/models"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/signaling"

	"github.com/rs/zerolog/log"
)

// maxPending bounds the candidates buffered for one peer that does not
// exist yet.
const maxPending = 64

var ErrSourceNotLive = errors.New("peer: host audio source is not live")

// Conn is one peer session. Session descriptions and candidates travel as
// the raw JSON carried in signaling messages.
type Conn interface {
	Closer
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	OnCandidate(fn func(candidate json.RawMessage))
}

type Factory interface {
	NewConn(remote string) (Conn, error)
}

// Sender delivers a signaling message to the room.
type Sender func(ctx context.Context, msg signaling.Message) error

type peerState struct {
	Conn
	remoteSet bool
}

// Negotiator drives the peer sessions of one room member. A host offers to
// each guest; a guest answers the offers it receives.
type Negotiator struct {
	self    string
	isHost  bool
	factory Factory
	send    Sender
	peers   *Index[*peerState]

	mu      sync.Mutex
	pending map[string][]json.RawMessage
	live    bool
}

func NewNegotiator(self string, isHost bool, factory Factory, send Sender) *Negotiator {
	return &Negotiator{
		self:    self,
		isHost:  isHost,
		factory: factory,
		send:    send,
		peers:   NewIndex[*peerState](),
		pending: make(map[string][]json.RawMessage),
	}
}

// Peers returns the identities with a live peer session.
func (n *Negotiator) Peers() []string {
	return n.peers.IDs()
}

// HandleSignal applies one message received from the relay.
func (n *Negotiator) HandleSignal(ctx context.Context, msg signaling.Message) error {
	from := msg.FromPrincipalID
	switch msg.Type {
	case signaling.TypeOffer:
		return n.handleOffer(ctx, from, msg.Data)
	case signaling.TypeAnswer:
		return n.handleAnswer(from, msg.Data)
	case signaling.TypeICECandidate:
		return n.handleCandidate(from, msg.Data)
	default:
		log.Debug().Str("module", "peer").Str("type", string(msg.Type)).Msg("Ignoring unknown signal")
		return nil
	}
}

func (n *Negotiator) handleOffer(ctx context.Context, from string, offer json.RawMessage) error {
	state, ok := n.peers.Get(from)
	if !ok {
		var err error
		state, err = n.open(ctx, from)
		if err != nil {
			return err
		}
	}

	answer, err := state.AcceptOffer(offer)
	if err != nil {
		n.peers.Remove(from)
		return err
	}
	n.markRemoteSet(from, state)

	return n.send(ctx, signaling.Message{
		Type:            signaling.TypeAnswer,
		FromPrincipalID: n.self,
		ToPrincipalID:   &from,
		Data:            answer,
	})
}

func (n *Negotiator) handleAnswer(from string, answer json.RawMessage) error {
	state, ok := n.peers.Get(from)
	if !ok {
		log.Debug().Str("module", "peer").Str("peer", from).Msg("Dropping answer for unknown peer")
		return nil
	}
	if err := state.AcceptAnswer(answer); err != nil {
		return err
	}
	n.markRemoteSet(from, state)
	return nil
}

func (n *Negotiator) handleCandidate(from string, candidate json.RawMessage) error {
	n.mu.Lock()
	state, ok := n.peers.Get(from)
	if !ok || !state.remoteSet {
		queue := n.pending[from]
		if len(queue) < maxPending {
			n.pending[from] = append(queue, candidate)
		}
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	return state.AddCandidate(candidate)
}

// markRemoteSet flushes the candidates buffered before the remote
// description was known.
func (n *Negotiator) markRemoteSet(id string, state *peerState) {
	n.mu.Lock()
	state.remoteSet = true
	queued := n.pending[id]
	delete(n.pending, id)
	n.mu.Unlock()

	for _, candidate := range queued {
		if err := state.AddCandidate(candidate); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("peer", id).Msg("Failed to apply buffered candidate")
		}
	}
}

func (n *Negotiator) open(ctx context.Context, remote string) (*peerState, error) {
	conn, err := n.factory.NewConn(remote)
	if err != nil {
		return nil, err
	}
	conn.OnCandidate(func(candidate json.RawMessage) {
		target := remote
		err := n.send(ctx, signaling.Message{
			Type:            signaling.TypeICECandidate,
			FromPrincipalID: n.self,
			ToPrincipalID:   &target,
			Data:            candidate,
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("peer", remote).Msg("Failed to send candidate")
		}
	})

	state := &peerState{Conn: conn}
	n.peers.Put(remote, state)
	return state, nil
}

// SetSourceLive marks the host audio source as live and offers to every
// guest given.
func (n *Negotiator) SetSourceLive(ctx context.Context, guests []string) error {
	n.mu.Lock()
	n.live = true
	n.mu.Unlock()

	var errs []error
	for _, guest := range guests {
		if err := n.OfferTo(ctx, guest); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OfferTo starts a fresh session with guest, replacing any previous one.
func (n *Negotiator) OfferTo(ctx context.Context, guest string) error {
	n.mu.Lock()
	live := n.live
	n.mu.Unlock()
	if !n.isHost || !live {
		return ErrSourceNotLive
	}
	if guest == n.self {
		return nil
	}

	n.mu.Lock()
	delete(n.pending, guest)
	n.mu.Unlock()

	state, err := n.open(ctx, guest)
	if err != nil {
		return err
	}
	offer, err := state.CreateOffer()
	if err != nil {
		n.peers.Remove(guest)
		return err
	}

	return n.send(ctx, signaling.Message{
		Type:            signaling.TypeOffer,
		FromPrincipalID: n.self,
		ToPrincipalID:   &guest,
		Data:            offer,
	})
}

// HandleParticipantEvent tears down the session of a participant that
// disconnected or left, and offers to guests that (re)connect while the
// host source is live.
func (n *Negotiator) HandleParticipantEvent(ctx context.Context, ev realtime.Event) error {
	if ev.Table != realtime.TableParticipants {
		return nil
	}
	var p models.Participant
	if err := json.Unmarshal(ev.Record, &p); err != nil {
		return err
	}
	identity := p.Identity()
	if identity == n.self {
		return nil
	}

	if ev.Type == realtime.EventDelete || !p.IsConnected() {
		n.drop(identity)
		return nil
	}

	n.mu.Lock()
	live := n.live
	n.mu.Unlock()
	if n.isHost && live && !p.IsHost {
		return n.OfferTo(ctx, identity)
	}
	return nil
}

func (n *Negotiator) drop(identity string) {
	n.mu.Lock()
	delete(n.pending, identity)
	n.mu.Unlock()

	if n.peers.Remove(identity) {
		log.Info().Str("module", "peer").Str("peer", identity).Msg("Peer torn down")
	}
}

// Stop tears every session down, as when the host audio source stops.
func (n *Negotiator) Stop() {
	n.mu.Lock()
	n.live = false
	n.pending = make(map[string][]json.RawMessage)
	n.mu.Unlock()

	n.peers.CloseAll()
}
