package peer

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"tunesync-backend/internal/models"
	"tunesync-backend/internal/realtime"
	"tunesync-backend/internal/signaling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	remote     string
	closed     bool
	candidates []string
	answers    []string
	onICE      func(json.RawMessage)
}

func (c *fakeConn) CreateOffer() (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"offer-to-` + c.remote + `"}`), nil
}

func (c *fakeConn) AcceptOffer(offer json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"answer-to-` + c.remote + `"}`), nil
}

func (c *fakeConn) AcceptAnswer(answer json.RawMessage) error {
	c.answers = append(c.answers, string(answer))
	return nil
}

func (c *fakeConn) AddCandidate(candidate json.RawMessage) error {
	c.candidates = append(c.candidates, string(candidate))
	return nil
}

func (c *fakeConn) OnCandidate(fn func(json.RawMessage)) { c.onICE = fn }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeFactory struct {
	conns []*fakeConn
}

func (f *fakeFactory) NewConn(remote string) (Conn, error) {
	c := &fakeConn{remote: remote}
	f.conns = append(f.conns, c)
	return c, nil
}

type outbox struct {
	mu   sync.Mutex
	sent []signaling.Message
}

func (o *outbox) send(_ context.Context, msg signaling.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func participantEvent(t *testing.T, typ realtime.EventType, p models.Participant) realtime.Event {
	t.Helper()
	ev, err := realtime.NewEvent(realtime.TableParticipants, typ, p.RoomID, p.ID, p, time.Now())
	require.NoError(t, err)
	return ev
}

func candidate(n string) json.RawMessage {
	return json.RawMessage(`{"candidate":"` + n + `"}`)
}

func TestIndexPutReplacesAndCloses(t *testing.T) {
	idx := NewIndex[*fakeConn]()
	first := &fakeConn{remote: "a"}
	second := &fakeConn{remote: "a"}

	idx.Put("a", first)
	idx.Put("a", second)
	assert.True(t, first.closed)
	assert.False(t, second.closed)

	idx.Put("b", &fakeConn{remote: "b"})
	assert.Equal(t, []string{"a", "b"}, idx.IDs())

	assert.True(t, idx.Remove("a"))
	assert.True(t, second.closed)
	assert.False(t, idx.Remove("a"))

	idx.CloseAll()
	assert.Equal(t, 0, idx.Len())
}

func TestGuestCreatesPeerLazilyOnOffer(t *testing.T) {
	// Arrange
	factory := &fakeFactory{}
	out := &outbox{}
	guest := NewNegotiator("guest-1", false, factory, out.send)
	ctx := context.Background()

	// candidates may arrive before the offer
	require.NoError(t, guest.HandleSignal(ctx, signaling.Message{Type: signaling.TypeICECandidate, FromPrincipalID: "host-1", Data: candidate("early")}))
	require.Empty(t, factory.conns)

	// Act
	err := guest.HandleSignal(ctx, signaling.Message{Type: signaling.TypeOffer, FromPrincipalID: "host-1", Data: json.RawMessage(`{"type":"offer"}`)})

	// Assert
	require.NoError(t, err)
	require.Len(t, factory.conns, 1)
	conn := factory.conns[0]
	assert.Equal(t, []string{`{"candidate":"early"}`}, conn.candidates)

	require.Len(t, out.sent, 1)
	answer := out.sent[0]
	assert.Equal(t, signaling.TypeAnswer, answer.Type)
	assert.Equal(t, "guest-1", answer.FromPrincipalID)
	require.NotNil(t, answer.ToPrincipalID)
	assert.Equal(t, "host-1", *answer.ToPrincipalID)

	require.NoError(t, guest.HandleSignal(ctx, signaling.Message{Type: signaling.TypeICECandidate, FromPrincipalID: "host-1", Data: candidate("late")}))
	assert.Len(t, conn.candidates, 2)
}

func TestAnswerForUnknownPeerIsDropped(t *testing.T) {
	factory := &fakeFactory{}
	out := &outbox{}
	host := NewNegotiator("host-1", true, factory, out.send)

	err := host.HandleSignal(context.Background(), signaling.Message{Type: signaling.TypeAnswer, FromPrincipalID: "stranger", Data: json.RawMessage(`{}`)})

	assert.NoError(t, err)
	assert.Empty(t, factory.conns)
	assert.Empty(t, out.sent)
}

func TestHostOffersPerGuestOnceLive(t *testing.T) {
	factory := &fakeFactory{}
	out := &outbox{}
	host := NewNegotiator("host-1", true, factory, out.send)
	ctx := context.Background()

	assert.ErrorIs(t, host.OfferTo(ctx, "guest-1"), ErrSourceNotLive)

	require.NoError(t, host.SetSourceLive(ctx, []string{"guest-1", "guest-2"}))

	require.Len(t, out.sent, 2)
	for i, guest := range []string{"guest-1", "guest-2"} {
		msg := out.sent[i]
		assert.Equal(t, signaling.TypeOffer, msg.Type)
		require.NotNil(t, msg.ToPrincipalID, "offers are never broadcast")
		assert.Equal(t, guest, *msg.ToPrincipalID)
	}
	assert.Equal(t, []string{"guest-1", "guest-2"}, host.Peers())

	// guest candidates wait for the answer
	require.NoError(t, host.HandleSignal(ctx, signaling.Message{Type: signaling.TypeICECandidate, FromPrincipalID: "guest-1", Data: candidate("c1")}))
	assert.Empty(t, factory.conns[0].candidates)
	require.NoError(t, host.HandleSignal(ctx, signaling.Message{Type: signaling.TypeAnswer, FromPrincipalID: "guest-1", Data: json.RawMessage(`{"type":"answer"}`)}))
	assert.Len(t, factory.conns[0].answers, 1)
	assert.Equal(t, []string{`{"candidate":"c1"}`}, factory.conns[0].candidates)
}

func TestLocalCandidatesAreTargeted(t *testing.T) {
	factory := &fakeFactory{}
	out := &outbox{}
	host := NewNegotiator("host-1", true, factory, out.send)
	ctx := context.Background()
	require.NoError(t, host.SetSourceLive(ctx, []string{"guest-1"}))

	factory.conns[0].onICE(candidate("local"))

	last := out.sent[len(out.sent)-1]
	assert.Equal(t, signaling.TypeICECandidate, last.Type)
	assert.Equal(t, "guest-1", *last.ToPrincipalID)
}

func TestParticipantEventsTearDownPeers(t *testing.T) {
	factory := &fakeFactory{}
	out := &outbox{}
	host := NewNegotiator("host-1", true, factory, out.send)
	ctx := context.Background()
	require.NoError(t, host.SetSourceLive(ctx, []string{"guest-1", "nick:ann"}))

	principal := "guest-1"
	disconnected := models.Participant{ID: "p1", RoomID: "room-1", PrincipalID: &principal, ConnectionStatus: models.StatusDisconnected}
	require.NoError(t, host.HandleParticipantEvent(ctx, participantEvent(t, realtime.EventUpdate, disconnected)))
	assert.True(t, factory.conns[0].closed)
	assert.Equal(t, []string{"nick:ann"}, host.Peers())

	left := models.Participant{ID: "p2", RoomID: "room-1", Nickname: "ann", ConnectionStatus: models.StatusConnected}
	require.NoError(t, host.HandleParticipantEvent(ctx, participantEvent(t, realtime.EventDelete, left)))
	assert.True(t, factory.conns[1].closed)
	assert.Empty(t, host.Peers())

	// a guest reconnecting while live gets a new offer
	disconnected.ConnectionStatus = models.StatusConnected
	require.NoError(t, host.HandleParticipantEvent(ctx, participantEvent(t, realtime.EventUpdate, disconnected)))
	assert.Equal(t, []string{"guest-1"}, host.Peers())
	last := out.sent[len(out.sent)-1]
	assert.Equal(t, signaling.TypeOffer, last.Type)
}

func TestStopTearsDownEverything(t *testing.T) {
	factory := &fakeFactory{}
	out := &outbox{}
	host := NewNegotiator("host-1", true, factory, out.send)
	ctx := context.Background()
	require.NoError(t, host.SetSourceLive(ctx, []string{"guest-1", "guest-2"}))

	host.Stop()

	assert.Empty(t, host.Peers())
	for _, c := range factory.conns {
		assert.True(t, c.closed)
	}
	assert.ErrorIs(t, host.OfferTo(ctx, "guest-1"), ErrSourceNotLive)
}

func TestPionConnCreatesOffer(t *testing.T) {
	track, err := NewAudioTrack("room-1")
	require.NoError(t, err)
	factory := &PionFactory{LocalTrack: track}

	conn, err := factory.NewConn("guest-1")
	require.NoError(t, err)
	defer conn.Close()

	offer, err := conn.CreateOffer()
	require.NoError(t, err)

	var desc struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	require.NoError(t, json.Unmarshal(offer, &desc))
	assert.Equal(t, "offer", desc.Type)
	assert.True(t, strings.HasPrefix(desc.SDP, "v=0"))
	assert.Contains(t, desc.SDP, "m=audio")
}
