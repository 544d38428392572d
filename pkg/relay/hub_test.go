package relay

import (
	"context"
	"sync"
	"testing"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/network/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	mu     sync.Mutex
	got    []api.Envelope
	closed bool
}

func (s *fakeSocket) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrClosed
	}
	env, err := api.Decode(data)
	if err != nil {
		return err
	}
	s.got = append(s.got, env)
	return nil
}

func (s *fakeSocket) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSocket) messages() []api.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Envelope{}, s.got...)
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (p *fakePresence) Join(_ context.Context, _, participant string) error {
	p.mu.Lock()
	p.online[participant] = true
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) Leave(_ context.Context, _, participant string) error {
	p.mu.Lock()
	delete(p.online, participant)
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) Online(context.Context, string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for k := range p.online {
		out = append(out, k)
	}
	return out, nil
}

func newPeer(session, participant string) (*peer, *fakeSocket) {
	s := &fakeSocket{}
	return &peer{id: participant + "-conn", session: session, participant: participant, sock: s}, s
}

func message(t *testing.T, typ api.Type, session, sender string) []byte {
	env, err := api.Wrap(typ, session, sender, map[string]int{"n": 1})
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func TestHubRelaysToTheOtherParticipant(t *testing.T) {
	h := NewHub(nil, nil, logger.Nop())
	tutor, ts := newPeer("s1", "tutor")
	student, ss := newPeer("s1", "student")
	require.NoError(t, h.Join(tutor))
	require.NoError(t, h.Join(student))

	// a client can't speak for someone else
	h.Forward(tutor, message(t, api.DocChange, "s2", "student"))

	got := ss.messages()
	require.Len(t, got, 1)
	assert.Equal(t, api.DocChange, got[0].Type)
	assert.Equal(t, "s1", got[0].SessionId)
	assert.Equal(t, "tutor", got[0].SenderId)
	assert.JSONEq(t, `{"n":1}`, string(got[0].Payload))
	assert.Empty(t, ts.messages(), "no echo")

	h.Forward(tutor, []byte(`{"type":"bogus"}`))
	h.Forward(tutor, []byte(`not json`))
	assert.Len(t, ss.messages(), 1)
}

func TestHubSessionsAreSeparate(t *testing.T) {
	h := NewHub(nil, nil, logger.Nop())
	a, _ := newPeer("s1", "tutor")
	b, bs := newPeer("s2", "student")
	require.NoError(t, h.Join(a))
	require.NoError(t, h.Join(b))

	h.Forward(a, message(t, api.Presence, "s1", "tutor"))
	assert.Empty(t, bs.messages())
}

func TestHubTwoParticipantsAtMost(t *testing.T) {
	h := NewHub(nil, nil, logger.Nop())
	tutor, _ := newPeer("s1", "tutor")
	student, _ := newPeer("s1", "student")
	parent, _ := newPeer("s1", "parent")
	require.NoError(t, h.Join(tutor))
	require.NoError(t, h.Join(student))

	assert.False(t, h.Admits("s1", "parent"))
	assert.True(t, h.Admits("s1", "tutor"))
	assert.True(t, h.Admits("s2", "parent"))
	assert.ErrorIs(t, h.Join(parent), ErrSessionFull)
	assert.Equal(t, []string{"student", "tutor"}, h.Online("s1"))
}

func TestHubNewConnectionReplacesOld(t *testing.T) {
	h := NewHub(nil, nil, logger.Nop())
	old, olds := newPeer("s1", "tutor")
	student, ss := newPeer("s1", "student")
	require.NoError(t, h.Join(old))
	require.NoError(t, h.Join(student))

	fresh, _ := newPeer("s1", "tutor")
	fresh.id = "fresh"
	require.NoError(t, h.Join(fresh))
	assert.True(t, olds.isClosed())

	// the old socket goes away without a leave for the student
	h.Leave(old)
	assert.Empty(t, ss.messages())
	assert.Equal(t, []string{"student", "tutor"}, h.Online("s1"))

	h.Forward(old, message(t, api.DocChange, "s1", "tutor"))
	assert.Empty(t, ss.messages(), "replaced connections are muted")

	h.Forward(fresh, message(t, api.DocChange, "s1", "tutor"))
	assert.Len(t, ss.messages(), 1)
}

func TestHubLeave(t *testing.T) {
	pr := &fakePresence{online: map[string]bool{}}
	h := NewHub(pr, nil, logger.Nop())
	tutor, ts := newPeer("s1", "tutor")
	student, _ := newPeer("s1", "student")
	require.NoError(t, h.Join(tutor))
	require.NoError(t, h.Join(student))
	list, _ := pr.Online(context.Background(), "s1")
	assert.ElementsMatch(t, []string{"tutor", "student"}, list)

	h.Leave(student)

	got := ts.messages()
	require.Len(t, got, 1)
	assert.Equal(t, api.Presence, got[0].Type)
	assert.Equal(t, "student", got[0].SenderId)
	p := api.Unwrap[api.PresencePayload](got[0].Payload)
	require.NotNil(t, p)
	assert.Equal(t, api.Leave, p.State)
	list, _ = pr.Online(context.Background(), "s1")
	assert.Equal(t, []string{"tutor"}, list)

	h.Leave(tutor)
	assert.False(t, h.rooms.Has("s1"), "empty sessions are dropped")
	assert.Empty(t, h.Online("s1"))

	// a new session with the same id starts clean
	again, _ := newPeer("s1", "student")
	require.NoError(t, h.Join(again))
	assert.Equal(t, []string{"student"}, h.Online("s1"))
}

func TestHubClose(t *testing.T) {
	h := NewHub(nil, nil, logger.Nop())
	a, as := newPeer("s1", "tutor")
	b, bs := newPeer("s2", "student")
	require.NoError(t, h.Join(a))
	require.NoError(t, h.Join(b))

	h.Close()
	assert.True(t, as.isClosed())
	assert.True(t, bs.isClosed())
}
