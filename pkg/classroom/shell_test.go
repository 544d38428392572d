package classroom

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/persistence"
	"github.com/giongto35/cloud-classroom/pkg/signal"
	"github.com/giongto35/cloud-classroom/pkg/storage"
	"github.com/giongto35/cloud-classroom/pkg/webrtc"
	"github.com/giongto35/cloud-classroom/pkg/whiteboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lesson = Session{Id: "s1", Tutor: "tutor", Student: "student"}

// fakeChannel connects two shells in memory.
type fakeChannel struct {
	mu         sync.Mutex
	from       string
	state      signal.State
	sent       []api.Envelope
	pending    map[api.Type]api.Envelope
	onMsg      func(api.Envelope)
	onStatus   []func(signal.State)
	connectErr error
	peer       *fakeChannel

	q    chan api.Envelope
	done chan struct{}
	once sync.Once

	disconnects  int
	onDisconnect func()
}

func newFakeChannel(t *testing.T, from string) *fakeChannel {
	f := &fakeChannel{
		from:    from,
		pending: map[api.Type]api.Envelope{},
		q:       make(chan api.Envelope, 1024),
		done:    make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-f.done:
				return
			case env := <-f.q:
				f.mu.Lock()
				fn := f.onMsg
				f.mu.Unlock()
				if fn != nil {
					fn(env)
				}
			}
		}
	}()
	t.Cleanup(func() { f.once.Do(func() { close(f.done) }) })
	return f
}

func (f *fakeChannel) Send(t api.Type, payload any) error {
	env, err := api.Wrap(t, lesson.Id, f.from, payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != signal.Connected {
		f.pending[t] = env
		return signal.ErrReconnecting
	}
	f.sent = append(f.sent, env)
	if f.peer != nil {
		f.peer.q <- env
	}
	return nil
}

func (f *fakeChannel) Pending(t api.Type) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[t]
	return ok
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	err := f.connectErr
	f.mu.Unlock()
	if err != nil {
		f.set(signal.Failed)
		return err
	}
	f.set(signal.Connected)
	return nil
}

func (f *fakeChannel) OnMessage(fn func(api.Envelope)) {
	f.mu.Lock()
	f.onMsg = fn
	f.mu.Unlock()
}

func (f *fakeChannel) OnStatus(fn func(signal.State)) {
	f.mu.Lock()
	f.onStatus = append(f.onStatus, fn)
	f.mu.Unlock()
}

func (f *fakeChannel) State() signal.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	hook := f.onDisconnect
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.set(signal.Idle)
}

func (f *fakeChannel) set(s signal.State) {
	f.mu.Lock()
	f.state = s
	fns := append([]func(signal.State){}, f.onStatus...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (f *fakeChannel) count(t api.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.sent {
		if e.Type == t {
			n++
		}
	}
	return n
}

type deniedSource struct{}

func (deniedSource) Acquire(context.Context) (*webrtc.LocalStream, error) {
	return nil, errors.New("NotAllowedError")
}

type slowStorage struct {
	storage.Storage
	started chan struct{}
	release chan struct{}
}

func (s *slowStorage) Save(ctx context.Context, key string, data []byte) error {
	s.started <- struct{}{}
	<-s.release
	return s.Storage.Save(ctx, key, data)
}

type failingStorage struct{ storage.Storage }

func (failingStorage) Save(context.Context, string, []byte) error { return errors.New("quota") }

func testConf() config.Session {
	return config.Session{NegotiationTimeout: time.Minute, NegotiationRetries: 1, SnapshotWait: time.Second}
}

func newShell(t *testing.T, me string, ch *fakeChannel, st storage.Storage, media webrtc.MediaSource) *Shell {
	factory, err := webrtc.NewApiFactory(config.Webrtc{Loopback: true}, logger.Nop())
	require.NoError(t, err)
	if st == nil {
		st = storage.NewMemory()
	}
	if media == nil {
		media = webrtc.SampleSource{}
	}
	s, err := New(lesson, Participant(me), Deps{
		Channel: ch,
		Media:   media,
		Factory: factory,
		Gateway: persistence.NewGateway(st, logger.Nop()),
	}, testConf(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Leave)
	return s
}

func waitLoaded(t *testing.T, s *Shell) {
	t.Helper()
	select {
	case <-s.Loaded():
	case <-time.After(5 * time.Second):
		t.Fatal("board is not loaded")
	}
}

func rect(id string, x float64) whiteboard.Record {
	return whiteboard.NewRecord(id, whiteboard.RectShape{Box: whiteboard.Box{At: whiteboard.Point{X: x}, W: 5, H: 5}})
}

func TestSessionMembership(t *testing.T) {
	assert.True(t, lesson.Has("tutor"))
	assert.True(t, lesson.Has("student"))
	assert.False(t, lesson.Has(""))
	assert.False(t, lesson.Has("parent"))

	r, err := lesson.Role("student")
	require.NoError(t, err)
	assert.Equal(t, Student, r)
	assert.Equal(t, "tutor", lesson.Peer("student"))

	_, err = New(lesson, Participant("parent"), Deps{}, testConf(), logger.Nop())
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestJoinLoadsBoard(t *testing.T) {
	st := storage.NewMemory()
	gw := persistence.NewGateway(st, logger.Nop())
	saved := persistence.NewSnapshot(4, []whiteboard.Record{rect("shape:1", 1), rect("shape:2", 2)})
	require.NoError(t, gw.SaveSnapshot(context.Background(), lesson.Id, saved))

	ch := newFakeChannel(t, "student")
	s := newShell(t, "student", ch, st, nil)
	assert.Equal(t, Pending, s.Session().State)

	require.NoError(t, s.Join(context.Background()))
	waitLoaded(t, s)

	assert.Equal(t, 2, s.Board().Len())
	assert.Equal(t, Connecting, s.Session().State)
	assert.Equal(t, StatusConnecting, s.Status().Status)
	assert.Equal(t, 1, ch.count(api.Presence))

	require.NoError(t, s.SaveBoard(context.Background()))
	loaded, err := gw.LoadSnapshot(context.Background(), lesson.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), loaded.Version)
}

func TestBoardSync(t *testing.T) {
	tc, sc := newFakeChannel(t, "tutor"), newFakeChannel(t, "student")
	tc.peer, sc.peer = sc, tc
	tutor := newShell(t, "tutor", tc, nil, nil)
	student := newShell(t, "student", sc, nil, nil)

	require.NoError(t, tutor.Join(context.Background()))
	require.NoError(t, student.Join(context.Background()))
	waitLoaded(t, tutor)
	waitLoaded(t, student)

	require.NoError(t, tutor.Board().Put(rect("shape:1", 1), rect("shape:2", 2)))
	assert.Eventually(t, func() bool { return student.Board().Len() == 2 }, 5*time.Second, 5*time.Millisecond)

	student.Board().Remove("shape:1")
	assert.Eventually(t, func() bool { return !tutor.Board().Has("shape:1") }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, student.ClearBoard())
	assert.Eventually(t, func() bool { return tutor.Board().Len() == 0 }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, sc.count(api.Offer), "only the tutor offers")
}

func TestSaveBoardIsDisabledWhileSaving(t *testing.T) {
	st := &slowStorage{Storage: storage.NewMemory(), started: make(chan struct{}, 1), release: make(chan struct{})}
	s := newShell(t, "tutor", newFakeChannel(t, "tutor"), st, nil)
	require.NoError(t, s.Board().Put(rect("shape:1", 1)))

	done := make(chan error, 1)
	go func() { done <- s.SaveBoard(context.Background()) }()
	select {
	case <-st.started:
	case <-time.After(5 * time.Second):
		t.Fatal("save has not started")
	}

	assert.False(t, s.CanSave())
	assert.ErrorIs(t, s.SaveBoard(context.Background()), persistence.ErrSaveInProgress)

	close(st.release)
	require.NoError(t, <-done)
	assert.True(t, s.CanSave())
}

func TestSaveFailureOffersRetry(t *testing.T) {
	s := newShell(t, "tutor", newFakeChannel(t, "tutor"), failingStorage{storage.NewMemory()}, nil)

	var reports []Report
	var mu sync.Mutex
	s.OnStatus(func(r Report) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	})

	err := s.SaveBoard(context.Background())
	var perr *persistence.Error
	require.True(t, errors.As(err, &perr))

	r := s.Status()
	assert.Equal(t, ActionRetrySave, r.Action)
	assert.Equal(t, err, r.Err)

	mu.Lock()
	require.NotEmpty(t, reports)
	assert.Equal(t, ActionRetrySave, reports[len(reports)-1].Action)
	mu.Unlock()
}

func TestLeaveOrder(t *testing.T) {
	ch := newFakeChannel(t, "tutor")
	s := newShell(t, "tutor", ch, nil, nil)
	require.NoError(t, s.Join(context.Background()))
	local := s.LocalStream()
	require.NotNil(t, local)

	var mediaReleased, cancelled bool
	ch.mu.Lock()
	ch.onDisconnect = func() {
		mediaReleased = local.Stopped()
		cancelled = s.ctx.Err() != nil
	}
	ch.mu.Unlock()

	s.Leave()
	s.Leave()

	assert.True(t, mediaReleased, "media is released before the channel closes")
	assert.True(t, cancelled, "operations are cancelled first")
	assert.Equal(t, 1, ch.disconnects)
	assert.Equal(t, Ended, s.Session().State)

	r := s.Status()
	assert.Equal(t, Ended, r.State)
	assert.ErrorIs(t, r.Err, ErrEnded)

	assert.ErrorIs(t, s.Join(context.Background()), ErrEnded)
	assert.ErrorIs(t, s.ClearBoard(), ErrEnded)
	assert.ErrorIs(t, s.SaveBoard(context.Background()), ErrEnded)
	assert.ErrorIs(t, s.Rejoin(context.Background()), ErrEnded)
	_, err := s.ToggleMute()
	assert.ErrorIs(t, err, ErrEnded)
	assert.False(t, s.CanSave())
}

func TestPermissionDenied(t *testing.T) {
	s := newShell(t, "student", newFakeChannel(t, "student"), nil, deniedSource{})

	err := s.Join(context.Background())
	assert.ErrorIs(t, err, webrtc.ErrMediaPermission)

	r := s.Status()
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, NoAction, r.Action)
	assert.ErrorIs(t, r.Err, webrtc.ErrMediaPermission)
}

func TestChannelGaveUp(t *testing.T) {
	ch := newFakeChannel(t, "student")
	s := newShell(t, "student", ch, nil, nil)
	require.NoError(t, s.Join(context.Background()))

	ch.set(signal.Reconnecting)
	assert.Equal(t, StatusReconnecting, s.Status().Status)
	assert.Equal(t, HealthDisconnected, s.Status().Health)

	ch.set(signal.Failed)
	r := s.Status()
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, ActionRejoin, r.Action)

	require.NoError(t, s.Rejoin(context.Background()))
	r = s.Status()
	assert.Equal(t, StatusConnecting, r.Status)
	assert.Equal(t, NoAction, r.Action)
}

func TestFirstConnectFails(t *testing.T) {
	ch := newFakeChannel(t, "student")
	ch.connectErr = signal.ErrDisconnected
	s := newShell(t, "student", ch, nil, nil)

	assert.ErrorIs(t, s.Join(context.Background()), signal.ErrDisconnected)
	assert.Equal(t, ActionRejoin, s.Status().Action)

	ch.mu.Lock()
	ch.connectErr = nil
	ch.mu.Unlock()
	require.NoError(t, s.Rejoin(context.Background()))
	assert.NotNil(t, s.LocalStream(), "rejoin starts the media")
	assert.Equal(t, 1, ch.count(api.Presence))
}

func TestReconnectAnnounces(t *testing.T) {
	ch := newFakeChannel(t, "student")
	s := newShell(t, "student", ch, nil, nil)
	require.NoError(t, s.Join(context.Background()))
	require.Equal(t, 1, ch.count(api.Presence))

	ch.set(signal.Reconnecting)
	ch.set(signal.Connected)
	assert.Equal(t, 2, ch.count(api.Presence))
}

func TestStatus(t *testing.T) {
	saveErr := &persistence.Error{Op: "save", Retryable: true, Err: errors.New("quota")}
	denied := webrtc.ErrMediaPermission
	tests := []struct {
		name   string
		parts  parts
		status Status
		action Action
		health Health
	}{
		{"starting", parts{channel: signal.Connecting, call: webrtc.Idle}, StatusConnecting, NoAction, HealthConnecting},
		{"negotiating", parts{channel: signal.Connected, call: webrtc.Offering}, StatusConnecting, NoAction, HealthConnecting},
		{"live", parts{channel: signal.Connected, call: webrtc.Connected}, StatusLive, NoAction, HealthConnected},
		{"live with failed save", parts{channel: signal.Connected, call: webrtc.Connected, saveErr: saveErr}, StatusLive, ActionRetrySave, HealthConnected},
		{"reconnecting", parts{channel: signal.Reconnecting, call: webrtc.Connected}, StatusReconnecting, NoAction, HealthDisconnected},
		{"gave up", parts{channel: signal.Failed, call: webrtc.Connected}, StatusError, ActionRejoin, HealthDisconnected},
		{"call failed", parts{channel: signal.Connected, call: webrtc.Failed, callErr: webrtc.ErrNegotiationTimeout}, StatusError, ActionRejoin, HealthDisconnected},
		{"no permission", parts{channel: signal.Connected, call: webrtc.Failed, callErr: denied, saveErr: saveErr}, StatusError, NoAction, HealthDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, action, _ := tt.parts.status()
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.health, tt.parts.health())
		})
	}
}

func TestLayout(t *testing.T) {
	s := newShell(t, "tutor", newFakeChannel(t, "tutor"), nil, nil)
	assert.Equal(t, MediaForward, s.Layout())
	assert.Equal(t, DocumentForward, s.ToggleLayout())
	assert.Equal(t, MediaForward, s.ToggleLayout())
	s.SetLayout(DocumentForward)
	assert.Equal(t, DocumentForward, s.Layout())

	assert.Equal(t, DocumentForward, ParseLayout("document"))
	assert.Equal(t, MediaForward, ParseLayout(""))
}
