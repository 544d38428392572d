package classroom

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/collab"
	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/persistence"
	"github.com/giongto35/cloud-classroom/pkg/signal"
	"github.com/giongto35/cloud-classroom/pkg/storage"
	"github.com/giongto35/cloud-classroom/pkg/webrtc"
	"github.com/giongto35/cloud-classroom/pkg/whiteboard"
)

// Channel is the signaling channel of the session.
type Channel interface {
	collab.Sender
	Connect(ctx context.Context) error
	OnMessage(fn func(api.Envelope))
	OnStatus(fn func(signal.State))
	State() signal.State
	Disconnect()
}

// Deps are the per session components the shell drives.
type Deps struct {
	Channel Channel
	Media   webrtc.MediaSource
	Factory *webrtc.ApiFactory
	Gateway *persistence.Gateway
	// Storage behind the gateway, closed on leave when set.
	Storage storage.Storage
}

type Shell struct {
	session Session
	me      string
	role    Role
	conf    config.Session

	ch   Channel
	doc  *whiteboard.Store
	prop *collab.Propagator
	call *webrtc.Manager
	gw   *persistence.Gateway
	st   storage.Storage
	api  *webrtc.ApiFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	layout  Layout
	parts   parts
	last    Report
	joined  bool
	saving  bool
	version int64
	loaded  chan struct{}

	lmu       sync.RWMutex
	listeners []func(Report)
	// rmu keeps reports in order
	rmu sync.Mutex

	leaveOnce sync.Once

	log *logger.Logger
}

// New prepares the session of the participant. Nothing is connected
// until Join.
func New(session Session, me Identity, deps Deps, conf config.Session, log *logger.Logger) (*Shell, error) {
	if log == nil {
		log = logger.Default()
	}
	id := me.ParticipantId()
	role, err := session.Role(id)
	if err != nil {
		return nil, err
	}
	if deps.Channel == nil || deps.Media == nil || deps.Factory == nil || deps.Gateway == nil {
		return nil, errors.New("classroom: missing dependency")
	}
	log = log.Session(session.Id)
	log = log.Extend(log.With().Str("role", role.String()))

	s := &Shell{
		session: session,
		me:      id,
		role:    role,
		conf:    conf,
		ch:      deps.Channel,
		gw:      deps.Gateway,
		st:      deps.Storage,
		api:     deps.Factory,
		state:   Pending,
		layout:  ParseLayout(conf.Layout),
		loaded:  make(chan struct{}),
		log:     log.Module("classroom"),
	}
	s.parts.channel = deps.Channel.State()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.doc = whiteboard.NewStore(log)
	s.prop = collab.New(s.doc, s.ch, conf.SnapshotWait, log)
	s.call = webrtc.NewManager(deps.Factory, deps.Media, s.ch, role == Tutor, conf, log)

	s.ch.OnMessage(s.route)
	s.ch.OnStatus(s.onChannel)
	s.call.OnStatus(s.onCall)
	return s, nil
}

func (s *Shell) route(env api.Envelope) {
	switch {
	case env.Type.Negotiation(), env.Type == api.Presence:
		s.call.HandleSignal(env)
	case env.Type == api.DocChange, env.Type == api.DocClear:
		s.prop.Handle(env)
	default:
		s.log.Warn().Str("type", env.Type.String()).Msg("Unexpected message")
	}
}

func (s *Shell) onChannel(state signal.State) {
	s.mu.Lock()
	prev := s.parts.channel
	s.parts.channel = state
	s.mu.Unlock()

	// the peer may have missed us while we were away
	if state == signal.Connected && prev == signal.Reconnecting {
		s.call.Announce()
	}
	s.report()
}

func (s *Shell) onCall(status webrtc.Status, err error) {
	s.mu.Lock()
	s.parts.call = status
	s.parts.callErr = err
	s.mu.Unlock()
	s.report()
}

// Join connects the session. The saved board is loaded in the background
// while the channel connects and the call is negotiated.
func (s *Shell) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Ended {
		s.mu.Unlock()
		return ErrEnded
	}
	if s.joined {
		s.mu.Unlock()
		return nil
	}
	s.joined = true
	s.state = Connecting
	s.mu.Unlock()
	s.report()

	ctx, cancel := s.merge(ctx)
	defer cancel()

	s.wg.Add(1)
	go s.loadBoard()

	if err := s.ch.Connect(ctx); err != nil {
		s.log.Error().Err(err).Msg("Signaling is not available")
		s.report()
		return err
	}
	if err := s.call.Start(ctx); err != nil {
		s.log.Error().Err(err).Msg("Call is not started")
		return err
	}
	return nil
}

func (s *Shell) loadBoard() {
	defer s.wg.Done()
	defer close(s.loaded)

	snapshot, err := s.gw.LoadSnapshot(s.ctx, s.session.Id)
	if err != nil {
		s.log.Warn().Err(err).Msg("Saved board is not available, starting with an empty one")
	}
	if err := s.doc.LoadRecords(snapshot.Records); err != nil {
		s.log.Warn().Err(err).Msg("Saved board is broken")
	}
	s.mu.Lock()
	s.version = snapshot.Version
	s.mu.Unlock()
	s.prop.MarkReady()
	s.log.Debug().Int("records", len(snapshot.Records)).Msg("Board is ready")
}

// Loaded is closed once the saved board has been applied.
func (s *Shell) Loaded() <-chan struct{} { return s.loaded }

// merge ties the context of a call to the session lifetime.
func (s *Shell) merge(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Shell) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Ended
}

// ToggleMute flips the microphone and returns whether it is muted now.
func (s *Shell) ToggleMute() (muted bool, err error) {
	if s.ended() {
		return false, ErrEnded
	}
	on, err := s.call.ToggleAudio()
	return !on, err
}

// ToggleCamera flips the camera and returns whether it is on now.
func (s *Shell) ToggleCamera() (on bool, err error) {
	if s.ended() {
		return false, ErrEnded
	}
	return s.call.ToggleVideo()
}

// ClearBoard wipes the whiteboard on both sides.
func (s *Shell) ClearBoard() error {
	if s.ended() {
		return ErrEnded
	}
	s.doc.Clear()
	return nil
}

// CanSave reports whether the save control is enabled.
func (s *Shell) CanSave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != Ended && !s.saving
}

// SaveBoard stores the current board. It is disabled while a save runs.
func (s *Shell) SaveBoard(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == Ended:
		s.mu.Unlock()
		return ErrEnded
	case s.saving:
		s.mu.Unlock()
		return persistence.ErrSaveInProgress
	}
	s.saving = true
	version := s.version + 1
	s.mu.Unlock()

	ctx, cancel := s.merge(ctx)
	defer cancel()

	start := time.Now()
	err := s.gw.SaveSnapshot(ctx, s.session.Id, persistence.NewSnapshot(version, s.doc.Records()))

	s.mu.Lock()
	s.saving = false
	s.parts.saveErr = err
	if err == nil {
		s.version = version
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Msg("Board is not saved")
	} else {
		s.log.Info().Int64("version", version).Dur("took", time.Since(start)).Msg("Board saved")
	}
	s.report()
	return err
}

// Rejoin is the action for a failed call or a lost channel.
func (s *Shell) Rejoin(ctx context.Context) error {
	if s.ended() {
		return ErrEnded
	}
	ctx, cancel := s.merge(ctx)
	defer cancel()

	if st := s.ch.State(); st == signal.Failed || st == signal.Idle {
		if err := s.ch.Connect(ctx); err != nil {
			return err
		}
	}
	err := s.call.Rejoin()
	if errors.Is(err, webrtc.ErrNotStarted) {
		err = s.call.Start(ctx)
	}
	return err
}

// Leave ends the session: running operations are cancelled, the media is
// released and the channel is closed, in that order. Safe to call many times.
func (s *Shell) Leave() {
	s.leaveOnce.Do(func() {
		s.mu.Lock()
		s.state = Ended
		s.mu.Unlock()

		s.cancel()
		s.call.Leave()
		s.ch.Disconnect()
		s.prop.Close()
		s.wg.Wait()
		if err := s.api.Close(); err != nil {
			s.log.Warn().Err(err).Msg("ICE mux close")
		}
		if s.st != nil {
			if err := storage.Close(s.st); err != nil {
				s.log.Warn().Err(err).Msg("Storage close")
			}
		}

		s.log.Info().Msg("Left the session")
		s.report()
	})
}

func (s *Shell) SetLayout(l Layout) {
	s.mu.Lock()
	s.layout = l
	s.mu.Unlock()
}

func (s *Shell) ToggleLayout() Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = s.layout.toggle()
	return s.layout
}

func (s *Shell) Layout() Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

// OnStatus adds a status listener.
func (s *Shell) OnStatus(fn func(Report)) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

// Status returns the latest report.
func (s *Shell) Status() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compute()
}

func (s *Shell) compute() Report {
	status, action, err := s.parts.status()
	if s.state == Ended {
		action, err = NoAction, ErrEnded
	}
	return Report{State: s.state, Status: status, Action: action, Health: s.parts.health(), Err: err}
}

// report notifies the listeners when the report has changed.
func (s *Shell) report() {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	s.mu.Lock()
	if s.state == Connecting && s.parts.channel == signal.Connected && s.parts.call == webrtc.Connected {
		s.state = Live
	}
	r := s.compute()
	changed := !r.same(s.last)
	s.last = r
	s.mu.Unlock()

	if !changed {
		return
	}
	s.log.Debug().Str("state", r.State.String()).Str("status", r.Status.String()).
		Str("action", r.Action.String()).AnErr("err", r.Err).Msg("Status")

	s.lmu.RLock()
	fns := append([]func(Report){}, s.listeners...)
	s.lmu.RUnlock()
	for _, fn := range fns {
		fn(r)
	}
}

func (s *Shell) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.session
	session.State = s.state
	return session
}

func (s *Shell) Role() Role                       { return s.role }
func (s *Shell) Board() *whiteboard.Store         { return s.doc }
func (s *Shell) LocalStream() *webrtc.LocalStream { return s.call.LocalStream() }
