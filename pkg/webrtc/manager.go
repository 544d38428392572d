package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/pion/webrtc/v4"
)

// Status is the negotiation status of the call.
type Status uint8

const (
	Idle Status = iota
	Offering
	Answering
	Connected
	Failed
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case Answering:
		return "answering"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrNegotiationTimeout = errors.New("negotiation timeout")
	ErrTransport          = errors.New("peer transport failed")
	ErrNotStarted         = errors.New("media is not started")
	ErrLeft               = errors.New("left the session")
)

// Signaler sends handshake messages to the other participant.
// Send must not deliver back into the manager synchronously.
type Signaler interface {
	Send(t api.Type, payload any) error
}

type StatusListener func(status Status, err error)

// Manager drives the single call between the two participants.
// The offerer (the tutor) starts every handshake, the other side answers.
// A failed handshake is retried with a brand new peer connection.
type Manager struct {
	factory *ApiFactory
	media   MediaSource
	sig     Signaler
	offerer bool
	conf    config.Session

	mu         sync.Mutex
	status     Status
	err        error
	pc         *webrtc.PeerConnection
	audio      *webrtc.RTPSender
	video      *webrtc.RTPSender
	local      *LocalStream
	remote     []*webrtc.TrackRemote
	pendingIce []webrtc.ICECandidateInit
	remoteSet  bool
	retries    int
	timer      *time.Timer
	gen        int
	left       bool

	// side effects collected under mu and run after it is released
	out     []outgoing
	closing []*webrtc.PeerConnection
	events  []statusEvent

	fmu       sync.Mutex
	listeners []StatusListener

	log *logger.Logger
}

type outgoing struct {
	t       api.Type
	payload any
}

type statusEvent struct {
	status Status
	err    error
}

func NewManager(factory *ApiFactory, media MediaSource, sig Signaler, offerer bool, conf config.Session, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	if conf.NegotiationTimeout <= 0 {
		conf.NegotiationTimeout = 30 * time.Second
	}
	return &Manager{
		factory: factory,
		media:   media,
		sig:     sig,
		offerer: offerer,
		conf:    conf,
		log:     log.Module("peer"),
	}
}

// OnStatus adds a listener of status changes.
func (m *Manager) OnStatus(fn StatusListener) {
	m.fmu.Lock()
	m.listeners = append(m.listeners, fn)
	m.fmu.Unlock()
}

// do runs fn under the lock and then performs the collected side effects.
func (m *Manager) do(fn func()) {
	m.mu.Lock()
	fn()
	out, closing, events := m.out, m.closing, m.events
	m.out, m.closing, m.events = nil, nil, nil
	m.mu.Unlock()

	m.fmu.Lock()
	defer m.fmu.Unlock()
	for _, pc := range closing {
		if err := pc.Close(); err != nil {
			m.log.Warn().Err(err).Msg("peer close")
		}
	}
	for _, o := range out {
		if err := m.sig.Send(o.t, o.payload); err != nil {
			m.log.Warn().Err(err).Str("type", o.t.String()).Msg("signal")
		}
	}
	for _, e := range events {
		for _, fn := range m.listeners {
			fn(e.status, e.err)
		}
	}
}

func (m *Manager) send(t api.Type, payload any) { m.out = append(m.out, outgoing{t: t, payload: payload}) }

func (m *Manager) setStatus(s Status, err error) {
	if m.status == s && errors.Is(m.err, err) {
		return
	}
	m.log.Info().Str("status", s.String()).AnErr("err", err).Msg("Call")
	m.status = s
	m.err = err
	m.events = append(m.events, statusEvent{status: s, err: err})
}

// Start acquires the local media and announces the participant.
// A denied permission fails the call for good.
func (m *Manager) Start(ctx context.Context) error {
	stream, err := m.media.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		if !errors.Is(err, ErrMediaPermission) {
			err = fmt.Errorf("%w: %v", ErrMediaPermission, err)
		}
		m.do(func() { m.setStatus(Failed, err) })
		return err
	}
	var result error
	m.do(func() {
		if m.left {
			stream.Stop()
			result = ErrLeft
			return
		}
		m.local = stream
		m.setStatus(Idle, nil)
		m.send(api.Presence, api.PresencePayload{State: api.Join})
	})
	return result
}

// Announce repeats the join presence, e.g. after the signaling reconnect.
func (m *Manager) Announce() {
	m.do(func() {
		if m.left || m.local == nil {
			return
		}
		m.send(api.Presence, api.PresencePayload{State: api.Join})
	})
}

// Rejoin starts a fresh handshake after a failure.
func (m *Manager) Rejoin() error {
	var err error
	m.do(func() {
		switch {
		case m.left:
			err = ErrLeft
		case m.local == nil:
			err = ErrNotStarted
		case errors.Is(m.err, ErrMediaPermission):
			err = m.err
		default:
			m.retries = 0
			m.restart()
		}
	})
	return err
}

// HandleSignal processes a handshake message from the other participant.
func (m *Manager) HandleSignal(env api.Envelope) {
	m.do(func() {
		if m.left || m.local == nil {
			return
		}
		switch env.Type {
		case api.Presence:
			m.onPresence(env)
		case api.Offer:
			m.onOffer(env)
		case api.Answer:
			m.onAnswer(env)
		case api.IceCandidate:
			m.onIce(env)
		}
	})
}

func (m *Manager) onPresence(env api.Envelope) {
	p := api.Unwrap[api.PresencePayload](env.Payload)
	if p == nil {
		m.log.Warn().Msg("Bad presence")
		return
	}
	switch p.State {
	case api.Join:
		if !p.Ack {
			m.send(api.Presence, api.PresencePayload{State: api.Join, Ack: true})
		}
		if !m.offerer {
			return
		}
		switch m.status {
		case Idle:
			m.offer()
		case Connected:
			// the other side has lost its connection state
			if !p.Ack {
				m.offer()
			}
		}
	case api.Leave:
		m.log.Info().Msg("The other participant left")
		m.dropPeer()
		if m.status != Failed {
			m.setStatus(Idle, nil)
		}
	}
}

func (m *Manager) onOffer(env api.Envelope) {
	if m.offerer {
		m.log.Warn().Msg("Unexpected offer")
		return
	}
	if m.status == Failed {
		return
	}
	sdp := api.Unwrap[api.Sdp](env.Payload)
	if sdp == nil {
		m.log.Warn().Msg("Bad offer")
		return
	}
	buffered := m.pendingIce
	m.dropPeer()
	if err := m.newPeer(); err != nil {
		m.fail(err)
		return
	}
	m.pendingIce = buffered
	m.setStatus(Answering, nil)
	m.arm()

	err := m.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp.Sdp})
	if err != nil {
		m.fail(fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}
	m.remoteApplied()
	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		m.fail(fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}
	if err = m.pc.SetLocalDescription(answer); err != nil {
		m.fail(fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}
	m.send(api.Answer, api.Sdp{Type: answer.Type.String(), Sdp: answer.SDP})
}

func (m *Manager) onAnswer(env api.Envelope) {
	if !m.offerer || m.status != Offering || m.pc == nil || m.remoteSet {
		m.log.Debug().Str("status", m.status.String()).Msg("Unexpected answer")
		return
	}
	sdp := api.Unwrap[api.Sdp](env.Payload)
	if sdp == nil {
		m.log.Warn().Msg("Bad answer")
		return
	}
	err := m.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp.Sdp})
	if err != nil {
		m.fail(fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}
	m.remoteApplied()
}

func (m *Manager) onIce(env api.Envelope) {
	ice := api.Unwrap[api.Ice](env.Payload)
	if ice == nil || ice.Candidate == "" {
		return
	}
	c := toCandidate(*ice)
	if m.pc == nil || !m.remoteSet {
		m.pendingIce = append(m.pendingIce, c)
		return
	}
	if err := m.pc.AddICECandidate(c); err != nil {
		m.log.Warn().Err(err).Msg("Add ICE candidate")
	}
}

// remoteApplied adds the candidates that came before the description.
func (m *Manager) remoteApplied() {
	m.remoteSet = true
	for _, c := range m.pendingIce {
		if err := m.pc.AddICECandidate(c); err != nil {
			m.log.Warn().Err(err).Msg("Add buffered ICE candidate")
		}
	}
	m.pendingIce = nil
}

func (m *Manager) offer() {
	m.dropPeer()
	if err := m.newPeer(); err != nil {
		m.fail(err)
		return
	}
	m.setStatus(Offering, nil)
	m.arm()

	offer, err := m.pc.CreateOffer(nil)
	if err != nil {
		m.fail(fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}
	if err = m.pc.SetLocalDescription(offer); err != nil {
		m.fail(fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}
	m.send(api.Offer, api.Sdp{Type: offer.Type.String(), Sdp: offer.SDP})
}

// newPeer makes a peer connection of the next handshake generation.
func (m *Manager) newPeer() error {
	pc, err := m.factory.NewPeer()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	m.gen++
	gen := m.gen

	m.audio, err = pc.AddTrack(m.local.Audio)
	if err != nil {
		_ = pc.Close()
		return err
	}
	m.video, err = pc.AddTrack(m.local.Video)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if !m.local.AudioEnabled() {
		_ = m.audio.ReplaceTrack(nil)
	}
	if !m.local.VideoEnabled() {
		_ = m.video.ReplaceTrack(nil)
	}
	for _, s := range []*webrtc.RTPSender{m.audio, m.video} {
		go readRtcp(s)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.do(func() {
			if m.gen != gen {
				return
			}
			m.send(api.IceCandidate, fromCandidate(c.ToJSON()))
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.do(func() {
			if m.gen != gen {
				return
			}
			m.onConnectionState(state)
		})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.do(func() {
			if m.gen != gen {
				return
			}
			m.log.Info().Str("kind", track.Kind().String()).Msg("Remote track")
			m.remote = append(m.remote, track)
		})
	})

	m.pc = pc
	m.remoteSet = false
	m.pendingIce = nil
	m.remote = nil
	return nil
}

func readRtcp(s *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.Read(buf); err != nil {
			return
		}
	}
}

func (m *Manager) onConnectionState(state webrtc.PeerConnectionState) {
	m.log.Debug().Str("state", state.String()).Msg("Peer connection")
	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.disarm()
		m.retries = 0
		m.setStatus(Connected, nil)
	case webrtc.PeerConnectionStateFailed:
		m.fail(ErrTransport)
	}
}

// arm starts the negotiation timer of the current generation.
func (m *Manager) arm() {
	m.disarm()
	gen := m.gen
	m.timer = time.AfterFunc(m.conf.NegotiationTimeout, func() {
		m.do(func() {
			if m.gen != gen || m.left || m.status == Connected {
				return
			}
			m.fail(ErrNegotiationTimeout)
		})
	})
}

func (m *Manager) disarm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// fail retries transient failures with a fresh handshake and gives up
// after the configured number of retries.
func (m *Manager) fail(err error) {
	m.log.Warn().Err(err).Int("retries", m.retries).Msg("Call failed")
	if m.retries < m.conf.NegotiationRetries {
		m.retries++
		m.restart()
		return
	}
	m.disarm()
	m.dropPeer()
	m.setStatus(Failed, err)
}

func (m *Manager) restart() {
	m.dropPeer()
	m.setStatus(Idle, nil)
	if m.offerer {
		m.offer()
		return
	}
	// ask the offerer for a new offer
	m.send(api.Presence, api.PresencePayload{State: api.Join})
	m.gen++
	m.arm()
}

func (m *Manager) dropPeer() {
	if m.pc == nil {
		return
	}
	m.closing = append(m.closing, m.pc)
	m.pc = nil
	m.audio, m.video = nil, nil
	m.remote = nil
	m.remoteSet = false
	m.pendingIce = nil
}

// ToggleAudio mutes or unmutes the microphone without a new handshake.
func (m *Manager) ToggleAudio() (on bool, err error) {
	m.do(func() {
		if m.local == nil {
			err = ErrNotStarted
			return
		}
		on = !m.local.AudioEnabled()
		err = swap(m.audio, m.local.Audio, on)
		if err == nil {
			m.local.setAudio(on)
		}
	})
	return
}

// ToggleVideo turns the camera on or off without a new handshake.
func (m *Manager) ToggleVideo() (on bool, err error) {
	m.do(func() {
		if m.local == nil {
			err = ErrNotStarted
			return
		}
		on = !m.local.VideoEnabled()
		err = swap(m.video, m.local.Video, on)
		if err == nil {
			m.local.setVideo(on)
		}
	})
	return
}

func swap(sender *webrtc.RTPSender, track webrtc.TrackLocal, on bool) error {
	if sender == nil {
		return nil
	}
	if on {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

// Leave stops the local media and closes the call. Safe to call many times.
func (m *Manager) Leave() {
	m.do(func() {
		if m.left {
			return
		}
		m.left = true
		m.disarm()
		m.dropPeer()
		if m.local != nil {
			m.local.Stop()
		}
		m.setStatus(Idle, ErrLeft)
	})
}

func (m *Manager) Status() (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.err
}

func (m *Manager) LocalStream() *LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// RemoteTracks returns the tracks of the other participant.
// They belong to the current peer connection and end with it.
func (m *Manager) RemoteTracks() []*webrtc.TrackRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), m.remote...)
}

func (m *Manager) Offerer() bool { return m.offerer }
