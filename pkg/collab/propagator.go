// Package collab keeps the whiteboards of both participants in sync.
//
// Local mutations of the document are sent to the peer as doc-change
// messages, remote ones are applied with the Remote origin and are never
// sent back. Messages are applied in the order they are received, so two
// concurrent writes of the same record end up with the one received last.
package collab

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/lock"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/signal"
	"github.com/giongto35/cloud-classroom/pkg/whiteboard"
)

// ErrProtocolDesync marks a remote message that can't be applied to the
// local document.
var ErrProtocolDesync = errors.New("protocol desync")

const inboxSize = 256

// Sender is the part of the signal channel the propagator needs.
type Sender interface {
	Send(t api.Type, payload any) error
	Pending(t api.Type) bool
}

type Propagator struct {
	store *whiteboard.Store
	sig   Sender
	gate  *lock.Gate
	wait  time.Duration

	mu sync.Mutex
	// unsent is the squash of the local changes the channel holds
	// while offline
	unsent *whiteboard.Change

	in       chan api.Envelope
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	cancel   func()

	log *logger.Logger
}

// New wires the store to the channel. Remote messages passed to Handle
// are applied only after MarkReady or once wait has elapsed.
func New(store *whiteboard.Store, sig Sender, wait time.Duration, log *logger.Logger) *Propagator {
	if log == nil {
		log = logger.Default()
	}
	p := &Propagator{
		store:   store,
		sig:     sig,
		gate:    lock.NewGate(),
		wait:    wait,
		in:      make(chan api.Envelope, inboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log.Module("collab"),
	}
	p.cancel = store.Listen(p.observe)
	go p.loop()
	return p
}

// MarkReady opens the snapshot gate.
func (p *Propagator) MarkReady() { p.gate.Open() }

// Ready reports whether remote changes are applied without waiting.
func (p *Propagator) Ready() bool { return p.gate.IsOpen() }

func (p *Propagator) observe(e whiteboard.Event) {
	if e.Origin != whiteboard.Local {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Cleared {
		p.unsent = nil
		if err := p.sig.Send(api.DocClear, nil); err != nil && !errors.Is(err, signal.ErrReconnecting) {
			p.log.Error().Err(err).Msg("Clear was not sent")
		}
		return
	}

	change := e.Change
	if p.unsent != nil {
		if p.sig.Pending(api.DocChange) {
			change = p.unsent.Squash(change)
		}
		p.unsent = nil
	}
	err := p.sig.Send(api.DocChange, change)
	switch {
	case err == nil:
	case errors.Is(err, signal.ErrReconnecting):
		p.unsent = &change
		p.log.Debug().Int("records", change.Size()).Msg("Change is kept until reconnect")
	default:
		p.log.Error().Err(err).Int("records", change.Size()).Msg("Change was not sent")
	}
}

// Handle queues a remote doc message. Messages are applied one by one in
// the order they were queued.
func (p *Propagator) Handle(env api.Envelope) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.in <- env:
	case <-p.done:
	}
}

func (p *Propagator) loop() {
	defer close(p.stopped)
	for {
		select {
		case <-p.done:
			return
		case env := <-p.in:
			if err := p.Apply(env); err != nil {
				p.log.Warn().Err(err).Str("type", env.Type.String()).Msg("Dropped remote message")
			}
		}
	}
}

// Apply applies a remote doc message right away, waiting for the
// snapshot gate first.
func (p *Propagator) Apply(env api.Envelope) error {
	if !env.Type.Valid() || (env.Type != api.DocChange && env.Type != api.DocClear) {
		return fmt.Errorf("%w: %v", api.ErrUnknownType, env.Type)
	}
	p.awaitSnapshot()

	if env.Type == api.DocClear {
		p.store.ClearWith(whiteboard.Remote)
		p.log.Debug().Str(logger.DirectionField, logger.MarkIn).Msg("Board cleared by peer")
		return nil
	}

	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: change without payload", ErrProtocolDesync)
	}
	change, err := api.UnwrapChecked[whiteboard.Change](env.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolDesync, err)
	}
	desync, err := p.store.Apply(*change, whiteboard.Remote)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolDesync, err)
	}
	if len(desync) > 0 {
		p.log.Warn().Err(ErrProtocolDesync).Strs("ids", desync).Msg("Peer updated records we never had")
	}
	return nil
}

func (p *Propagator) awaitSnapshot() {
	if p.gate.IsOpen() {
		return
	}
	t := time.NewTimer(p.wait)
	defer t.Stop()
	select {
	case <-p.gate.Done():
	case <-p.done:
	case <-t.C:
		p.log.Warn().Dur("wait", p.wait).Msg("No snapshot in time, applying remote changes anyway")
		p.gate.Open()
	}
}

// Close stops listening to the store and drops queued messages.
func (p *Propagator) Close() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.done)
		<-p.stopped
	})
}
