// Package signal implements the per-session message channel between the
// two participants of a classroom. It carries the media handshake, the
// whiteboard changes and presence through the relay and keeps itself
// connected with exponential backoff.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/network"
)

var (
	// ErrReconnecting means the message was not sent because the transport
	// is down. Stateful messages are kept and sent after the reconnect.
	ErrReconnecting = errors.New("transport disconnected, reconnecting")
	// ErrDisconnected means the channel is closed or gave up.
	ErrDisconnected = errors.New("transport disconnected")
)

// flushOrder lists the message types kept while offline, in the order they
// are sent after a reconnect. A clear goes before the changes made after it.
var flushOrder = []api.Type{api.Presence, api.DocClear, api.DocChange}

func keepWhileOffline(t api.Type) bool {
	for _, k := range flushOrder {
		if k == t {
			return true
		}
	}
	return false
}

type Channel struct {
	session     string
	participant string

	conf    config.Signal
	dialer  Dialer
	backoff *network.Backoff

	mu      sync.Mutex
	state   State
	conn    Conn
	pending map[api.Type]api.Envelope

	hmu       sync.RWMutex
	onMessage func(api.Envelope)
	onStatus  []func(State)
	// smu keeps status callbacks in transition order
	smu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	log *logger.Logger
}

type Option func(*Channel)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option { return func(c *Channel) { c.dialer = d } }

// WithStatus registers a status callback before the first dial.
func WithStatus(fn func(State)) Option { return func(c *Channel) { c.onStatus = append(c.onStatus, fn) } }

// WithHandler registers the message handler before the first dial.
func WithHandler(fn func(api.Envelope)) Option { return func(c *Channel) { c.onMessage = fn } }

func New(conf config.Signal, session, participant string, log *logger.Logger, opts ...Option) *Channel {
	if log == nil {
		log = logger.Default()
	}
	log = log.Module("signal")
	c := &Channel{
		session:     session,
		participant: participant,
		conf:        conf,
		backoff:     network.NewBackoff(conf.InitialDelay, conf.MaxDelay, conf.Jitter),
		pending:     map[api.Type]api.Envelope{},
		done:        make(chan struct{}),
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWsDialer(conf.Address, conf.Token, log)
	}
	return c
}

// Dial creates a channel and opens its first connection.
func Dial(ctx context.Context, conf config.Signal, session, participant string, log *logger.Logger, opts ...Option) (*Channel, error) {
	c := New(conf, session, participant, log, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect opens the connection. A failed first attempt leaves the channel
// in the failed state and is reported as ErrDisconnected.
func (c *Channel) Connect(ctx context.Context) error {
	if !c.transition(evDial) {
		return fmt.Errorf("connect in %v state", c.State())
	}
	conn, err := c.dial(ctx)
	if err != nil {
		c.transition(evLost)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	c.opened(conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (Conn, error) {
	if c.conf.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.DialTimeout)
		defer cancel()
	}
	return c.dialer.Dial(ctx, c.session, c.participant, c.receive)
}

func (c *Channel) opened(conn Conn) {
	c.mu.Lock()
	if c.isDone() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	state, ok := next(c.state, evOpened)
	if ok {
		c.state = state
	}
	pending := c.pending
	c.pending = map[api.Type]api.Envelope{}
	for _, t := range flushOrder {
		env, ok := pending[t]
		if !ok {
			continue
		}
		if err := c.write(env); err != nil {
			c.log.Warn().Err(err).Str("type", t.String()).Msg("flush")
			c.pending[t] = env
		}
	}
	c.mu.Unlock()

	c.backoff.Success()
	c.log.Info().Msg("Connected")
	if ok {
		c.status(state)
	}

	c.wg.Add(1)
	go c.watch(conn)
}

// watch waits for the connection to drop and reconnects.
func (c *Channel) watch(conn Conn) {
	defer c.wg.Done()
	select {
	case <-c.done:
		return
	case <-conn.Done():
	}
	if c.isDone() || !c.transition(evLost) {
		return
	}
	c.log.Warn().Msg("Connection lost, reconnecting")
	c.reconnect()
}

func (c *Channel) reconnect() {
	for {
		if !c.backoff.Wait(c.done) {
			return
		}
		attempt := c.backoff.Attempts()
		c.log.Debug().Int("attempt", attempt).Msg("Reconnect")
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.opened(conn)
			return
		}
		if c.isDone() {
			return
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect failed")
		if c.conf.MaxAttempts > 0 && attempt >= c.conf.MaxAttempts {
			c.transition(evGiveUp)
			c.log.Error().Int("attempts", attempt).Msg("Gave up reconnecting")
			return
		}
		c.transition(evLost)
	}
}

// transition moves the channel to the next state and notifies the listeners.
func (c *Channel) transition(e event) bool {
	c.mu.Lock()
	prev := c.state
	state, ok := next(prev, e)
	if ok {
		c.state = state
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Str("state", prev.String()).Str("event", e.String()).Msg("Ignored transition")
		return false
	}
	if state != prev {
		c.status(state)
	}
	return true
}

func (c *Channel) status(s State) {
	c.smu.Lock()
	defer c.smu.Unlock()
	c.hmu.RLock()
	fns := append([]func(State){}, c.onStatus...)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *Channel) receive(data []byte) {
	env, err := api.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("Bad message")
		return
	}
	if env.SessionId != c.session {
		c.log.Warn().Str("session", env.SessionId).Msg("Message of a foreign session")
		return
	}
	if env.SenderId == c.participant {
		return
	}
	c.log.Debug().Str(logger.DirectionField, logger.MarkIn).Str("type", env.Type.String()).Msg("recv")
	c.hmu.RLock()
	fn := c.onMessage
	c.hmu.RUnlock()
	if fn != nil {
		fn(env)
	}
}

// Send delivers a message to the other participant.
// While reconnecting only the latest presence, clear and change messages
// are kept and ErrReconnecting is returned.
func (c *Channel) Send(t api.Type, payload any) error {
	env, err := api.Wrap(t, c.session, c.participant, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Connected:
		if err := c.write(env); err == nil {
			c.log.Debug().Str(logger.DirectionField, logger.MarkOut).Str("type", t.String()).Msg("send")
			return nil
		}
	case Connecting, Reconnecting:
	default:
		return ErrDisconnected
	}
	c.keep(env)
	return ErrReconnecting
}

func (c *Channel) keep(env api.Envelope) {
	if !keepWhileOffline(env.Type) {
		return
	}
	if env.Type == api.DocClear {
		delete(c.pending, api.DocChange)
	}
	c.pending[env.Type] = env
}

func (c *Channel) write(env api.Envelope) error {
	if c.conn == nil {
		return ErrReconnecting
	}
	b, err := env.Encode()
	if err != nil {
		return err
	}
	return c.conn.Write(b)
}

// OnMessage sets the handler of incoming messages.
func (c *Channel) OnMessage(fn func(api.Envelope)) {
	c.hmu.Lock()
	c.onMessage = fn
	c.hmu.Unlock()
}

// OnStatus adds a status listener.
// Listeners run on the channel goroutines and must not call Disconnect.
func (c *Channel) OnStatus(fn func(State)) {
	c.hmu.Lock()
	c.onStatus = append(c.onStatus, fn)
	c.hmu.Unlock()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Session() string     { return c.session }
func (c *Channel) Participant() string { return c.participant }

// Pending reports whether a message of the type waits for a reconnect.
func (c *Channel) Pending(t api.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[t]
	return ok
}

// Disconnect closes the channel for good. Safe to call many times.
func (c *Channel) Disconnect() {
	first := false
	c.doneOnce.Do(func() {
		first = true
		close(c.done)
	})
	if !first {
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.pending = map[api.Type]api.Envelope{}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.transition(evClose)
	c.waitWatchers(5 * time.Second)
	c.log.Info().Msg("Disconnected")
}

func (c *Channel) waitWatchers(d time.Duration) {
	ch := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(d):
		c.log.Warn().Msg("Reconnect loop did not stop in time")
	}
}

func (c *Channel) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
