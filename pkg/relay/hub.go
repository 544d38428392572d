package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/com"
	"github.com/giongto35/cloud-classroom/pkg/logger"
)

var ErrSessionFull = errors.New("session already has two participants")

const (
	maxPeers        = 2
	presenceTimeout = 3 * time.Second
)

// Socket is a participant connection.
type Socket interface {
	Write(data []byte) error
	Close()
}

type peer struct {
	id          string
	session     string
	participant string
	sock        Socket
}

type room struct {
	mu     sync.Mutex
	peers  map[string]*peer
	closed bool
}

// Hub relays the messages of the two participants of each session.
// A participant has at most one connection, a new one replaces the old.
type Hub struct {
	rooms    *com.Map[string, *room]
	presence Presence
	metrics  *metrics
	log      *logger.Logger
}

func NewHub(presence Presence, m *metrics, log *logger.Logger) *Hub {
	if m == nil {
		m = newMetrics(nil)
	}
	return &Hub{rooms: com.NewMap[string, *room](), presence: presence, metrics: m, log: log}
}

// Admits reports whether the participant may connect to the session now.
func (h *Hub) Admits(session, participant string) bool {
	r, err := h.rooms.Find(session)
	if err != nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[participant]
	return ok || len(r.peers) < maxPeers
}

func (h *Hub) Join(p *peer) error {
	var old *peer
	for {
		r := h.rooms.GetOrPut(p.session, func() *room {
			h.metrics.sessions.Inc()
			return &room{peers: make(map[string]*peer, maxPeers)}
		})
		r.mu.Lock()
		if r.closed {
			// emptied in between, the next call makes a new one
			r.mu.Unlock()
			continue
		}
		prev, replace := r.peers[p.participant]
		if !replace && len(r.peers) >= maxPeers {
			r.mu.Unlock()
			return ErrSessionFull
		}
		r.peers[p.participant] = p
		r.mu.Unlock()
		if replace {
			old = prev
		}
		break
	}
	h.metrics.connections.Inc()

	log := h.log.Session(p.session)
	if old != nil {
		log.Info().Str("pid", p.participant).Str("cid", old.id).Msg("Connection replaced")
		old.sock.Close()
	}
	log.Info().Str("pid", p.participant).Str("cid", p.id).Msg("Participant connected")
	h.track(p, true)
	return nil
}

// Forward stamps the message with the sender and passes it to the
// other participant.
func (h *Hub) Forward(p *peer, data []byte) {
	env, err := api.Decode(data)
	if err != nil {
		h.metrics.dropped.WithLabelValues("malformed").Inc()
		h.log.Warn().Err(err).Str("pid", p.participant).Msg("Bad message")
		return
	}
	env.SessionId, env.SenderId = p.session, p.participant
	out, err := env.Encode()
	if err != nil {
		h.metrics.dropped.WithLabelValues("malformed").Inc()
		return
	}
	if !h.send(p, out) {
		h.metrics.dropped.WithLabelValues("alone").Inc()
		h.log.Debug().Str("type", env.Type.String()).Msg("No one to relay to")
		return
	}
	h.metrics.messages.WithLabelValues(env.Type.String()).Inc()
}

// send writes to everyone in the room of the sender but the sender.
// Messages of a replaced connection are dropped.
func (h *Hub) send(from *peer, data []byte) bool {
	r, err := h.rooms.Find(from.session)
	if err != nil {
		return false
	}
	r.mu.Lock()
	if r.peers[from.participant] != from {
		r.mu.Unlock()
		return false
	}
	var to []*peer
	for _, p := range r.peers {
		if p != from {
			to = append(to, p)
		}
	}
	r.mu.Unlock()

	sent := false
	for _, p := range to {
		if err := p.sock.Write(data); err != nil {
			h.log.Debug().Err(err).Str("cid", p.id).Msg("Relay write")
			continue
		}
		sent = true
	}
	return sent
}

// Leave removes the connection and tells the other participant.
func (h *Hub) Leave(p *peer) {
	defer h.metrics.connections.Dec()

	r, err := h.rooms.Find(p.session)
	if err != nil {
		return
	}
	r.mu.Lock()
	if r.peers[p.participant] != p {
		r.mu.Unlock()
		return
	}
	delete(r.peers, p.participant)
	empty := len(r.peers) == 0
	if empty {
		r.closed = true
	}
	r.mu.Unlock()

	if empty && h.rooms.RemoveIf(p.session, func(v *room) bool { return v == r }) {
		h.metrics.sessions.Dec()
	}
	h.log.Session(p.session).Info().Str("pid", p.participant).Str("cid", p.id).Msg("Participant left")

	if env, err := api.Wrap(api.Presence, p.session, p.participant, api.PresencePayload{State: api.Leave}); err == nil {
		if data, err := env.Encode(); err == nil {
			h.send(p, data)
		}
	}
	h.track(p, false)
}

func (h *Hub) track(p *peer, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	var err error
	if online {
		err = h.presence.Join(ctx, p.session, p.participant)
	} else {
		err = h.presence.Leave(ctx, p.session, p.participant)
	}
	if err != nil {
		h.log.Warn().Err(err).Str("pid", p.participant).Msg("Presence")
	}
}

// Online lists the participants connected to this relay.
func (h *Hub) Online(session string) []string {
	r, err := h.rooms.Find(session)
	if err != nil {
		return []string{}
	}
	r.mu.Lock()
	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Close drops every connection.
func (h *Hub) Close() {
	var socks []Socket
	for _, r := range h.rooms.Values() {
		r.mu.Lock()
		for _, p := range r.peers {
			socks = append(socks, p.sock)
		}
		r.mu.Unlock()
	}
	for _, s := range socks {
		s.Close()
	}
}
