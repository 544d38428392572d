package collab

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/signal"
	"github.com/giongto35/cloud-classroom/pkg/whiteboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// link is one direction of an in-memory channel. Messages wait in the
// queue until delivered, offline messages are kept like the real
// channel does.
type link struct {
	mu      sync.Mutex
	from    string
	offline bool
	queue   []api.Envelope
	pending map[api.Type]api.Envelope
	sent    map[api.Type]int
	target  *Propagator
}

func newLink(from string) *link {
	return &link{from: from, pending: map[api.Type]api.Envelope{}, sent: map[api.Type]int{}}
}

func (l *link) Send(t api.Type, payload any) error {
	env, err := api.Wrap(t, "s1", l.from, payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offline {
		if t == api.DocClear {
			delete(l.pending, api.DocChange)
		}
		l.pending[t] = env
		return signal.ErrReconnecting
	}
	l.sent[t]++
	l.queue = append(l.queue, env)
	return nil
}

func (l *link) Pending(t api.Type) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.pending[t]
	return ok
}

func (l *link) disconnect() {
	l.mu.Lock()
	l.offline = true
	l.mu.Unlock()
}

func (l *link) reconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = false
	for _, t := range []api.Type{api.DocClear, api.DocChange} {
		if env, ok := l.pending[t]; ok {
			l.sent[t]++
			l.queue = append(l.queue, env)
		}
	}
	l.pending = map[api.Type]api.Envelope{}
}

func (l *link) count(t api.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent[t]
}

// deliver applies all queued messages on the other side and returns them.
func (l *link) deliver(t *testing.T) []api.Envelope {
	t.Helper()
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, env := range q {
		require.NoError(t, l.target.Apply(env))
	}
	return q
}

type peer struct {
	doc  *whiteboard.Store
	prop *Propagator
	out  *link
}

func pair(t *testing.T) (*peer, *peer) {
	a, b := newPeer(t, "tutor"), newPeer(t, "student")
	a.out.target, b.out.target = b.prop, a.prop
	return a, b
}

func newPeer(t *testing.T, name string) *peer {
	doc := whiteboard.NewStore(logger.Nop())
	out := newLink(name)
	p := New(doc, out, time.Second, logger.Nop())
	p.MarkReady()
	t.Cleanup(p.Close)
	return &peer{doc: doc, prop: p, out: out}
}

func rect(id string, x float64) whiteboard.Record {
	return whiteboard.NewRecord(id, whiteboard.RectShape{Box: whiteboard.Box{At: whiteboard.Point{X: x, Y: 1}, W: 10, H: 10}})
}

func assertSame(t *testing.T, a, b *peer) {
	t.Helper()
	ra, rb := a.doc.Records(), b.doc.Records()
	require.Equal(t, len(ra), len(rb))
	for i := range ra {
		assert.True(t, ra[i].Equal(rb[i]), "record %v differs", ra[i].Id)
	}
}

func TestConvergence(t *testing.T) {
	a, b := pair(t)

	require.NoError(t, a.doc.Put(rect("shape:1", 1), rect("shape:2", 2), rect("shape:3", 3)))
	a.out.deliver(t)
	require.NoError(t, b.doc.Put(rect("shape:2", 20)))
	b.doc.Remove("shape:3")
	require.NoError(t, b.doc.Put(rect("shape:4", 4)))
	b.out.deliver(t)

	assertSame(t, a, b)
	assert.Equal(t, 3, a.doc.Len())
	r, err := a.doc.Get("shape:2")
	require.NoError(t, err)
	assert.True(t, r.Equal(rect("shape:2", 20)))
}

func TestConcurrentRemoveAndUpdate(t *testing.T) {
	tests := []struct {
		name          string
		removerFirst  bool
		removerIsPeer bool
	}{
		{name: "remove delivered first", removerFirst: true},
		{name: "update delivered first"},
		{name: "peer removes", removerFirst: true, removerIsPeer: true},
		{name: "peer removes, update delivered first", removerIsPeer: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := pair(t)
			require.NoError(t, a.doc.Put(rect("shape:9", 1), rect("shape:1", 1)))
			a.out.deliver(t)

			remover, editor := a, b
			if tt.removerIsPeer {
				remover, editor = b, a
			}
			remover.doc.Remove("shape:9")
			require.NoError(t, editor.doc.Put(rect("shape:9", 5)))
			if tt.removerFirst {
				remover.out.deliver(t)
				editor.out.deliver(t)
			} else {
				editor.out.deliver(t)
				remover.out.deliver(t)
			}

			assertSame(t, a, b)
			assert.False(t, a.doc.Has("shape:9"))
			assert.True(t, a.doc.Has("shape:1"))
		})
	}
}

func TestDuplicateDeliveryAfterRemove(t *testing.T) {
	a, b := pair(t)
	require.NoError(t, a.doc.Put(rect("shape:1", 1)))
	first := a.out.deliver(t)
	a.doc.Remove("shape:1")
	a.out.deliver(t)

	for _, env := range first {
		require.NoError(t, b.prop.Apply(env))
	}

	assertSame(t, a, b)
	assert.Equal(t, 0, b.doc.Len())
}

func TestRemoteChangesAreNotSentBack(t *testing.T) {
	a, b := pair(t)

	require.NoError(t, a.doc.Put(rect("shape:1", 1)))
	a.out.deliver(t)
	b.out.deliver(t)
	a.doc.Clear()
	a.out.deliver(t)

	assert.Equal(t, 1, a.out.count(api.DocChange))
	assert.Equal(t, 1, a.out.count(api.DocClear))
	assert.Equal(t, 0, b.out.count(api.DocChange))
	assert.Equal(t, 0, b.out.count(api.DocClear))
}

func TestLoadedRecordsAreNotSent(t *testing.T) {
	a, _ := pair(t)
	require.NoError(t, a.doc.LoadRecords([]whiteboard.Record{rect("shape:1", 1)}))
	assert.Equal(t, 0, a.out.count(api.DocChange))
}

func TestClear(t *testing.T) {
	for _, n := range []int{1, 10000} {
		t.Run(fmt.Sprintf("%v records", n), func(t *testing.T) {
			a, b := pair(t)
			records := make([]whiteboard.Record, n)
			for i := range records {
				records[i] = rect(fmt.Sprintf("shape:%05d", i), float64(i))
			}
			require.NoError(t, a.doc.Put(records...))
			a.out.deliver(t)
			require.Equal(t, n, b.doc.Len())

			b.doc.Clear()
			msgs := b.out.deliver(t)

			require.Len(t, msgs, 1)
			assert.Equal(t, api.DocClear, msgs[0].Type)
			assert.Empty(t, msgs[0].Payload)
			assert.Equal(t, 0, a.doc.Len())
			assert.Equal(t, 0, b.doc.Len())
		})
	}
}

// A record is created, edited offline and a second one added. After the
// reconnect the peer gets one squashed change and ends with each record
// exactly once.
func TestOfflineEditsAreSentOnce(t *testing.T) {
	a, b := pair(t)
	require.NoError(t, a.doc.Put(rect("shape:1", 1)))
	a.out.deliver(t)

	a.out.disconnect()
	require.NoError(t, a.doc.Put(rect("shape:1", 2)))
	require.NoError(t, a.doc.Put(rect("shape:1", 3)))
	require.NoError(t, a.doc.Put(rect("shape:2", 1)))
	assert.True(t, a.out.Pending(api.DocChange))

	a.out.reconnect()
	msgs := a.out.deliver(t)
	require.Len(t, msgs, 1)
	change := api.Unwrap[whiteboard.Change](msgs[0].Payload)
	require.NotNil(t, change)
	assert.Len(t, change.Added, 1)
	assert.Len(t, change.Updated, 1)
	assert.True(t, change.Updated["shape:1"].From.Equal(rect("shape:1", 1)))
	assert.True(t, change.Updated["shape:1"].To.Equal(rect("shape:1", 3)))

	assertSame(t, a, b)
	assert.Equal(t, 2, b.doc.Len())

	// nothing of the offline batch is sent again
	require.NoError(t, a.doc.Put(rect("shape:3", 1)))
	msgs = a.out.deliver(t)
	require.Len(t, msgs, 1)
	change = api.Unwrap[whiteboard.Change](msgs[0].Payload)
	require.NotNil(t, change)
	assert.Equal(t, 1, change.Size())
	assert.Equal(t, 3, a.out.count(api.DocChange))
}

func TestOfflineClearDropsEarlierEdits(t *testing.T) {
	a, b := pair(t)
	require.NoError(t, a.doc.Put(rect("shape:1", 1)))
	a.out.deliver(t)

	a.out.disconnect()
	require.NoError(t, a.doc.Put(rect("shape:2", 1)))
	a.doc.Clear()
	require.NoError(t, a.doc.Put(rect("shape:3", 1)))
	a.out.reconnect()

	msgs := a.out.deliver(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, api.DocClear, msgs[0].Type)
	assert.Equal(t, api.DocChange, msgs[1].Type)
	change := api.Unwrap[whiteboard.Change](msgs[1].Payload)
	require.NotNil(t, change)
	assert.Equal(t, 1, change.Size())
	assert.Contains(t, change.Added, "shape:3")
	assertSame(t, a, b)
}

// Both sides edit the same record at the same time. Each one keeps the
// update it received last, which is the peer's one.
func TestConcurrentUpdatesOfSameRecord(t *testing.T) {
	a, b := pair(t)
	require.NoError(t, a.doc.Put(rect("shape:1", 0)))
	a.out.deliver(t)

	require.NoError(t, a.doc.Put(rect("shape:1", 1)))
	require.NoError(t, b.doc.Put(rect("shape:1", 2)))
	a.out.deliver(t)
	b.out.deliver(t)

	ra, err := a.doc.Get("shape:1")
	require.NoError(t, err)
	rb, err := b.doc.Get("shape:1")
	require.NoError(t, err)
	assert.True(t, ra.Equal(rect("shape:1", 2)))
	assert.True(t, rb.Equal(rect("shape:1", 1)))
	assert.Equal(t, 1, a.doc.Len())
	assert.Equal(t, 1, b.doc.Len())
}

func TestRemoteChangesWaitForSnapshot(t *testing.T) {
	doc := whiteboard.NewStore(logger.Nop())
	p := New(doc, newLink("student"), time.Minute, logger.Nop())
	defer p.Close()

	env, err := api.Wrap(api.DocChange, "s1", "tutor", whiteboard.Change{
		Added: map[string]whiteboard.Record{"shape:1": rect("shape:1", 1)},
	})
	require.NoError(t, err)
	p.Handle(env)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, doc.Len())
	assert.False(t, p.Ready())

	p.MarkReady()
	assert.Eventually(t, func() bool { return doc.Has("shape:1") }, 5*time.Second, 5*time.Millisecond)
}

func TestSnapshotWaitElapses(t *testing.T) {
	doc := whiteboard.NewStore(logger.Nop())
	p := New(doc, newLink("student"), 10*time.Millisecond, logger.Nop())
	defer p.Close()

	env, err := api.Wrap(api.DocChange, "s1", "tutor", whiteboard.Change{
		Added: map[string]whiteboard.Record{"shape:1": rect("shape:1", 1)},
	})
	require.NoError(t, err)
	require.NoError(t, p.Apply(env))
	assert.True(t, doc.Has("shape:1"))
	assert.True(t, p.Ready())
}

func TestBadRemoteMessages(t *testing.T) {
	a, _ := pair(t)
	require.NoError(t, a.doc.Put(rect("shape:1", 1)))

	tests := []struct {
		name    string
		env     api.Envelope
		desync  bool
		unknown bool
	}{
		{name: "not json", env: api.Envelope{Type: api.DocChange, Payload: []byte(`{"added":`)}, desync: true},
		{name: "no payload", env: api.Envelope{Type: api.DocChange}, desync: true},
		{name: "bad record", env: api.Envelope{Type: api.DocChange,
			Payload: []byte(`{"added":{"shape:2":{"id":"shape:2","type":"rect","props":{"w":-1}}}}`)}, desync: true},
		{name: "overlap", env: api.Envelope{Type: api.DocChange,
			Payload: []byte(`{"added":{"shape:2":{"id":"shape:2","type":"rect","props":{"w":1,"h":1}}},"removed":["shape:2"]}`)}, desync: true},
		{name: "not a doc message", env: api.Envelope{Type: api.Offer}, unknown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.prop.Apply(tt.env)
			require.Error(t, err)
			if tt.desync {
				assert.ErrorIs(t, err, ErrProtocolDesync)
			}
			if tt.unknown {
				assert.ErrorIs(t, err, api.ErrUnknownType)
			}
			assert.Equal(t, 1, a.doc.Len())
		})
	}
}

func TestHandleAppliesInOrder(t *testing.T) {
	doc := whiteboard.NewStore(logger.Nop())
	p := New(doc, newLink("student"), time.Second, logger.Nop())
	p.MarkReady()
	defer p.Close()

	for i := 0; i < 10; i++ {
		env, err := api.Wrap(api.DocChange, "s1", "tutor", whiteboard.Change{
			Added: map[string]whiteboard.Record{"shape:1": rect("shape:1", float64(i))},
		})
		require.NoError(t, err)
		p.Handle(env)
	}
	p.Handle(api.Envelope{Type: api.DocClear, SessionId: "s1", SenderId: "tutor"})

	assert.Eventually(t, func() bool { return doc.Len() == 0 && !doc.Has("shape:1") }, 5*time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	doc := whiteboard.NewStore(logger.Nop())
	out := newLink("tutor")
	p := New(doc, out, time.Second, logger.Nop())
	p.Close()
	p.Close()

	require.NoError(t, doc.Put(rect("shape:1", 1)))
	assert.Equal(t, 0, out.count(api.DocChange))
	p.Handle(api.Envelope{Type: api.DocClear})
}
