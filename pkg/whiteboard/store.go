package whiteboard

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/giongto35/cloud-classroom/pkg/logger"
)

// Origin tells listeners where a mutation came from.
type Origin uint8

const (
	Local Origin = iota
	Remote
	Load
)

func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Load:
		return "load"
	default:
		return "unknown"
	}
}

// Event is what listeners receive after every mutation.
// Cleared is set when the whole document was wiped, Change then lists
// the removed ids.
type Event struct {
	Change  Change
	Origin  Origin
	Cleared bool
}

type Listener func(Event)

var (
	ErrIdReused = errors.New("record id was used before")
	ErrNotFound = errors.New("record not found")
)

// Store is the in-memory drawing document.
// All mutations of one batch happen under one lock, listeners are called
// after the lock is released in mutation order.
type Store struct {
	mu      sync.Mutex
	records map[string]Record
	gone    map[string]struct{}

	lmu       sync.RWMutex
	listeners map[int]Listener
	lid       int

	// notify serializes listener calls so they observe mutation order
	notify sync.Mutex

	log *logger.Logger
}

func NewStore(log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{
		records:   map[string]Record{},
		gone:      map[string]struct{}{},
		listeners: map[int]Listener{},
		log:       log.Module("doc"),
	}
}

// Listen subscribes to all document mutations.
// Listeners must not mutate the store from inside the callback.
func (s *Store) Listen(fn Listener) (cancel func()) {
	s.lmu.Lock()
	id := s.lid
	s.lid++
	s.listeners[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) emit(e Event) {
	if !e.Cleared && e.Change.Empty() {
		return
	}
	s.lmu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.lmu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Put adds or updates records made by the local participant.
func (s *Store) Put(records ...Record) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	for _, r := range records {
		if _, ok := s.gone[r.Id]; ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrIdReused, r.Id)
		}
	}
	ch := NewChange()
	for _, r := range records {
		r = r.Clone()
		prev, known := s.records[r.Id]
		s.records[r.Id] = r
		if !known {
			ch.Added[r.Id] = r
			continue
		}
		if prev.Equal(r) {
			continue
		}
		if _, ok := ch.Added[r.Id]; ok {
			ch.Added[r.Id] = r
			continue
		}
		if u, ok := ch.Updated[r.Id]; ok {
			prev = u.From
		}
		ch.Updated[r.Id] = Update{From: prev, To: r}
	}
	s.mu.Unlock()

	s.emit(Event{Change: ch, Origin: Local})
	return nil
}

// Remove deletes records, unknown ids are ignored.
func (s *Store) Remove(ids ...string) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	ch := NewChange()
	for _, id := range ids {
		if _, ok := s.records[id]; !ok {
			continue
		}
		delete(s.records, id)
		s.gone[id] = struct{}{}
		ch.Removed = append(ch.Removed, id)
	}
	s.mu.Unlock()

	s.emit(Event{Change: ch, Origin: Local})
}

// Apply applies a whole batch atomically.
// Adds of known ids and updates of unknown ids are both upserts, so
// duplicated or reordered deliveries never duplicate a record. Removed ids
// stay removed: later adds and updates of them are dropped, so a remove
// wins over a concurrent edit on both sides.
// Conflicting writes to the same record resolve to the last one applied.
func (s *Store) Apply(c Change, origin Origin) (desync []string, err error) {
	if err = c.Validate(); err != nil {
		return nil, err
	}

	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	applied := NewChange()
	for id, r := range c.Added {
		if _, ok := s.gone[id]; ok {
			continue
		}
		r = r.Clone()
		if prev, ok := s.records[id]; ok {
			if !prev.Equal(r) {
				applied.Updated[id] = Update{From: prev, To: r}
			}
		} else {
			applied.Added[id] = r
		}
		s.records[id] = r
	}
	for id, u := range c.Updated {
		if _, ok := s.gone[id]; ok {
			continue
		}
		u.To = u.To.Clone()
		prev, ok := s.records[id]
		switch {
		case !ok:
			desync = append(desync, id)
			applied.Added[id] = u.To
		case !prev.Equal(u.From) && !prev.Equal(u.To):
			s.log.Debug().Str("id", id).Str("origin", origin.String()).
				Msg("Overwriting a record that changed here since the sender saw it")
			applied.Updated[id] = Update{From: prev, To: u.To}
		case !prev.Equal(u.To):
			applied.Updated[id] = Update{From: prev, To: u.To}
		}
		s.records[id] = u.To
	}
	for _, id := range c.Removed {
		_, ok := s.records[id]
		s.gone[id] = struct{}{}
		if !ok {
			continue
		}
		delete(s.records, id)
		applied.Removed = append(applied.Removed, id)
	}
	s.mu.Unlock()

	if len(desync) > 0 {
		sort.Strings(desync)
		s.log.Warn().Strs("ids", desync).Str("origin", origin.String()).
			Msg("Update of unknown records, inserted instead")
	}

	s.emit(Event{Change: applied, Origin: origin})
	return desync, nil
}

// Clear wipes the local document.
func (s *Store) Clear() { s.ClearWith(Local) }

// ClearWith removes all records with the given origin.
func (s *Store) ClearWith(origin Origin) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	ch := NewChange()
	ch.Removed = make([]string, 0, len(s.records))
	for id := range s.records {
		ch.Removed = append(ch.Removed, id)
		s.gone[id] = struct{}{}
	}
	s.records = map[string]Record{}
	s.mu.Unlock()

	sort.Strings(ch.Removed)
	s.emit(Event{Change: ch, Origin: origin, Cleared: true})
}

// LoadRecords merges persisted records into the document.
// Records present already win over the loaded ones.
func (s *Store) LoadRecords(records []Record) error {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	ch := NewChange()
	for _, r := range records {
		if _, ok := s.records[r.Id]; ok {
			continue
		}
		if _, ok := s.gone[r.Id]; ok {
			continue
		}
		r = r.Clone()
		s.records[r.Id] = r
		ch.Added[r.Id] = r
	}
	s.mu.Unlock()

	s.emit(Event{Change: ch, Origin: Load})
	return nil
}

func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %v", ErrNotFound, id)
	}
	return r.Clone(), nil
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns copies of all records sorted by id.
func (s *Store) Records() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}
