package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/giongto35/cloud-classroom/pkg/classroom"
	"github.com/giongto35/cloud-classroom/pkg/config"
)

var ErrNoBooking = errors.New("no such session")

// Bookings tells which two participants a session belongs to.
type Bookings interface {
	Booking(ctx context.Context, session string) (classroom.Session, error)
}

// MemoryBookings is a fixed list of sessions.
type MemoryBookings struct {
	mu       sync.RWMutex
	sessions map[string]classroom.Session
}

func NewMemoryBookings(list ...config.Booking) *MemoryBookings {
	b := &MemoryBookings{sessions: make(map[string]classroom.Session, len(list))}
	for _, s := range list {
		b.Add(classroom.Session{Id: s.Id, Tutor: s.Tutor, Student: s.Student})
	}
	return b
}

func (b *MemoryBookings) Add(s classroom.Session) {
	b.mu.Lock()
	b.sessions[s.Id] = s
	b.mu.Unlock()
}

func (b *MemoryBookings) Booking(_ context.Context, session string) (classroom.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[session]
	if !ok {
		return classroom.Session{}, ErrNoBooking
	}
	return s, nil
}
