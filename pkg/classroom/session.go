// Package classroom runs one tutoring session for one participant: the
// call, the shared whiteboard and the saved board, behind a small set of
// controls and a single aggregated status.
package classroom

import (
	"errors"
	"fmt"
)

var (
	ErrNotParticipant = errors.New("not a participant of the session")
	ErrEnded          = errors.New("session ended")
)

// Identity is the signed in user.
type Identity interface {
	ParticipantId() string
}

// Participant is a plain participant id.
type Participant string

func (p Participant) ParticipantId() string { return string(p) }

type Role uint8

const (
	Tutor Role = iota
	Student
)

func (r Role) String() string {
	if r == Tutor {
		return "tutor"
	}
	return "student"
}

type State uint8

const (
	Pending State = iota
	Connecting
	Live
	Ended
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Session is a booked lesson of one tutor and one student.
type Session struct {
	Id      string
	Tutor   string
	Student string
	State   State
}

func (s Session) Has(id string) bool { return id != "" && (id == s.Tutor || id == s.Student) }

// Role of the participant, the tutor drives the call handshake.
func (s Session) Role(id string) (Role, error) {
	switch {
	case !s.Has(id):
		return 0, fmt.Errorf("%w: %v", ErrNotParticipant, id)
	case id == s.Tutor:
		return Tutor, nil
	default:
		return Student, nil
	}
}

// Peer returns the id of the other participant.
func (s Session) Peer(id string) string {
	if id == s.Tutor {
		return s.Student
	}
	return s.Tutor
}
