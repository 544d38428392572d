// Package persistence loads and saves whiteboard snapshots.
// Loading never fails a session: a broken or missing snapshot gives an
// empty board and the error is handed to the caller to report.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/storage"
	"github.com/giongto35/cloud-classroom/pkg/whiteboard"
)

// ErrSaveInProgress is returned when a save of the same session is
// running already.
var ErrSaveInProgress = errors.New("save in progress")

// Error is a failed snapshot operation.
type Error struct {
	Op        string
	Session   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persistence: %v %v: %v", e.Op, e.Session, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Gateway struct {
	st storage.Storage

	mu     sync.Mutex
	saving map[string]struct{}

	log *logger.Logger
}

func NewGateway(st storage.Storage, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Default()
	}
	return &Gateway{st: st, saving: map[string]struct{}{}, log: log.Module("persistence")}
}

func empty() Snapshot { return Snapshot{Schema: Schema, Records: []whiteboard.Record{}} }

// LoadSnapshot returns the stored snapshot of the session or an empty one.
// The error is not nil when the snapshot exists but can't be used.
func (g *Gateway) LoadSnapshot(ctx context.Context, session string) (Snapshot, error) {
	data, err := g.st.Load(ctx, session)
	if errors.Is(err, storage.ErrNotFound) {
		g.log.Debug().Str(logger.SessionField, session).Msg("No snapshot")
		return empty(), nil
	}
	if err != nil {
		return empty(), &Error{Op: "load", Session: session, Retryable: true, Err: err}
	}
	s, err := Decode(data)
	if err != nil {
		return empty(), &Error{Op: "load", Session: session, Err: err}
	}
	g.log.Info().Str(logger.SessionField, session).Int("records", len(s.Records)).
		Int64("version", s.Version).Msg("Snapshot loaded")
	return s, nil
}

// SaveSnapshot stores the snapshot. Only one save per session runs at a
// time, others fail fast with ErrSaveInProgress.
func (g *Gateway) SaveSnapshot(ctx context.Context, session string, s Snapshot) error {
	if !g.begin(session) {
		return ErrSaveInProgress
	}
	defer g.end(session)

	data, err := s.Encode()
	if err != nil {
		return &Error{Op: "save", Session: session, Err: err}
	}
	if err = g.st.Save(ctx, session, data); err != nil {
		return &Error{Op: "save", Session: session, Retryable: true, Err: err}
	}
	g.log.Info().Str(logger.SessionField, session).Int("records", len(s.Records)).
		Int64("version", s.Version).Msg("Snapshot saved")
	return nil
}

// Clear removes the stored snapshot.
func (g *Gateway) Clear(ctx context.Context, session string) error {
	if err := g.st.Delete(ctx, session); err != nil {
		return &Error{Op: "clear", Session: session, Retryable: true, Err: err}
	}
	return nil
}

// Saving reports whether a save of the session is running.
func (g *Gateway) Saving(session string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.saving[session]
	return ok
}

func (g *Gateway) begin(session string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.saving[session]; ok {
		return false
	}
	g.saving[session] = struct{}{}
	return true
}

func (g *Gateway) end(session string) {
	g.mu.Lock()
	delete(g.saving, session)
	g.mu.Unlock()
}
