package classroom

import (
	"errors"

	"github.com/giongto35/cloud-classroom/pkg/persistence"
	"github.com/giongto35/cloud-classroom/pkg/signal"
	"github.com/giongto35/cloud-classroom/pkg/webrtc"
)

// Status is what the participant sees about the session.
type Status uint8

const (
	StatusConnecting Status = iota
	StatusLive
	StatusReconnecting
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Action is what the participant may do about the current status.
type Action uint8

const (
	NoAction Action = iota
	ActionRejoin
	ActionRetrySave
)

func (a Action) String() string {
	switch a {
	case ActionRejoin:
		return "rejoin"
	case ActionRetrySave:
		return "retry-save"
	default:
		return ""
	}
}

// Health is the connection health derived from the channel and the call.
type Health uint8

const (
	HealthConnecting Health = iota
	HealthConnected
	HealthDisconnected
)

func (h Health) String() string {
	switch h {
	case HealthConnected:
		return "connected"
	case HealthDisconnected:
		return "disconnected"
	default:
		return "connecting"
	}
}

// Report is sent to the status listeners on every change.
type Report struct {
	State  State
	Status Status
	Action Action
	Health Health
	// Err is the cause of the error status or of the retry action.
	Err error
}

func (r Report) same(o Report) bool {
	return r.State == o.State && r.Status == o.Status && r.Action == o.Action &&
		r.Health == o.Health && errText(r.Err) == errText(o.Err)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// parts is everything the status is computed from.
type parts struct {
	channel signal.State
	call    webrtc.Status
	callErr error
	saveErr error
}

func (p parts) health() Health {
	switch {
	case p.channel == signal.Connected && p.call == webrtc.Connected:
		return HealthConnected
	case p.channel == signal.Reconnecting || p.channel == signal.Failed || p.call == webrtc.Failed:
		return HealthDisconnected
	default:
		return HealthConnecting
	}
}

func (p parts) status() (Status, Action, error) {
	status, action, err := p.connection()
	if status == StatusError {
		return status, action, err
	}
	var perr *persistence.Error
	if errors.As(p.saveErr, &perr) && perr.Retryable {
		return status, ActionRetrySave, p.saveErr
	}
	return status, action, err
}

func (p parts) connection() (Status, Action, error) {
	switch {
	case errors.Is(p.callErr, webrtc.ErrMediaPermission):
		return StatusError, NoAction, p.callErr
	case p.channel == signal.Failed:
		return StatusError, ActionRejoin, signal.ErrDisconnected
	case p.call == webrtc.Failed:
		return StatusError, ActionRejoin, p.callErr
	case p.channel == signal.Reconnecting:
		return StatusReconnecting, NoAction, signal.ErrReconnecting
	case p.channel == signal.Connected && p.call == webrtc.Connected:
		return StatusLive, NoAction, nil
	default:
		return StatusConnecting, NoAction, nil
	}
}
