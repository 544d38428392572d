package signal

// State of the signaling connection.
//
//	idle ──dial──▶ connecting ──opened──▶ connected ──lost──▶ reconnecting
//	                  │                      ▲                    │  ▲
//	                  └──lost──▶ failed      └──────opened────────┘  │
//	                               ▲                                 │
//	                               └──────────giveUp─────────────────┘
//
// Any state goes back to idle on close.
type State uint8

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type event uint8

const (
	evDial event = iota
	evOpened
	evLost
	evGiveUp
	evClose
)

func (e event) String() string {
	return [...]string{"dial", "opened", "lost", "giveUp", "close"}[e]
}

// next is the only place where the channel state changes.
// It returns false for transitions that are not allowed.
func next(s State, e event) (State, bool) {
	if e == evClose {
		return Idle, true
	}
	switch s {
	case Idle, Failed:
		if e == evDial {
			return Connecting, true
		}
	case Connecting:
		switch e {
		case evOpened:
			return Connected, true
		case evLost:
			return Failed, true
		}
	case Connected:
		if e == evLost {
			return Reconnecting, true
		}
	case Reconnecting:
		switch e {
		case evOpened:
			return Connected, true
		case evLost:
			return Reconnecting, true
		case evGiveUp:
			return Failed, true
		}
	}
	return s, false
}
