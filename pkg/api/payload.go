package api

// Sdp is the payload of offer and answer messages.
type Sdp struct {
	Type string `json:"type"`
	Sdp  string `json:"sdp"`
}

// Ice mirrors the browser RTCIceCandidateInit dictionary.
type Ice struct {
	Candidate        string  `json:"candidate"`
	SdpMid           *string `json:"sdpMid,omitempty"`
	SdpMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type PresenceState string

const (
	Join  PresenceState = "join"
	Leave PresenceState = "leave"
)

// PresencePayload announces a participant. Ack marks a reply to a join,
// which must not be answered again.
type PresencePayload struct {
	State PresenceState `json:"state"`
	Name  string        `json:"name,omitempty"`
	Ack   bool          `json:"ack,omitempty"`
}
