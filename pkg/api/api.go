// Package api defines the signaling wire contract shared by the classroom
// client and the relay.
//
// Every message is a JSON-encoded envelope of the following structure:
//
//	     type - (required) one of the predefined message types;
//	sessionId - (required) the classroom session the message belongs to;
//	 senderId - (required) the participant who produced the message;
//	  payload - (optional) type-specific data.
//
// The relay stamps sessionId and senderId from the authenticated connection,
// so a client cannot speak for the other participant.
//
// Example:
//
//	{"type":"doc-change","sessionId":"s1","senderId":"tutor","payload":{"added":{...}}}
package api

import (
	"errors"

	"github.com/goccy/go-json"
)

type Type string

const (
	Offer        Type = "offer"
	Answer       Type = "answer"
	IceCandidate Type = "ice-candidate"
	DocChange    Type = "doc-change"
	DocClear     Type = "doc-clear"
	Presence     Type = "presence"
)

func (t Type) Valid() bool {
	switch t {
	case Offer, Answer, IceCandidate, DocChange, DocClear, Presence:
		return true
	}
	return false
}

// Negotiation reports whether the message belongs to the media handshake.
func (t Type) Negotiation() bool { return t == Offer || t == Answer || t == IceCandidate }

func (t Type) String() string { return string(t) }

type Envelope struct {
	Type      Type            `json:"type"`
	SessionId string          `json:"sessionId"`
	SenderId  string          `json:"senderId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var (
	ErrMalformed   = errors.New("malformed")
	ErrForbidden   = errors.New("forbidden")
	ErrUnknownType = errors.New("unknown message type")
)

// Wrap builds an envelope with the payload encoded.
func Wrap(t Type, session, sender string, payload any) (Envelope, error) {
	env := Envelope{Type: t, SessionId: session, SenderId: sender}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Payload = b
	return env, nil
}

// Decode parses and checks an incoming envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, errors.Join(ErrMalformed, err)
	}
	if !env.Type.Valid() {
		return env, ErrUnknownType
	}
	return env, nil
}

func (e Envelope) Encode() ([]byte, error) { return json.Marshal(e) }

func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}

// UnwrapChecked is Unwrap with the decoding error kept.
func UnwrapChecked[T any](data []byte) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	return out, nil
}
