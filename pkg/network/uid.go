package network

import "github.com/rs/xid"

// Uid identifies a single connection (socket, peer) for its lifetime.
type Uid string

const EmptyUid Uid = ""

func NewUid() Uid { return Uid(xid.New().String()) }

func ValidUid(u Uid) bool {
	_, err := xid.FromString(string(u))
	return err == nil
}

func (u Uid) String() string { return string(u) }

// Short returns a compact form of the id for logs.
func (u Uid) Short() string {
	if len(u) < 7 {
		return string(u)
	}
	return string(u)[:3] + "." + string(u)[len(u)-3:]
}
