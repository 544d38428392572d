package webrtc

import (
	"strings"

	"github.com/giongto35/cloud-classroom/pkg/api"
	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/pion/webrtc/v4"
)

// Replacement substitutes {From} placeholders in ICE server urls,
// e.g. turn:{server-ip}:3478.
type Replacement struct {
	From string
	To   string
}

// ExpandIceServers returns a copy of the servers with the placeholders replaced.
func ExpandIceServers(servers []config.IceServer, replacements ...Replacement) []config.IceServer {
	out := make([]config.IceServer, 0, len(servers))
	for _, ice := range servers {
		url := ice.Urls
		for _, r := range replacements {
			url = strings.ReplaceAll(url, "{"+r.From+"}", r.To)
		}
		ice.Urls = url
		out = append(out, ice)
	}
	return out
}

func toCandidate(ice api.Ice) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        ice.Candidate,
		SDPMid:           ice.SdpMid,
		SDPMLineIndex:    ice.SdpMLineIndex,
		UsernameFragment: ice.UsernameFragment,
	}
}

func fromCandidate(c webrtc.ICECandidateInit) api.Ice {
	return api.Ice{
		Candidate:        c.Candidate,
		SdpMid:           c.SDPMid,
		SdpMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
