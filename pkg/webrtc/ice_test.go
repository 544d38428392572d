package webrtc

import (
	"reflect"
	"testing"

	"github.com/giongto35/cloud-classroom/pkg/config"
)

func TestExpandIceServers(t *testing.T) {
	tests := []struct {
		input        []config.IceServer
		replacements []Replacement
		output       []config.IceServer
	}{
		{
			input: []config.IceServer{
				{Urls: "stun:stun.l.google.com:19302"},
				{Urls: "stun:{server-ip}:3478"},
				{Urls: "turn:{server-ip}:3478", Username: "root", Credential: "root"},
			},
			replacements: []Replacement{{From: "server-ip", To: "localhost"}},
			output: []config.IceServer{
				{Urls: "stun:stun.l.google.com:19302"},
				{Urls: "stun:localhost:3478"},
				{Urls: "turn:localhost:3478", Username: "root", Credential: "root"},
			},
		},
		{
			input:  []config.IceServer{{Urls: "stun:{server-ip}:3478"}},
			output: []config.IceServer{{Urls: "stun:{server-ip}:3478"}},
		},
		{
			input:  []config.IceServer{},
			output: []config.IceServer{},
		},
	}

	for _, test := range tests {
		result := ExpandIceServers(test.input, test.replacements...)
		if !reflect.DeepEqual(result, test.output) {
			t.Errorf("Not exactly what is expected, %v != %v", result, test.output)
		}
	}
	in := []config.IceServer{{Urls: "stun:{server-ip}"}}
	_ = ExpandIceServers(in, Replacement{From: "server-ip", To: "x"})
	if in[0].Urls != "stun:{server-ip}" {
		t.Errorf("input was modified")
	}
}
