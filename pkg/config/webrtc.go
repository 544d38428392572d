package config

import "time"

type Webrtc struct {
	DisableDefaultInterceptors bool
	IceServers                 []IceServer
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap string
	IceLite  bool
	// SinglePort muxes all ICE traffic through one UDP address, host:port.
	SinglePort string
	// Loopback allows host candidates on loopback interfaces, used for
	// local runs where both participants share a machine.
	Loopback bool
	LogLevel int `default:"1"`
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (w *Webrtc) HasPortRange() bool  { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasIceIpMap() bool   { return w.IceIpMap != "" }
func (w *Webrtc) HasSinglePort() bool { return w.SinglePort != "" }

// Session holds the timings of one classroom session on the client side.
type Session struct {
	NegotiationTimeout time.Duration `default:"30s"`
	// NegotiationRetries is the number of fresh handshakes after a failed one.
	NegotiationRetries int `default:"1"`
	// SnapshotWait bounds how long remote changes wait for the saved board.
	SnapshotWait time.Duration `default:"10s"`
	// Layout is the initial layout: media or document.
	Layout string `default:"media"`
}

// Signal configures the client connection to the relay.
type Signal struct {
	Address      string        `default:"ws://localhost:8000"`
	Token        string
	DialTimeout  time.Duration `default:"10s"`
	InitialDelay time.Duration `default:"500ms"`
	MaxDelay     time.Duration `default:"30s"`
	Jitter       float64       `default:"0.2"`
	// MaxAttempts is the number of reconnects before giving up, 0 means forever.
	MaxAttempts int
}
