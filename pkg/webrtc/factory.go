package webrtc

import (
	"io"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/network/socket"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// ApiFactory makes peer connections that share one configured pion API.
// A participant renegotiates with a fresh peer connection, so the engines
// are built once per session.
type ApiFactory struct {
	api  *webrtc.API
	conf webrtc.Configuration
	mux  io.Closer
}

func NewApiFactory(conf config.Webrtc, log *logger.Logger) (*ApiFactory, error) {
	if log == nil {
		log = logger.Default()
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return nil, err
		}
	}

	pionLog := logger.NewPionLogger(log, conf.LogLevel)
	s := webrtc.SettingEngine{LoggerFactory: pionLog}
	s.SetLite(conf.IceLite)
	s.SetIncludeLoopbackCandidate(conf.Loopback)
	if conf.HasPortRange() {
		if err := s.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return nil, err
		}
	}
	if conf.HasIceIpMap() {
		s.SetNAT1To1IPs([]string{conf.IceIpMap}, webrtc.ICECandidateTypeHost)
		log.Info().Msgf("The NAT mapping is active for %v", conf.IceIpMap)
	}

	f := &ApiFactory{conf: webrtc.Configuration{ICEServers: iceServers(conf.IceServers)}}
	if conf.HasSinglePort() {
		udp, err := socket.ListenUDP(conf.SinglePort, true)
		if err != nil {
			return nil, err
		}
		mux := webrtc.NewICEUDPMux(pionLog.NewLogger("mux"), udp)
		s.SetICEUDPMux(mux)
		f.mux = mux
		log.Info().Msgf("The single port mode is active for %s", udp.LocalAddr())
	}

	f.api = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s))
	return f, nil
}

func iceServers(servers []config.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return out
}

func (a *ApiFactory) NewPeer() (*webrtc.PeerConnection, error) {
	return a.api.NewPeerConnection(a.conf)
}

// Close frees the shared UDP port, if any.
func (a *ApiFactory) Close() error {
	if a.mux == nil {
		return nil
	}
	return a.mux.Close()
}
