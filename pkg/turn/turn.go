// Package turn runs an embedded TURN server for participants behind
// symmetric NATs.
package turn

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/network/socket"
	"github.com/pion/turn/v4"
)

type Server struct {
	conf config.Turn
	conn net.PacketConn
	srv  *turn.Server
	keys map[string][]byte
	log  *logger.Logger
}

// New binds the UDP address. The relay addresses are given out
// with the public IP of the config.
func New(conf config.Turn, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.Module("turn")
	ip := net.ParseIP(conf.PublicIp)
	if ip == nil {
		return nil, fmt.Errorf("turn: bad public ip %q", conf.PublicIp)
	}
	if len(conf.Users) == 0 {
		return nil, errors.New("turn: no users")
	}

	s := &Server{conf: conf, keys: make(map[string][]byte, len(conf.Users)), log: log}
	for user, pass := range conf.Users {
		s.keys[user] = turn.GenerateAuthKey(user, conf.Realm, pass)
	}

	conn, err := socket.ListenUDP(conf.Address, conf.PortRoll)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.srv, err = turn.NewServer(turn.ServerConfig{
		Realm:         conf.Realm,
		AuthHandler:   s.auth,
		LoggerFactory: logger.NewPionLogger(log, int(logger.WarnLevel)),
		PacketConnConfigs: []turn.PacketConnConfig{{
			PacketConn: conn,
			RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
				RelayAddress: ip,
				Address:      "0.0.0.0",
			},
		}},
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) auth(username, realm string, src net.Addr) ([]byte, bool) {
	key, ok := s.keys[username]
	if !ok {
		s.log.Warn().Str("user", username).Str("addr", src.String()).Msg("Unknown TURN user")
	}
	return key, ok
}

// Addr is the bound UDP address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Run is a no-op, the server serves from New on.
func (s *Server) Run() {
	s.log.Info().Str("addr", s.Addr().String()).Str("realm", s.conf.Realm).Msg("TURN server is running")
}

func (s *Server) Shutdown(context.Context) error { return s.srv.Close() }

func (s *Server) String() string { return fmt.Sprintf("turn::%v", s.Addr()) }
