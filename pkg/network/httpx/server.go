// Package httpx runs the HTTP servers of the daemon.
package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"golang.org/x/crypto/acme/autocert"
)

type (
	Handler        = http.Handler
	HandlerFunc    = http.HandlerFunc
	ResponseWriter = http.ResponseWriter
	Request        = http.Request
)

type Server struct {
	http.Server

	autoCert *autocert.Manager
	opts     Options

	listener *Listener
	log      *logger.Logger
}

type (
	Options struct {
		Https        bool
		HttpsCert    string
		HttpsKey     string
		HttpsDomain  string
		PortRoll     bool
		IdleTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		Zone         string
		Logger       *logger.Logger
	}
	Option func(*Options)
)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func (o *Options) IsAutoHttpsCert() bool { return !(o.HttpsCert != "" && o.HttpsKey != "") }

func WithPortRoll(roll bool) Option        { return func(opts *Options) { opts.PortRoll = roll } }
func WithZone(zone string) Option          { return func(opts *Options) { opts.Zone = zone } }
func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }
func WithTimeout(t time.Duration) Option {
	return func(opts *Options) { opts.ReadTimeout, opts.WriteTimeout = t, t }
}
func WithServerConfig(conf config.Server) Option {
	return func(opts *Options) {
		opts.Https = conf.IsTls() || conf.IsAutoTls()
		opts.HttpsCert = conf.Tls.HttpsCert
		opts.HttpsKey = conf.Tls.HttpsKey
		opts.HttpsDomain = conf.Tls.Domain
		opts.PortRoll = conf.PortRoll
	}
}

// NewServer binds the address right away so the real port is known
// before Run. The handler constructor gets the bound server.
func NewServer(address string, handler func(*Server) http.Handler, options ...Option) (*Server, error) {
	opts := &Options{
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  500 * time.Second,
		WriteTimeout: 500 * time.Second,
	}
	opts.override(options...)

	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	server := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}

	if opts.Https && opts.IsAutoHttpsCert() {
		if opts.HttpsDomain == "" {
			return nil, errors.New("httpx: no certificates and no domain for autocert")
		}
		server.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache("assets/cache"),
			HostPolicy: autocert.HostWhitelist(withZonePrefix(opts.HttpsDomain, opts.Zone)),
		}
		server.TLSConfig = server.autoCert.TLSConfig()
	}

	addr := server.Addr
	if server.Addr == "" {
		addr = ":http"
		if opts.Https {
			addr = ":https"
		}
		opts.Logger.Warn().Msgf("Empty server address has been changed to %v", addr)
	}
	listener, err := NewListener(addr, server.opts.PortRoll, opts.Logger)
	if err != nil {
		return nil, err
	}
	server.listener = listener

	addr = buildAddress(server.Addr, opts.Zone, *listener)
	opts.Logger.Info().Msgf("httpx %v (%v)", addr, server.Addr)
	server.Addr = addr

	server.Handler = handler(server)
	return server, nil
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	protocol := s.GetProtocol()
	s.log.Debug().Msgf("Starting %s server on %s", protocol, s.Addr)

	var err error
	if s.opts.Https {
		err = s.ServeTLS(*s.listener, s.opts.HttpsCert, s.opts.HttpsKey)
	} else {
		err = s.Serve(*s.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Debug().Msgf("%s server was closed", protocol)
		return
	}
	s.log.Error().Err(err).Msgf("%s server failed", protocol)
}

func (s *Server) Stop() error { return s.Server.Close() }

func (s *Server) GetHost() string { return extractHost(s.Addr) }

func (s *Server) GetPort() int { return s.listener.GetPort() }

func (s *Server) GetProtocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}

// Url is the base address of the server, e.g. http://localhost:8000.
func (s *Server) Url() string { return s.GetProtocol() + "://" + s.Addr }

func (s *Server) String() string { return fmt.Sprintf("httpx::%s", s.Addr) }
