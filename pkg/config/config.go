package config

import (
	"time"

	"github.com/spf13/pflag"
)

// ClientConfig is everything a classroom participant needs.
type ClientConfig struct {
	Debug   bool
	Session Session
	Signal  Signal
	Storage Storage
	Webrtc  Webrtc
}

// RelayConfig is the configuration of the classroomd daemon.
type RelayConfig struct {
	Debug      bool
	Server     Server
	Relay      Relay
	Storage    Storage
	Turn       Turn
	Monitoring Monitoring
}

type Relay struct {
	// JwtSecret signs participant tokens, empty disables auth (dev only).
	JwtSecret      string
	AllowedOrigins []string
	// Presence keeps a set of online participants per session in Redis.
	Presence struct {
		Enabled bool
		Redis   Redis
		Ttl     time.Duration `default:"4h"`
	}
	// MaxSnapshotSize limits whiteboard uploads in bytes.
	MaxSnapshotSize int64 `default:"8388608"`
	// IceServers are handed out to the participants, {host} is replaced
	// with the host name the participant has used to reach the relay.
	IceServers []IceServer
	// Bookings limits sessions to the listed participants, when empty any
	// holder of a session token is let in.
	Bookings []Booking
	// TokenTtl is the lifetime of the tokens issued by the daemon.
	TokenTtl time.Duration `default:"6h"`
}

type Booking struct {
	Id      string
	Tutor   string
	Student string
}

type Turn struct {
	Enabled  bool
	Address  string `default:"0.0.0.0:3478"`
	PortRoll bool
	PublicIp string `default:"127.0.0.1"`
	Realm    string `default:"classroom"`
	// Users maps user names to passwords.
	Users map[string]string
}

func NewClientConfig(path string) (conf ClientConfig, err error) {
	err = LoadConfig(&conf, path)
	return
}

func (c *ClientConfig) WithFlags(fs *pflag.FlagSet) *ClientConfig {
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logs")
	fs.StringVar(&c.Signal.Address, "signal", c.Signal.Address, "Relay address")
	fs.StringVar(&c.Signal.Token, "token", c.Signal.Token, "Session token")
	fs.StringVar(&c.Storage.Provider, "storage", c.Storage.Provider, "Whiteboard storage: http, gcs, s3, redis, postgres, file, memory")
	fs.StringVar(&c.Session.Layout, "layout", c.Session.Layout, "Initial layout: media or document")
	return c
}

func NewRelayConfig(path string) (conf RelayConfig, err error) {
	err = LoadConfig(&conf, path)
	return
}

func (c *RelayConfig) WithFlags(fs *pflag.FlagSet) *RelayConfig {
	c.Server.WithFlags(fs)
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Enable debug logs")
	fs.StringVar(&c.Storage.Provider, "storage", c.Storage.Provider, "Whiteboard storage: http, gcs, s3, redis, postgres, file, memory")
	fs.BoolVar(&c.Turn.Enabled, "turn", c.Turn.Enabled, "Run the embedded TURN server")
	return c
}
