package config

import (
	"time"

	"github.com/spf13/pflag"
)

type Monitoring struct {
	Port             int    `default:"6601"`
	URLPrefix        string `default:"/relay"`
	MetricEnabled    bool   `json:"metric_enabled"`
	ProfilingEnabled bool   `json:"profiling_enabled"`
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

// Storage selects and configures the whiteboard snapshot backend.
type Storage struct {
	// Provider is one of: http, gcs, s3, redis, postgres, file, memory.
	Provider string `default:"memory"`
	// Prefix is prepended to every snapshot key.
	Prefix string `default:"whiteboard"`
	Http   struct {
		Address string
		Token   string
		Timeout time.Duration `default:"10s"`
	}
	Gcs struct {
		Bucket      string
		Endpoint    string
		Credentials string
	}
	S3 struct {
		Endpoint        string
		AccessKeyId     string
		SecretAccessKey string
		Bucket          string
		Secure          bool
	}
	Redis Redis
	Postgres struct {
		Dsn   string
		Table string `default:"whiteboards"`
	}
	File struct {
		Dir string `default:"./snapshots"`
	}
}

type Redis struct {
	Address  string `default:"localhost:6379"`
	Password string
	Db       int
	// Ttl is the key expiration, 0 keeps keys forever.
	Ttl time.Duration
}

type Server struct {
	Address string `default:":8000"`
	// PortRoll picks the next free port when the address is taken.
	PortRoll bool
	Tls      struct {
		HttpsKey  string
		HttpsCert string
		// Domain enables Let's Encrypt certificates when no key pair is set.
		Domain string
	}
}

func (s *Server) WithFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Address, "address", s.Address, "HTTP server address (host:port)")
	fs.StringVar(&s.Tls.HttpsKey, "httpsKey", s.Tls.HttpsKey, "HTTPS key")
	fs.StringVar(&s.Tls.HttpsCert, "httpsCert", s.Tls.HttpsCert, "HTTPS chain")
}

func (s *Server) IsTls() bool { return s.Tls.HttpsKey != "" && s.Tls.HttpsCert != "" }

func (s *Server) IsAutoTls() bool { return !s.IsTls() && s.Tls.Domain != "" }
