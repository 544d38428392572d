// Package monitoring serves prometheus metrics and pprof of the daemon.
package monitoring

import (
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/network/httpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Monitoring struct {
	*httpx.Server

	conf config.Monitoring
	log  *logger.Logger
}

// New creates new monitoring service. Metrics are taken from the
// gatherer, the default prometheus registry when nil.
func New(conf config.Monitoring, gatherer prometheus.Gatherer, log *logger.Logger) (*Monitoring, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.Module("monitoring")
	serv, err := httpx.NewServer(
		fmt.Sprintf(":%d", conf.Port),
		func(serv *httpx.Server) httpx.Handler {
			h := http.NewServeMux()

			if conf.ProfilingEnabled {
				prefix := fmt.Sprintf("%s/debug/pprof", conf.URLPrefix)
				log.Info().Msgf("Profiling is enabled at %v", serv.Addr+prefix)
				h.HandleFunc(prefix+"/", pprof.Index)
				h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
				h.HandleFunc(prefix+"/profile", pprof.Profile)
				h.HandleFunc(prefix+"/symbol", pprof.Symbol)
				h.HandleFunc(prefix+"/trace", pprof.Trace)
				// custom pprof paths render only the index page without these
				for _, p := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
					h.Handle(prefix+"/"+p, pprof.Handler(p))
				}
			}

			if conf.MetricEnabled {
				metricPath := fmt.Sprintf("%s/metrics", conf.URLPrefix)
				log.Info().Msgf("Prometheus metric is enabled at %v", serv.Addr+metricPath)
				h.Handle(metricPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
			}

			return h
		},
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return &Monitoring{Server: serv, conf: conf, log: log}, nil
}

func (m *Monitoring) Run() {
	m.log.Info().Msgf("Starting monitoring server at %v", m.Addr)
	m.Server.Run()
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
