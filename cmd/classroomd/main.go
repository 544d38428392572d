package main

import (
	"context"
	"fmt"
	stdos "os"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/monitoring"
	"github.com/giongto35/cloud-classroom/pkg/os"
	"github.com/giongto35/cloud-classroom/pkg/relay"
	"github.com/giongto35/cloud-classroom/pkg/service"
	"github.com/giongto35/cloud-classroom/pkg/storage"
	"github.com/giongto35/cloud-classroom/pkg/turn"
	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
)

var Version = "?"

const shutdownTimeout = 10 * time.Second

func main() {
	log := logger.NewConsole(false, "r", false)
	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg(".env")
	}

	conf, err := config.NewRelayConfig(config.PathFromArgs(stdos.Args[1:]))
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	var tokenFor [2]string
	flag.StringP("config", "c", "", "Path to the configuration dir")
	flag.StringVar(&tokenFor[0], "token-session", "", "Print a token for the session and exit")
	flag.StringVar(&tokenFor[1], "token-participant", "", "Participant of the printed token")
	conf.WithFlags(flag.CommandLine)
	flag.Parse()

	if tokenFor[0] != "" {
		tok, err := relay.NewToken(conf.Relay.JwtSecret, tokenFor[0], tokenFor[1], conf.Relay.TokenTtl)
		if err != nil {
			log.Fatal().Err(err).Msg("token")
		}
		fmt.Println(tok)
		return
	}

	log = logger.NewConsole(conf.Debug, "r", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := storage.New(ctx, conf.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("storage")
	}
	defer func() {
		if err := storage.Close(st); err != nil {
			log.Error().Err(err).Msg("storage close")
		}
	}()

	deps := relay.Deps{Storage: st, Registerer: prometheus.DefaultRegisterer}
	if len(conf.Relay.Bookings) > 0 {
		deps.Bookings = relay.NewMemoryBookings(conf.Relay.Bookings...)
	}
	if conf.Relay.Presence.Enabled {
		presence, err := relay.NewRedisPresence(ctx, conf.Relay.Presence.Redis, conf.Relay.Presence.Ttl)
		if err != nil {
			log.Fatal().Err(err).Msg("presence")
		}
		defer func() { _ = presence.Close() }()
		deps.Presence = presence
	}

	r, err := relay.New(conf.Relay, deps, conf.Debug, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay")
	}
	srv, err := relay.NewServer(conf.Server, r, log)
	if err != nil {
		log.Fatal().Err(err).Msg("server")
	}

	services := service.Group{}
	services.Add(srv)
	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, prometheus.DefaultGatherer, log)
		if err != nil {
			log.Fatal().Err(err).Msg("monitoring")
		}
		services.Add(mon)
	}
	if conf.Turn.Enabled {
		t, err := turn.New(conf.Turn, log)
		if err != nil {
			log.Fatal().Err(err).Msg("turn")
		}
		services.Add(t)
	}
	services.Start()
	log.Info().Str("addr", srv.Url()).Msg("Relay is running")

	<-os.ExpectTermination()
	log.Info().Msg("Shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := services.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
