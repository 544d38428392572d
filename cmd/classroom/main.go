package main

import (
	"context"
	stdos "os"
	"time"

	"github.com/giongto35/cloud-classroom/pkg/classroom"
	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/os"
	flag "github.com/spf13/pflag"
)

var Version = "?"

// A headless participant: joins the session, reports the status and
// saves the board on exit.
func main() {
	log := logger.NewConsole(false, "p", false)
	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg(".env")
	}

	conf, err := config.NewClientConfig(config.PathFromArgs(stdos.Args[1:]))
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	var session classroom.Session
	var me string
	var save bool
	flag.StringP("config", "c", "", "Path to the configuration dir")
	flag.StringVar(&session.Id, "session", "", "Session id")
	flag.StringVar(&session.Tutor, "tutor", "", "Tutor id")
	flag.StringVar(&session.Student, "student", "", "Student id")
	flag.StringVar(&me, "me", "", "Own participant id")
	flag.BoolVar(&save, "save", true, "Save the board on exit")
	conf.WithFlags(flag.CommandLine)
	flag.Parse()

	log = logger.NewConsole(conf.Debug, "p", false)
	log.Info().Msgf("version %s", Version)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps, err := classroom.NewDeps(ctx, conf, session, classroom.Participant(me), nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("session")
	}
	shell, err := classroom.New(session, classroom.Participant(me), deps, conf.Session, log)
	if err != nil {
		log.Fatal().Err(err).Msg("session")
	}
	shell.OnStatus(func(r classroom.Report) {
		log.Info().
			Str("state", r.State.String()).
			Str("status", r.Status.String()).
			Str("health", r.Health.String()).
			Str("action", r.Action.String()).
			AnErr("err", r.Err).
			Msg("Session")
	})
	if err := shell.Join(ctx); err != nil {
		log.Error().Err(err).Msg("Join")
	}

	<-os.ExpectTermination()

	if save {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := shell.SaveBoard(sctx); err != nil {
			log.Error().Err(err).Msg("Board is not saved")
		}
		scancel()
	}
	shell.Leave()
}
