package classroom

import (
	"context"

	"github.com/giongto35/cloud-classroom/pkg/config"
	"github.com/giongto35/cloud-classroom/pkg/logger"
	"github.com/giongto35/cloud-classroom/pkg/persistence"
	"github.com/giongto35/cloud-classroom/pkg/signal"
	"github.com/giongto35/cloud-classroom/pkg/storage"
	"github.com/giongto35/cloud-classroom/pkg/webrtc"
)

// NewDeps builds the production components of a session from the config.
// The media source feeds the local tracks, see webrtc.SampleSource.
func NewDeps(ctx context.Context, conf config.ClientConfig, session Session, me Identity, media webrtc.MediaSource, log *logger.Logger) (Deps, error) {
	if log == nil {
		log = logger.Default()
	}
	factory, err := webrtc.NewApiFactory(conf.Webrtc, log)
	if err != nil {
		return Deps{}, err
	}
	st, err := storage.New(ctx, conf.Storage, log)
	if err != nil {
		return Deps{}, err
	}
	if media == nil {
		media = webrtc.SampleSource{}
	}
	return Deps{
		Channel: signal.New(conf.Signal, session.Id, me.ParticipantId(), log),
		Media:   media,
		Factory: factory,
		Gateway: persistence.NewGateway(st, log),
		Storage: st,
	}, nil
}
