package webrtc

import (
	"context"
	"errors"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	// ErrMediaPermission is returned when the camera or the microphone
	// can't be used. It is terminal for the session.
	ErrMediaPermission = errors.New("media permission denied")
	ErrStreamStopped   = errors.New("stream is stopped")
)

// MediaSource provides the local camera and microphone.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalStream, error)
}

// LocalStream is the pair of local tracks the application feeds with
// encoded samples. Disabled tracks drop samples.
type LocalStream struct {
	Id    string
	Audio *webrtc.TrackLocalStaticSample
	Video *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	audioOn bool
	videoOn bool
	stopped bool
	onStop  func()
}

func NewLocalStream(id string) (*LocalStream, error) {
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", id)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", id)
	if err != nil {
		return nil, err
	}
	return &LocalStream{Id: id, Audio: audio, Video: video, audioOn: true, videoOn: true}, nil
}

// OnStop sets a hook that releases the capture devices.
func (s *LocalStream) OnStop(fn func()) {
	s.mu.Lock()
	s.onStop = fn
	s.mu.Unlock()
}

func (s *LocalStream) WriteAudio(sample media.Sample) error {
	return s.write(s.Audio, sample, func() bool { return s.audioOn })
}

func (s *LocalStream) WriteVideo(sample media.Sample) error {
	return s.write(s.Video, sample, func() bool { return s.videoOn })
}

func (s *LocalStream) write(track *webrtc.TrackLocalStaticSample, sample media.Sample, on func() bool) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStreamStopped
	}
	enabled := on()
	s.mu.Unlock()
	if !enabled {
		return nil
	}
	return track.WriteSample(sample)
}

func (s *LocalStream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn
}

func (s *LocalStream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

func (s *LocalStream) setAudio(on bool) {
	s.mu.Lock()
	s.audioOn = on
	s.mu.Unlock()
}

func (s *LocalStream) setVideo(on bool) {
	s.mu.Lock()
	s.videoOn = on
	s.mu.Unlock()
}

// Stop releases the stream, safe to call many times.
func (s *LocalStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	fn := s.onStop
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *LocalStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// SampleSource hands out streams that the application feeds itself,
// e.g. from an external encoder. Permission is always granted.
type SampleSource struct{}

func (SampleSource) Acquire(ctx context.Context) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewLocalStream("")
}
