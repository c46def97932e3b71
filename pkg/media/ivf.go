package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

var ErrUnsupportedCodec = errors.New("media: unsupported ivf codec")

func mimeTypeForFourCC(fourcc string) (string, error) {
	switch fourcc {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, fourcc)
}

type IVFOption func(*IVFSource)

// WithLoop replays the file from the start when it ends.
func WithLoop(loop bool) IVFOption {
	return func(s *IVFSource) {
		s.loop = loop
	}
}

func WithIVFLogger(logger *slog.Logger) IVFOption {
	return func(s *IVFSource) {
		s.logger = logger
	}
}

// IVFSource plays an IVF file as a screen capture.
type IVFSource struct {
	path   string
	loop   bool
	logger *slog.Logger

	track    *webrtc.TrackLocalStaticSample
	interval time.Duration

	cancel context.CancelFunc
	mu     sync.Mutex
	once   sync.Once
	done   chan struct{}
}

var _ Stream = (*IVFSource)(nil)

// OpenIVF validates the file header and prepares a track for it. Playback
// starts with Start.
func OpenIVF(path string, opts ...IVFOption) (*IVFSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read ivf header: %w", err)
	}

	mimeType, err := mimeTypeForFourCC(header.FourCC)
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, "video", "screen")
	if err != nil {
		return nil, err
	}

	s := &IVFSource{
		path:     path,
		logger:   slog.Default(),
		track:    track,
		interval: frameInterval(header),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func frameInterval(header *ivfreader.IVFFileHeader) time.Duration {
	if header.TimebaseDenominator == 0 {
		return 33 * time.Millisecond
	}
	return time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
}

func (s *IVFSource) ID() string {
	return s.track.StreamID()
}

func (s *IVFSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// Start plays the file in the background until it ends, Stop is called or ctx is done.
func (s *IVFSource) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer s.finish()

		for {
			err := s.play(ctx)
			switch {
			case errors.Is(err, io.EOF) && s.loop:
				continue
			case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
				return
			case err != nil:
				s.logger.Warn("ivf playback stopped", slog.String("path", s.path), slog.Any("error", err))
				return
			}
		}
	}()
}

func (s *IVFSource) play(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, _, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return err
		}

		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: s.interval}); err != nil {
			return err
		}
	}
}

func (s *IVFSource) finish() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *IVFSource) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		return
	}
	s.finish()
}

func (s *IVFSource) Done() <-chan struct{} {
	return s.done
}
