package media

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/mirror/pkg/transport"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// ReadSink drains every attached track and counts what it received.
type ReadSink struct {
	mu     sync.Mutex
	stream *RemoteStream
	logger *slog.Logger

	packets atomic.Uint64
	bytes   atomic.Uint64
}

var _ Sink = (*ReadSink)(nil)

func NewReadSink(logger *slog.Logger) *ReadSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadSink{logger: logger}
}

func (s *ReadSink) Stream() *RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *ReadSink) SetStream(stream *RemoteStream) {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	stream.OnAddTrack(func(track transport.RemoteTrack) {
		go s.drain(track)
	})
}

func (s *ReadSink) drain(track transport.RemoteTrack) {
	s.logger.Info("receiving track",
		slog.String("track_id", track.ID()),
		slog.String("kind", track.Kind().String()),
		slog.String("codec", track.Codec().MimeType),
	)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
	}
}

func (s *ReadSink) Packets() uint64 {
	return s.packets.Load()
}

func (s *ReadSink) Bytes() uint64 {
	return s.bytes.Load()
}

type frameWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// Recorder writes the first VP8 video track it receives to an IVF file and
// requests keyframes from the sender at a fixed interval.
type Recorder struct {
	path          string
	keyframeEvery time.Duration
	logger        *slog.Logger
	open          func(path string) (frameWriter, error)

	mu        sync.Mutex
	stream    *RemoteStream
	recording bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ Sink = (*Recorder)(nil)

func NewRecorder(path string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		path:          path,
		keyframeEvery: 3 * time.Second,
		logger:        logger,
		open: func(path string) (frameWriter, error) {
			return ivfwriter.New(path)
		},
		done: make(chan struct{}),
	}
}

func (r *Recorder) Stream() *RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream
}

func (r *Recorder) SetStream(stream *RemoteStream) {
	r.mu.Lock()
	r.stream = stream
	r.mu.Unlock()

	stream.OnAddTrack(func(track transport.RemoteTrack) {
		if track.Kind() != webrtc.RTPCodecTypeVideo || !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeVP8) {
			r.logger.Info("not recording track", slog.String("track_id", track.ID()), slog.String("codec", track.Codec().MimeType))
			go discard(track)
			return
		}

		r.mu.Lock()
		if r.recording {
			r.mu.Unlock()
			go discard(track)
			return
		}
		r.recording = true
		r.mu.Unlock()

		go r.record(stream, track)
	})
}

// Done is closed when the recorded track ends.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) record(stream *RemoteStream, track transport.RemoteTrack) {
	defer r.closeOnce.Do(func() { close(r.done) })

	w, err := r.open(r.path)
	if err != nil {
		r.logger.Error("failed to open recording", slog.String("path", r.path), slog.Any("error", err))
		go discard(track)
		return
	}
	defer func() {
		if err := w.Close(); err != nil {
			r.logger.Warn("failed to close recording", slog.String("path", r.path), slog.Any("error", err))
		}
	}()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		ticker := time.NewTicker(r.keyframeEvery)
		defer ticker.Stop()
		for {
			if err := stream.RequestKeyframe(track.SSRC()); err != nil {
				r.logger.Debug("failed to request keyframe", slog.Any("error", err))
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	r.logger.Info("recording track", slog.String("track_id", track.ID()), slog.String("path", r.path))

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debug("track read ended", slog.Any("error", err))
			}
			return
		}
		if err := w.WriteRTP(pkt); err != nil {
			r.logger.Warn("failed to write frame", slog.Any("error", err))
			return
		}
	}
}

func discard(track transport.RemoteTrack) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
