// Package media provides the local streams attached to an outgoing session and
// the sinks that receive the tracks of an incoming one.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Stream is a local capture attached to an outgoing session.
type Stream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	// Stop ends the capture. It is safe to call more than once.
	Stop()
	// Done is closed when the capture ends, either by Stop or because the source ran out.
	Done() <-chan struct{}
}

// StaticStream is a Stream over tracks fed by someone else.
type StaticStream struct {
	id     string
	tracks []webrtc.TrackLocal

	once sync.Once
	done chan struct{}
}

var _ Stream = (*StaticStream)(nil)

func NewStaticStream(id string, tracks ...webrtc.TrackLocal) *StaticStream {
	return &StaticStream{
		id:     id,
		tracks: tracks,
		done:   make(chan struct{}),
	}
}

func (s *StaticStream) ID() string {
	return s.id
}

func (s *StaticStream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

func (s *StaticStream) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *StaticStream) Done() <-chan struct{} {
	return s.done
}
