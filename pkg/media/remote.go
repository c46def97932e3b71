package media

import (
	"sync"

	"github.com/HMasataka/mirror/pkg/transport"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// RTCPWriter sends feedback to the remote sender.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// RemoteStream groups the incoming tracks of one session.
type RemoteStream struct {
	id     string
	writer RTCPWriter

	mu     sync.Mutex
	tracks []transport.RemoteTrack
	onAdd  func(transport.RemoteTrack)
}

func NewRemoteStream(id string, writer RTCPWriter) *RemoteStream {
	return &RemoteStream{id: id, writer: writer}
}

func (s *RemoteStream) ID() string {
	return s.id
}

func (s *RemoteStream) Tracks() []transport.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.RemoteTrack(nil), s.tracks...)
}

// AddTrack appends track and notifies the OnAddTrack handler.
func (s *RemoteStream) AddTrack(track transport.RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	handler := s.onAdd
	s.mu.Unlock()

	if handler != nil {
		handler(track)
	}
}

// OnAddTrack sets the handler called for each track added afterwards.
func (s *RemoteStream) OnAddTrack(handler func(transport.RemoteTrack)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdd = handler
}

// RequestKeyframe asks the sender of ssrc for a new keyframe.
func (s *RemoteStream) RequestKeyframe(ssrc webrtc.SSRC) error {
	if s.writer == nil {
		return nil
	}
	return s.writer.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
}

// Sink is where the tracks of an incoming session are attached. The output
// stream is created lazily when the first track arrives.
type Sink interface {
	Stream() *RemoteStream
	SetStream(s *RemoteStream)
}
