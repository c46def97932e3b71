package transport

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the part of *webrtc.TrackRemote consumed by sinks.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	SSRC() webrtc.SSRC
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

var _ RemoteTrack = (*webrtc.TrackRemote)(nil)

// Transport is a single peer-to-peer media session.
//
//go:generate mockgen -source transport.go -destination mock/transport.go
type Transport interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sd webrtc.SessionDescription) error
	SetRemoteDescription(sd webrtc.SessionDescription) error
	HasRemoteDescription() bool
	// AddICECandidate queues the candidate until a remote description is set.
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// OnICECandidate receives nil once gathering has completed.
	OnICECandidate(handler func(*webrtc.ICECandidateInit))
	OnTrack(handler func(RemoteTrack))
	OnConnectionStateChange(handler func(webrtc.PeerConnectionState))
	// ClearHandlers detaches every handler so no callback fires afterwards.
	ClearHandlers()

	// StopTracks stops every sender and receiver.
	StopTracks()
	WriteRTCP(pkts []rtcp.Packet) error
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}
