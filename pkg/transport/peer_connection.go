package transport

import (
	"fmt"
	"log/slog"
	"sync"

	payload "github.com/HMasataka/mirror/payload/signaling"
	"github.com/HMasataka/mirror/pkg/sdpdebug"
	"github.com/gammazero/deque"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// PeerConnection adapts *webrtc.PeerConnection to Transport.
type PeerConnection struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	onCandidate func(*webrtc.ICECandidateInit)
	onTrack     func(RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
	mu          sync.RWMutex

	pendingCandidates deque.Deque[webrtc.ICECandidateInit]
	seenCandidates    map[string]struct{}
	candidatesMu      sync.Mutex
}

var _ Transport = (*PeerConnection)(nil)

// NewPeerConnection builds a pion peer connection from cfg.
func NewPeerConnection(cfg Config, logger *slog.Logger) (*PeerConnection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se, err := cfg.SettingEngine()
	if err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(cfg.Configuration())
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &PeerConnection{
		pc:             pc,
		logger:         logger,
		seenCandidates: make(map[string]struct{}),
	}
	p.setupEventHandlers()

	return p, nil
}

func (p *PeerConnection) setupEventHandlers() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		p.mu.RLock()
		handler := p.onCandidate
		p.mu.RUnlock()

		if handler == nil {
			return
		}
		if c == nil {
			handler(nil)
			return
		}
		candidate := c.ToJSON()
		handler(&candidate)
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.mu.RLock()
		handler := p.onTrack
		p.mu.RUnlock()

		if handler != nil {
			handler(track)
		}
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.RLock()
		handler := p.onState
		p.mu.RUnlock()

		if handler != nil {
			handler(state)
		}
	})
}

// OnICECandidate sets the handler for locally gathered candidates.
func (p *PeerConnection) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = handler
}

// OnTrack sets the handler for incoming remote tracks.
func (p *PeerConnection) OnTrack(handler func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = handler
}

// OnConnectionStateChange sets the handler for connection state changes.
func (p *PeerConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = handler
}

// ClearHandlers detaches every handler.
func (p *PeerConnection) ClearHandlers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = nil
	p.onTrack = nil
	p.onState = nil
}

// AddTrack adds an outgoing track and drains the RTCP its sender receives.
func (p *PeerConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return nil
}

// CreateOffer creates an offer
func (p *PeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return offer, nil
}

// CreateAnswer creates an answer
func (p *PeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return answer, nil
}

// SetLocalDescription sets the local description
func (p *PeerConnection) SetLocalDescription(sd webrtc.SessionDescription) error {
	sdpdebug.Log(p.logger, "local", sd)

	if err := p.pc.SetLocalDescription(sd); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return nil
}

// SetRemoteDescription applies sd and then the candidates queued before it.
func (p *PeerConnection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	sdpdebug.Log(p.logger, "remote", sd)

	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	p.processPendingCandidates()

	return nil
}

// HasRemoteDescription reports whether a remote description has been applied.
func (p *PeerConnection) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

// AddICECandidate ignores candidates it has already seen.
func (p *PeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.candidatesMu.Lock()
	key := payload.CandidateKey(candidate)
	if _, ok := p.seenCandidates[key]; ok {
		p.candidatesMu.Unlock()
		return nil
	}
	p.seenCandidates[key] = struct{}{}

	if p.pc.RemoteDescription() == nil {
		p.pendingCandidates.PushBack(candidate)
		p.candidatesMu.Unlock()
		return nil
	}
	p.candidatesMu.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}

	return nil
}

func (p *PeerConnection) processPendingCandidates() {
	p.candidatesMu.Lock()
	candidates := make([]webrtc.ICECandidateInit, 0, p.pendingCandidates.Len())
	for p.pendingCandidates.Len() > 0 {
		candidates = append(candidates, p.pendingCandidates.PopFront())
	}
	p.candidatesMu.Unlock()

	for _, candidate := range candidates {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			p.logger.Warn("failed to add pending ICE candidate", slog.String("candidate", candidate.Candidate), slog.Any("error", err))
		}
	}
}

// StopTracks stops every sender and receiver.
func (p *PeerConnection) StopTracks() {
	for _, sender := range p.pc.GetSenders() {
		if err := sender.Stop(); err != nil {
			p.logger.Debug("failed to stop sender", slog.Any("error", err))
		}
	}
	for _, receiver := range p.pc.GetReceivers() {
		if err := receiver.Stop(); err != nil {
			p.logger.Debug("failed to stop receiver", slog.Any("error", err))
		}
	}
}

// WriteRTCP writes RTCP packets to the peer
func (p *PeerConnection) WriteRTCP(pkts []rtcp.Packet) error {
	return p.pc.WriteRTCP(pkts)
}

// ConnectionState returns the current connection state
func (p *PeerConnection) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// Close closes the peer connection
func (p *PeerConnection) Close() error {
	return p.pc.Close()
}
