// Package projector folds the shared document status and the local transport
// state of one session into a single status, and decides when to tear down.
package projector

import (
	"fmt"

	"github.com/HMasataka/mirror/payload/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

// Status is the projected state of one session.
type Status int

const (
	StatusIdle Status = iota
	StatusOffering
	StatusConnecting
	StatusConnected
	StatusDisconnected
	StatusFailed
	StatusClosed
)

var terminalStatuses = []Status{StatusDisconnected, StatusFailed, StatusClosed}

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusOffering:
		return "offering"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Describe returns the text shown to the user for s.
func (s Status) Describe() string {
	switch s {
	case StatusIdle:
		return "Waiting for a connection"
	case StatusOffering:
		return "Waiting for a receiver..."
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	case StatusFailed:
		return "Connection Failed. Please try again."
	case StatusClosed:
		return "Connection closed"
	default:
		return s.String()
	}
}

// Terminal reports whether the session is over.
func (s Status) Terminal() bool {
	return lo.Contains(terminalStatuses, s)
}

// Effect is a side effect the caller must perform after a transition.
type Effect int

const (
	// EffectDispose tears down the local transport and ends every subscription.
	EffectDispose Effect = iota
	// EffectRelease clears the shared document: delete, reset or mark disconnected.
	EffectRelease
)

func (e Effect) String() string {
	switch e {
	case EffectDispose:
		return "dispose"
	case EffectRelease:
		return "release"
	default:
		return fmt.Sprintf("Effect(%d)", int(e))
	}
}

// Input is anything that can move the machine.
type Input interface {
	isInput()
}

// DirectoryStatusChanged is a snapshot of the session document.
type DirectoryStatusChanged struct {
	Status signaling.Status
	Exists bool
}

// TransportStateChanged is a connection state reported by the local transport.
type TransportStateChanged struct {
	State webrtc.PeerConnectionState
}

// DocumentWritten reports that the local offer or answer is on the document.
// From then on a missing document means the peer ended the session.
type DocumentWritten struct{}

// OfferReplaced reports that the document now carries another offer. The
// document belongs to the new negotiation and is left untouched.
type OfferReplaced struct{}

// HangUpRequested is a local request to end the session.
type HangUpRequested struct{}

// StreamEnded reports that the local capture stopped.
type StreamEnded struct{}

// SignalingLost reports that negotiation cannot continue: a subscription
// failed or a remote descriptor was rejected.
type SignalingLost struct {
	Err error
}

func (DirectoryStatusChanged) isInput() {}
func (DocumentWritten) isInput()        {}
func (OfferReplaced) isInput()          {}
func (TransportStateChanged) isInput()  {}
func (HangUpRequested) isInput()        {}
func (StreamEnded) isInput()            {}
func (SignalingLost) isInput()          {}

// Transition is the result of applying one input.
type Transition struct {
	From    Status
	To      Status
	Effects []Effect
	Cause   string
}

// Changed reports whether the status moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Has reports whether e must be performed.
func (t Transition) Has(e Effect) bool {
	return lo.Contains(t.Effects, e)
}

var teardown = []Effect{EffectDispose, EffectRelease}

// Machine is not safe for concurrent use. The signaling engine drives each
// instance from its session loop.
type Machine struct {
	status             Status
	engaged            bool
	transportConnected bool
}

// New returns a machine in StatusIdle.
func New() *Machine {
	return &Machine{status: StatusIdle}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.status
}

// Busy reports whether a session is in flight.
func (m *Machine) Busy() bool {
	return m.status != StatusIdle && !m.status.Terminal()
}

// Apply feeds in and returns the resulting transition. Once terminal, every
// input is ignored.
func (m *Machine) Apply(in Input) Transition {
	from := m.status
	if from.Terminal() {
		return Transition{From: from, To: from}
	}

	to, effects, cause := m.next(in)
	m.status = to

	return Transition{From: from, To: to, Effects: effects, Cause: cause}
}

func (m *Machine) next(in Input) (Status, []Effect, string) {
	switch in := in.(type) {
	case HangUpRequested:
		return StatusClosed, teardown, "local hang-up"

	case StreamEnded:
		return StatusClosed, teardown, "capture ended"

	case SignalingLost:
		return StatusFailed, teardown, "signaling lost"

	case DocumentWritten:
		m.engaged = true
		return m.status, nil, ""

	case OfferReplaced:
		return StatusDisconnected, []Effect{EffectDispose}, "offer replaced"

	case TransportStateChanged:
		switch in.State {
		case webrtc.PeerConnectionStateConnected:
			m.transportConnected = true
			m.engaged = true
			return StatusConnected, nil, "transport connected"
		case webrtc.PeerConnectionStateConnecting:
			if m.status == StatusConnected {
				return m.status, nil, ""
			}
			m.engaged = true
			return StatusConnecting, nil, "transport connecting"
		case webrtc.PeerConnectionStateDisconnected:
			return StatusDisconnected, teardown, "transport disconnected"
		case webrtc.PeerConnectionStateFailed:
			return StatusFailed, teardown, "transport failed"
		case webrtc.PeerConnectionStateClosed:
			return StatusClosed, teardown, "transport closed"
		}
		return m.status, nil, ""

	case DirectoryStatusChanged:
		if !in.Exists {
			if m.engaged {
				return StatusClosed, teardown, "document deleted"
			}
			return m.status, nil, ""
		}

		switch in.Status {
		case signaling.StatusOffering:
			m.engaged = true
			if m.status == StatusIdle {
				return StatusOffering, nil, "offer published"
			}
		case signaling.StatusConnecting:
			m.engaged = true
			if m.status == StatusIdle || m.status == StatusOffering {
				return StatusConnecting, nil, "offer delivered"
			}
		case signaling.StatusConnected:
			m.engaged = true
			if m.transportConnected {
				return StatusConnected, nil, "answer published"
			}
			if m.status != StatusConnected {
				return StatusConnecting, nil, "answer published"
			}
		case signaling.StatusDisconnected:
			return StatusDisconnected, teardown, "peer hung up"
		case signaling.StatusFailed:
			return StatusFailed, teardown, "peer failed"
		case signaling.StatusAvailable:
			if m.engaged {
				return StatusDisconnected, teardown, "registration reset"
			}
		}
		return m.status, nil, ""
	}

	return m.status, nil, ""
}
