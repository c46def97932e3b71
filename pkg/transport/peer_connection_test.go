package transport_test

import (
	"testing"

	"github.com/HMasataka/mirror/pkg/transport"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPeerConnection(t *testing.T) *transport.PeerConnection {
	t.Helper()

	pc, err := transport.NewPeerConnection(transport.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	return pc
}

func TestPeerConnection_Negotiation(t *testing.T) {
	offerer := newTestPeerConnection(t)
	answerer := newTestPeerConnection(t)

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "screen")
	require.NoError(t, err)
	require.NoError(t, offerer.AddTrack(track))

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	require.NoError(t, offerer.SetLocalDescription(offer))

	t.Run("リモート記述の前の候補は保留される", func(t *testing.T) {
		mid := "0"
		candidate := webrtc.ICECandidateInit{
			Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host",
			SDPMid:    &mid,
		}

		assert.False(t, answerer.HasRemoteDescription())
		require.NoError(t, answerer.AddICECandidate(candidate))
		require.NoError(t, answerer.AddICECandidate(candidate))

		require.NoError(t, answerer.SetRemoteDescription(offer))
		assert.True(t, answerer.HasRemoteDescription())
	})

	t.Run("応答の生成", func(t *testing.T) {
		answer, err := answerer.CreateAnswer()
		require.NoError(t, err)
		assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
		require.NoError(t, answerer.SetLocalDescription(answer))

		require.NoError(t, offerer.SetRemoteDescription(answer))
	})

	t.Run("ハンドラの解除", func(t *testing.T) {
		called := false
		offerer.OnConnectionStateChange(func(webrtc.PeerConnectionState) { called = true })
		offerer.ClearHandlers()
		offerer.StopTracks()
		require.NoError(t, offerer.Close())
		assert.False(t, called)
	})
}
