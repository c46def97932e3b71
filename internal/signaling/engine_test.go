package signaling_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/mirror/internal/projector"
	"github.com/HMasataka/mirror/internal/reporter"
	"github.com/HMasataka/mirror/internal/signaling"
	payload "github.com/HMasataka/mirror/payload/signaling"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/HMasataka/mirror/pkg/directory/memdir"
	"github.com/HMasataka/mirror/pkg/media"
	"github.com/HMasataka/mirror/pkg/transport"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeTransport struct {
	name string
	seq  int

	mu          sync.Mutex
	tracks      []webrtc.TrackLocal
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	remoteSets  int
	candidates  []webrtc.ICECandidateInit
	onCandidate func(*webrtc.ICECandidateInit)
	onTrack     func(transport.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
	state       webrtc.PeerConnectionState
	closed      int
}

var _ transport.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("v=0 offer %s %d", f.name, f.seq)}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("v=0 answer %s %d", f.name, f.seq)}, nil
}

func (f *fakeTransport) SetLocalDescription(sd webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = &sd
	return nil
}

func (f *fakeTransport) SetRemoteDescription(sd webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &sd
	f.remoteSets++
	return nil
}

func (f *fakeTransport) HasRemoteDescription() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote != nil
}

func (f *fakeTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeTransport) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = handler
}

func (f *fakeTransport) OnTrack(handler func(transport.RemoteTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = handler
}

func (f *fakeTransport) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = handler
}

func (f *fakeTransport) ClearHandlers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = nil
	f.onTrack = nil
	f.onState = nil
}

func (f *fakeTransport) StopTracks() {}

func (f *fakeTransport) WriteRTCP([]rtcp.Packet) error {
	return nil
}

func (f *fakeTransport) ConnectionState() webrtc.PeerConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.state = webrtc.PeerConnectionStateClosed
	return nil
}

func (f *fakeTransport) emitState(state webrtc.PeerConnectionState) {
	f.mu.Lock()
	f.state = state
	handler := f.onState
	f.mu.Unlock()

	if handler != nil {
		handler(state)
	}
}

func (f *fakeTransport) emitCandidate(c *webrtc.ICECandidateInit) {
	f.mu.Lock()
	handler := f.onCandidate
	f.mu.Unlock()

	if handler != nil {
		handler(c)
	}
}

func (f *fakeTransport) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) Remote() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakeTransport) Local() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeTransport) Tracks() []webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), f.tracks...)
}

func (f *fakeTransport) RemoteSets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteSets
}

func (f *fakeTransport) Candidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

type peer struct {
	engine     *signaling.Engine
	manager    *transport.Manager
	reporter   *reporter.Reporter
	name       string
	mu         sync.Mutex
	transports []*fakeTransport
	statuses   []projector.Status
}

func newPeer(t *testing.T, dir directory.Directory, name string) *peer {
	t.Helper()

	p := &peer{name: name, reporter: reporter.New(nil)}
	p.manager = transport.NewManager(transport.DefaultConfig(), transport.WithFactory(func() (transport.Transport, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		f := &fakeTransport{name: name, seq: len(p.transports) + 1, state: webrtc.PeerConnectionStateNew}
		p.transports = append(p.transports, f)
		return f, nil
	}))

	cfg := signaling.DefaultConfig()
	cfg.ListDebounce = 10 * time.Millisecond
	cfg.Retry.Attempts = 1

	p.engine = signaling.New(dir, p.manager, cfg,
		signaling.WithReporter(p.reporter),
		signaling.WithStatusHandler(func(u signaling.Update) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.statuses = append(p.statuses, u.Transition.To)
		}),
	)

	t.Cleanup(func() {
		_ = p.engine.Close()
		p.reporter.Close()
	})

	return p
}

func (p *peer) transport(t *testing.T) *fakeTransport {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.transports, "%s has no transport", p.name)
	return p.transports[len(p.transports)-1]
}

func (p *peer) transportCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports)
}

func (p *peer) sawStatus(s projector.Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, got := range p.statuses {
		if got == s {
			return true
		}
	}
	return false
}

func (p *peer) idle() bool {
	return !p.engine.Busy()
}

func getDoc(t *testing.T, dir directory.Directory, path string) directory.Document {
	t.Helper()
	doc, err := dir.Get(context.Background(), path)
	require.NoError(t, err)
	return doc
}

func decodeDoc(t *testing.T, dir directory.Directory, path string) payload.SessionDocument {
	t.Helper()
	doc, err := payload.Decode(getDoc(t, dir, path))
	require.NoError(t, err)
	return doc
}

func newDir(t *testing.T, opts ...memdir.Option) *memdir.Store {
	t.Helper()
	dir := memdir.New(opts...)
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

func TestEngine_OfferAnswer(t *testing.T) {
	ctx := context.Background()
	dir := newDir(t)
	offerer := newPeer(t, dir, "offerer")
	answerer := newPeer(t, dir, "answerer")

	id, err := offerer.engine.CreateOffer(ctx, nil, "Living Room TV")
	require.NoError(t, err)
	path := directory.Join("connections", id)

	t.Run("オファーを含むセッションが作成される", func(t *testing.T) {
		doc := decodeDoc(t, dir, path)
		assert.Equal(t, payload.StatusOffering, doc.Status)
		assert.Equal(t, "Living Room TV", doc.InitiatorName)
		require.NotNil(t, doc.Offer)
		assert.Equal(t, webrtc.SDPTypeOffer, doc.Offer.Type)
		assert.False(t, doc.CreatedAt.IsZero())

		require.Eventually(t, func() bool { return offerer.sawStatus(projector.StatusOffering) }, waitFor, 5*time.Millisecond)
	})

	t.Run("応答するとconnectedになりアンサーが適用される", func(t *testing.T) {
		require.NoError(t, answerer.engine.AnswerOffer(ctx, id, nil))

		doc := decodeDoc(t, dir, path)
		assert.Equal(t, payload.StatusConnected, doc.Status)
		require.NotNil(t, doc.Answer)
		assert.Equal(t, webrtc.SDPTypeAnswer, doc.Answer.Type)

		remote := answerer.transport(t).Remote()
		require.NotNil(t, remote)
		assert.Equal(t, offerer.transport(t).Local().SDP, remote.SDP)
		assert.Equal(t, doc.Offer.SDP, remote.SDP)

		require.Eventually(t, func() bool {
			r := offerer.transport(t).Remote()
			return r != nil && r.SDP == answerer.transport(t).Local().SDP
		}, waitFor, 5*time.Millisecond)
	})

	t.Run("候補が相手側に届く", func(t *testing.T) {
		mid := "0"
		offerer.transport(t).emitCandidate(&webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid})
		answerer.transport(t).emitCandidate(&webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 1 10.0.0.2 5000 typ host", SDPMid: &mid})
		offerer.transport(t).emitCandidate(nil)

		require.Eventually(t, func() bool { return len(answerer.transport(t).Candidates()) == 1 }, waitFor, 5*time.Millisecond)
		require.Eventually(t, func() bool { return len(offerer.transport(t).Candidates()) == 1 }, waitFor, 5*time.Millisecond)
		assert.Equal(t, "candidate:1 1 udp 1 10.0.0.1 5000 typ host", answerer.transport(t).Candidates()[0].Candidate)
	})

	t.Run("両側のトランスポートが接続するとconnectedになる", func(t *testing.T) {
		offerer.transport(t).emitState(webrtc.PeerConnectionStateConnected)
		answerer.transport(t).emitState(webrtc.PeerConnectionStateConnected)

		require.Eventually(t, func() bool {
			return offerer.engine.Current() != nil && offerer.engine.Current().Status() == projector.StatusConnected
		}, waitFor, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			return answerer.engine.Current() != nil && answerer.engine.Current().Status() == projector.StatusConnected
		}, waitFor, 5*time.Millisecond)
	})

	t.Run("アンサーは一度だけ適用される", func(t *testing.T) {
		assert.Equal(t, 1, offerer.transport(t).RemoteSets())
	})
}

func TestEngine_TransportFailureConverges(t *testing.T) {
	ctx := context.Background()
	dir := newDir(t)
	offerer := newPeer(t, dir, "offerer")
	answerer := newPeer(t, dir, "answerer")

	id, err := offerer.engine.CreateOffer(ctx, nil, "Laptop")
	require.NoError(t, err)
	require.NoError(t, answerer.engine.AnswerOffer(ctx, id, nil))
	path := directory.Join("connections", id)

	answerer.transport(t).emitState(webrtc.PeerConnectionStateFailed)

	require.Eventually(t, answerer.idle, waitFor, 5*time.Millisecond)
	require.Eventually(t, offerer.idle, waitFor, 5*time.Millisecond)

	assert.True(t, answerer.sawStatus(projector.StatusFailed))
	assert.True(t, offerer.sawStatus(projector.StatusDisconnected))

	assert.Equal(t, 1, answerer.transport(t).Closed())
	assert.Equal(t, 1, offerer.transport(t).Closed())

	require.Eventually(t, func() bool { return !getDoc(t, dir, path).Exists }, waitFor, 5*time.Millisecond)

	t.Run("終了後に再度開始できる", func(t *testing.T) {
		_, err := offerer.engine.CreateOffer(ctx, nil, "Laptop")
		require.NoError(t, err)
		assert.Equal(t, 2, offerer.transportCount())
	})
}

func TestEngine_HangUp(t *testing.T) {
	ctx := context.Background()

	t.Run("作成者のハングアップはドキュメントを削除し相手も終了する", func(t *testing.T) {
		dir := newDir(t)
		offerer := newPeer(t, dir, "offerer")
		answerer := newPeer(t, dir, "answerer")

		id, err := offerer.engine.CreateOffer(ctx, nil, "Laptop")
		require.NoError(t, err)
		require.NoError(t, answerer.engine.AnswerOffer(ctx, id, nil))

		require.NoError(t, offerer.engine.HangUp(ctx, signaling.SessionRef(id), true))

		assert.False(t, getDoc(t, dir, directory.Join("connections", id)).Exists)
		assert.Equal(t, 1, offerer.transport(t).Closed())

		require.Eventually(t, answerer.idle, waitFor, 5*time.Millisecond)
		assert.Equal(t, 1, answerer.transport(t).Closed())
		assert.True(t, answerer.sawStatus(projector.StatusClosed))
	})

	t.Run("存在しないドキュメントでもエラーにならずトランスポートは破棄される", func(t *testing.T) {
		dir := newDir(t)
		p := newPeer(t, dir, "p")

		lease, err := p.manager.Acquire()
		require.NoError(t, err)

		require.NoError(t, p.engine.HangUp(ctx, signaling.SessionRef("gone"), true))

		select {
		case <-lease.Disposed():
		case <-time.After(waitFor):
			t.Fatal("transport not disposed")
		}
		assert.Equal(t, 1, p.transport(t).Closed())
	})

	t.Run("作成者でない側のハングアップはdisconnectedを書き込む", func(t *testing.T) {
		dir := newDir(t)
		require.NoError(t, dir.Set(ctx, "connections/x", directory.Data{"status": "connected"}))

		p := newPeer(t, dir, "p")
		require.NoError(t, p.engine.HangUp(ctx, signaling.SessionRef("x"), false))

		assert.Equal(t, payload.StatusDisconnected, decodeDoc(t, dir, "connections/x").Status)
	})
}

func TestEngine_CandidateChanges(t *testing.T) {
	ctx := context.Background()
	dir := newDir(t)
	offerer := newPeer(t, dir, "offerer")

	id, err := offerer.engine.CreateOffer(ctx, nil, "Laptop")
	require.NoError(t, err)

	callee := directory.Join("connections", id, "calleeCandidates")
	data, err := payload.CandidateData(webrtc.ICECandidateInit{Candidate: "candidate:9 1 udp 1 10.0.0.9 5000 typ host"}, "")
	require.NoError(t, err)

	first, err := dir.Create(ctx, callee, data)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(offerer.transport(t).Candidates()) == 1 }, waitFor, 5*time.Millisecond)

	t.Run("removedは無視される", func(t *testing.T) {
		require.NoError(t, dir.Delete(ctx, directory.Join(callee, first)))
		time.Sleep(50 * time.Millisecond)
		assert.Len(t, offerer.transport(t).Candidates(), 1)
	})

	t.Run("同じ候補の再送は一度しか適用されない", func(t *testing.T) {
		_, err := dir.Create(ctx, callee, data)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		assert.Len(t, offerer.transport(t).Candidates(), 1)
	})

	t.Run("不正な候補は無視される", func(t *testing.T) {
		_, err := dir.Create(ctx, callee, directory.Data{"candidate": ""})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		assert.Len(t, offerer.transport(t).Candidates(), 1)
		assert.NotNil(t, offerer.engine.Current())
	})
}

func TestEngine_AnswerPreconditions(t *testing.T) {
	ctx := context.Background()
	dir := newDir(t)
	offerer := newPeer(t, dir, "offerer")
	answerer := newPeer(t, dir, "answerer")
	late := newPeer(t, dir, "late")

	t.Run("オファーがなければErrNoOffer", func(t *testing.T) {
		err := answerer.engine.AnswerOffer(ctx, "missing", nil)
		assert.ErrorIs(t, err, signaling.ErrNoOffer)
		assert.False(t, answerer.engine.Busy())
		assert.Zero(t, answerer.transportCount())
	})

	id, err := offerer.engine.CreateOffer(ctx, nil, "Laptop")
	require.NoError(t, err)
	require.NoError(t, answerer.engine.AnswerOffer(ctx, id, nil))
	path := directory.Join("connections", id)
	answered := decodeDoc(t, dir, path).Answer

	t.Run("二度目の応答は拒否されアンサーは変わらない", func(t *testing.T) {
		err := late.engine.AnswerOffer(ctx, id, nil)
		assert.ErrorIs(t, err, signaling.ErrAlreadyAnswered)
		assert.Equal(t, answered, decodeDoc(t, dir, path).Answer)
		assert.Zero(t, late.transportCount())
	})

	t.Run("実行中の開始はErrSessionInFlight", func(t *testing.T) {
		_, err := offerer.engine.CreateOffer(ctx, nil, "Laptop")
		assert.ErrorIs(t, err, signaling.ErrSessionInFlight)
		assert.Equal(t, 1, offerer.transportCount())
	})

	t.Run("終了したセッションには応答できない", func(t *testing.T) {
		require.NoError(t, dir.Set(ctx, "connections/ended", directory.Data{"status": "disconnected"}))
		err := late.engine.AnswerOffer(ctx, "ended", nil)
		assert.ErrorIs(t, err, signaling.ErrSessionEnded)
	})
}

func TestEngine_CriticalWriteRejected(t *testing.T) {
	ctx := context.Background()
	denySessions := func(op directory.Operation, p string, _ directory.Data) error {
		if op == directory.OpSet {
			return directory.ErrPermissionDenied
		}
		return nil
	}
	dir := newDir(t, memdir.WithRules(denySessions))
	p := newPeer(t, dir, "p")

	var mu sync.Mutex
	var reported []reporter.PermissionError
	p.reporter.Subscribe(func(e reporter.PermissionError) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, e)
	})

	_, err := p.engine.CreateOffer(ctx, nil, "Laptop")
	require.Error(t, err)
	assert.ErrorIs(t, err, signaling.ErrShareFailed)
	assert.True(t, directory.IsPermissionDenied(err))

	var perr *reporter.PermissionError
	assert.True(t, errors.As(err, &perr))

	assert.False(t, p.engine.Busy())
	assert.Equal(t, 1, p.transport(t).Closed())
	assert.Zero(t, dir.Len())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, directory.OpSet, reported[0].Operation)
}

func TestEngine_CandidateWriteRejected(t *testing.T) {
	ctx := context.Background()
	denyCandidates := func(op directory.Operation, _ string, _ directory.Data) error {
		if op == directory.OpCreate {
			return directory.ErrPermissionDenied
		}
		return nil
	}
	dir := newDir(t, memdir.WithRules(denyCandidates))
	p := newPeer(t, dir, "p")

	reported := make(chan reporter.PermissionError, 1)
	p.reporter.Subscribe(func(e reporter.PermissionError) {
		reported <- e
	})

	_, err := p.engine.CreateOffer(ctx, nil, "Laptop")
	require.NoError(t, err)

	p.transport(t).emitCandidate(&webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})

	select {
	case e := <-reported:
		assert.Equal(t, directory.OpCreate, e.Operation)
		assert.Contains(t, e.Path, "callerCandidates")
	case <-time.After(waitFor):
		t.Fatal("rejected candidate write not reported")
	}

	assert.True(t, p.engine.Busy())
}

func TestEngine_StreamEnded(t *testing.T) {
	ctx := context.Background()
	dir := newDir(t)
	p := newPeer(t, dir, "p")

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "screen")
	require.NoError(t, err)
	stream := media.NewStaticStream("screen", track)

	id, err := p.engine.CreateOffer(ctx, stream, "Laptop")
	require.NoError(t, err)
	assert.Len(t, p.transport(t).Tracks(), 1)

	stream.Stop()

	require.Eventually(t, p.idle, waitFor, 5*time.Millisecond)
	assert.True(t, p.sawStatus(projector.StatusClosed))
	assert.False(t, getDoc(t, dir, directory.Join("connections", id)).Exists)
}

func TestEngine_Registration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := newDir(t)
	receiver := newPeer(t, dir, "receiver")
	sharer := newPeer(t, dir, "sharer")

	reg, err := receiver.engine.Advertise(ctx, "Living Room TV")
	require.NoError(t, err)
	path := directory.Join("receivers", reg.ID())

	served := make(chan error, 1)
	go func() {
		served <- reg.Serve(ctx, func() media.Sink { return nil })
	}()

	t.Run("登録ドキュメントはavailable", func(t *testing.T) {
		doc := decodeDoc(t, dir, path)
		assert.Equal(t, payload.StatusAvailable, doc.Status)
		assert.Equal(t, "Living Room TV", doc.Name)
		assert.Nil(t, doc.Offer)
	})

	t.Run("共有すると受信側が一度だけ応答する", func(t *testing.T) {
		require.NoError(t, sharer.engine.InitiateShare(ctx, nil, reg.ID(), "Laptop"))

		require.Eventually(t, func() bool {
			doc := decodeDoc(t, dir, path)
			return doc.Status == payload.StatusConnected && doc.Answer != nil
		}, waitFor, 5*time.Millisecond)

		doc := decodeDoc(t, dir, path)
		assert.Equal(t, "Laptop", doc.SharerDeviceName)
		assert.Equal(t, 1, receiver.transportCount())

		require.Eventually(t, func() bool { return sharer.transport(t).Remote() != nil }, waitFor, 5*time.Millisecond)
	})

	t.Run("利用中の登録には共有できない", func(t *testing.T) {
		other := newPeer(t, dir, "other")
		err := other.engine.InitiateShare(ctx, nil, reg.ID(), "Phone")
		assert.ErrorIs(t, err, signaling.ErrTargetUnavailable)
	})

	t.Run("ハングアップで登録はリセットされ再応答しない", func(t *testing.T) {
		require.NoError(t, sharer.engine.HangUp(ctx, reg.Ref(), false))

		doc := decodeDoc(t, dir, path)
		assert.Equal(t, payload.StatusAvailable, doc.Status)
		assert.Nil(t, doc.Offer)
		assert.Nil(t, doc.Answer)
		assert.Empty(t, doc.SharerDeviceName)

		require.Eventually(t, receiver.idle, waitFor, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, receiver.transportCount())
		assert.Equal(t, 1, receiver.transport(t).Closed())
	})

	t.Run("リセット後は再び共有できる", func(t *testing.T) {
		require.NoError(t, sharer.engine.InitiateShare(ctx, nil, reg.ID(), "Laptop"))
		require.Eventually(t, func() bool { return receiver.transportCount() == 2 }, waitFor, 5*time.Millisecond)
	})

	t.Run("Withdrawで登録が削除されServeが終了する", func(t *testing.T) {
		require.NoError(t, reg.Withdraw(ctx))
		assert.False(t, getDoc(t, dir, path).Exists)

		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("Serve did not return")
		}

		require.Eventually(t, sharer.idle, waitFor, 5*time.Millisecond)
	})
}

func TestEngine_Reshare(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := newDir(t)
	receiver := newPeer(t, dir, "receiver")
	sharer := newPeer(t, dir, "sharer")

	reg, err := receiver.engine.Advertise(ctx, "Living Room TV")
	require.NoError(t, err)
	path := directory.Join("receivers", reg.ID())

	go func() {
		_ = reg.Serve(ctx, func() media.Sink { return nil })
	}()

	answered := func(n int) func() bool {
		return func() bool {
			doc := decodeDoc(t, dir, path)
			return receiver.transportCount() == n && doc.Status == payload.StatusConnected && doc.Answer != nil
		}
	}

	require.NoError(t, sharer.engine.InitiateShare(ctx, nil, reg.ID(), "Laptop"))
	require.Eventually(t, answered(1), waitFor, 5*time.Millisecond)
	first := decodeDoc(t, dir, path).Generation
	require.NotEmpty(t, first)

	old := "candidate:1 1 udp 1 10.0.0.1 5000 typ host"
	sharer.transport(t).emitCandidate(&webrtc.ICECandidateInit{Candidate: old})
	require.Eventually(t, func() bool { return len(receiver.transport(t).Candidates()) == 1 }, waitFor, 5*time.Millisecond)

	t.Run("直後の再共有は前のセッションの後始末で消されない", func(t *testing.T) {
		require.NoError(t, sharer.engine.HangUp(ctx, reg.Ref(), false))
		require.NoError(t, sharer.engine.InitiateShare(ctx, nil, reg.ID(), "Laptop"))

		require.Eventually(t, answered(2), waitFor, 5*time.Millisecond)

		time.Sleep(100 * time.Millisecond)
		doc := decodeDoc(t, dir, path)
		assert.Equal(t, payload.StatusConnected, doc.Status)
		assert.NotEqual(t, first, doc.Generation)
		require.NotNil(t, doc.Offer)
		assert.Equal(t, sharer.transport(t).Local().SDP, doc.Offer.SDP)

		assert.NotNil(t, sharer.engine.Current())
		assert.NotNil(t, receiver.engine.Current())
	})

	t.Run("前の共有の候補は新しいトランスポートに渡らない", func(t *testing.T) {
		assert.Empty(t, receiver.transport(t).Candidates())

		fresh := "candidate:2 1 udp 1 10.0.0.2 5000 typ host"
		sharer.transport(t).emitCandidate(&webrtc.ICECandidateInit{Candidate: fresh})

		require.Eventually(t, func() bool { return len(receiver.transport(t).Candidates()) == 1 }, waitFor, 5*time.Millisecond)
		assert.Equal(t, fresh, receiver.transport(t).Candidates()[0].Candidate)
	})
}

// answerThenGone deletes a session document right after it is answered, as if
// the offerer hung up before the answerer subscribed.
type answerThenGone struct {
	*memdir.Store
}

func (d answerThenGone) Update(ctx context.Context, docPath string, data directory.Data) error {
	if err := d.Store.Update(ctx, docPath, data); err != nil {
		return err
	}
	if _, ok := data[payload.FieldAnswer]; ok {
		return d.Store.Delete(ctx, docPath)
	}
	return nil
}

func TestEngine_DocumentGoneAfterAnswer(t *testing.T) {
	ctx := context.Background()
	dir := newDir(t)
	offerer := newPeer(t, dir, "offerer")
	answerer := newPeer(t, answerThenGone{Store: dir}, "answerer")

	id, err := offerer.engine.CreateOffer(ctx, nil, "Laptop")
	require.NoError(t, err)
	require.NoError(t, answerer.engine.AnswerOffer(ctx, id, nil))

	require.Eventually(t, answerer.idle, waitFor, 5*time.Millisecond)
	assert.True(t, answerer.sawStatus(projector.StatusClosed))
	assert.Equal(t, 1, answerer.transport(t).Closed())

	require.Eventually(t, offerer.idle, waitFor, 5*time.Millisecond)
}

func TestEngine_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := newDir(t)
	offerer := newPeer(t, dir, "offerer")
	viewer := newPeer(t, dir, "viewer")

	t.Run("待機中のオファーが一覧される", func(t *testing.T) {
		offers := make(chan []signaling.Offer, 16)
		go func() {
			_ = viewer.engine.WatchOffers(ctx, func(list []signaling.Offer) { offers <- list })
		}()

		_, err := offerer.engine.CreateOffer(ctx, nil, "Living Room TV")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			select {
			case list := <-offers:
				return len(list) == 1 && list[0].InitiatorName == "Living Room TV"
			default:
				return false
			}
		}, waitFor, 5*time.Millisecond)
	})

	t.Run("利用可能な受信側が一覧される", func(t *testing.T) {
		_, err := viewer.engine.Advertise(ctx, "Bedroom")
		require.NoError(t, err)
		require.NoError(t, dir.Set(ctx, "receivers/busy", directory.Data{"status": "connected", "name": "Kitchen"}))

		receivers := make(chan []signaling.Receiver, 16)
		go func() {
			_ = offerer.engine.WatchReceivers(ctx, func(list []signaling.Receiver) { receivers <- list })
		}()

		select {
		case list := <-receivers:
			require.Len(t, list, 1)
			assert.Equal(t, "Bedroom", list[0].Name)
		case <-time.After(waitFor):
			t.Fatal("no receiver list")
		}
	})
}
