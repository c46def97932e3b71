package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/HMasataka/mirror/internal/projector"
	payload "github.com/HMasataka/mirror/payload/signaling"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/HMasataka/mirror/pkg/media"
	"github.com/HMasataka/mirror/pkg/transport"
	"github.com/gammazero/workerpool"
	"github.com/pion/webrtc/v4"
)

type role int

const (
	roleOfferer role = iota
	roleAnswerer
)

func (r role) String() string {
	if r == roleOfferer {
		return "offerer"
	}
	return "answerer"
}

type event interface {
	isEvent()
}

type candidateEvent struct {
	candidate *webrtc.ICECandidateInit
}

type stateEvent struct {
	state webrtc.PeerConnectionState
}

type trackEvent struct {
	track transport.RemoteTrack
}

type hangUpEvent struct{}

func (candidateEvent) isEvent() {}
func (stateEvent) isEvent()     {}
func (trackEvent) isEvent()     {}
func (hangUpEvent) isEvent()    {}

// Session is one negotiation. All of its state is owned by a single loop
// goroutine; transport callbacks and hang-up requests reach it as events.
type Session struct {
	engine  *Engine
	ref     Ref
	path    string
	role    role
	creator bool
	logger  *slog.Logger

	// generation of the offer this session negotiates. Empty when the peer
	// does not write one.
	generation string

	localCandidates  string
	remoteCandidates string

	lease     *transport.Lease
	stream    media.Stream
	sink      media.Sink
	machine   *projector.Machine
	published bool

	events *directory.Feed[event]
	writes *workerpool.WorkerPool

	appliedDocs map[string]struct{}
	appliedKeys map[string]struct{}

	docCh  <-chan directory.DocumentEvent
	candCh <-chan directory.CollectionEvent
	unsubs []directory.Unsubscribe

	ctx    context.Context
	cancel context.CancelFunc

	status       atomic.Int32
	shutdownOnce sync.Once
	closeOnce    sync.Once
	done         chan struct{}
}

func (e *Engine) newSession(ref Ref, r role, creator bool, generation, local, remote string) *Session {
	path := e.path(ref)
	ctx, cancel := context.WithCancel(e.ctx)

	return &Session{
		engine:           e,
		ref:              ref,
		path:             path,
		role:             r,
		creator:          creator,
		generation:       generation,
		logger:           e.logger.With(slog.String("session_id", ref.ID), slog.String("role", r.String())),
		localCandidates:  directory.Join(path, local),
		remoteCandidates: directory.Join(path, remote),
		machine:          projector.New(),
		events:           directory.NewFeed[event](),
		writes:           workerpool.New(1),
		appliedDocs:      make(map[string]struct{}),
		appliedKeys:      make(map[string]struct{}),
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
}

// ID returns the document ID the session negotiates on.
func (s *Session) ID() string {
	return s.ref.ID
}

// Ref returns the document reference of the session.
func (s *Session) Ref() Ref {
	return s.ref
}

// Status returns the last projected status.
func (s *Session) Status() projector.Status {
	return projector.Status(s.status.Load())
}

// Done is closed after the session has been torn down and its document released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Ended reports whether Done is closed.
func (s *Session) Ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) requestHangUp() {
	s.events.Push(hangUpEvent{})
}

// prepare acquires a transport and routes its callbacks to the session loop.
func (s *Session) prepare() error {
	lease, err := s.engine.transports.Acquire()
	if err != nil {
		return fmt.Errorf("failed to acquire transport: %w", err)
	}
	s.lease = lease

	t := lease.Transport()
	t.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		s.events.Push(candidateEvent{candidate: c})
	})
	t.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.events.Push(stateEvent{state: state})
	})
	t.OnTrack(func(track transport.RemoteTrack) {
		s.events.Push(trackEvent{track: track})
	})

	return nil
}

// start subscribes to the session document and the peer's candidates and
// hands the session to its loop.
func (s *Session) start() error {
	docCh, unsubDoc, err := s.engine.dir.SubscribeDocument(s.ctx, s.path)
	if err != nil {
		return s.engine.check(directory.OpGet, s.path, nil, err)
	}
	s.unsubs = append(s.unsubs, unsubDoc)

	candCh, unsubCand, err := s.engine.dir.SubscribeCollection(s.ctx, s.remoteCandidates)
	if err != nil {
		return s.engine.check(directory.OpList, s.remoteCandidates, nil, err)
	}
	s.unsubs = append(s.unsubs, unsubCand)

	s.docCh = docCh
	s.candCh = candCh

	go s.run()

	return nil
}

// abort ends a session whose setup failed.
func (s *Session) abort() {
	s.shutdown()
	if s.published {
		s.release()
	}
	s.close()
}

func (s *Session) run() {
	defer func() {
		s.shutdown()
		s.close()
	}()

	var streamDone <-chan struct{}
	if s.stream != nil {
		streamDone = s.stream.Done()
	}

	for !s.machine.Status().Terminal() {
		select {
		case <-s.ctx.Done():
			s.apply(projector.HangUpRequested{})

		case ev, ok := <-s.docCh:
			if !ok {
				s.docCh = nil
				s.subscriptionClosed()
				continue
			}
			s.onDocument(ev)

		case ev, ok := <-s.candCh:
			if !ok {
				s.candCh = nil
				s.subscriptionClosed()
				continue
			}
			s.onCandidates(ev)

		case ev, ok := <-s.events.C():
			if !ok {
				s.apply(projector.HangUpRequested{})
				continue
			}
			s.onEvent(ev)

		case <-streamDone:
			streamDone = nil
			s.apply(projector.StreamEnded{})
		}
	}
}

func (s *Session) subscriptionClosed() {
	if s.ctx.Err() != nil {
		s.apply(projector.HangUpRequested{})
		return
	}
	s.apply(projector.SignalingLost{Err: errors.New("subscription closed")})
}

func (s *Session) apply(in projector.Input) {
	t := s.machine.Apply(in)

	if t.Changed() {
		s.status.Store(int32(t.To))
		s.logger.Info("session status changed",
			slog.String("from", t.From.String()),
			slog.String("to", t.To.String()),
			slog.String("cause", t.Cause),
		)
		s.engine.notify(Update{SessionID: s.ref.ID, Ref: s.ref, Transition: t})
	}

	if t.Has(projector.EffectDispose) {
		s.shutdown()
	}
	if t.Has(projector.EffectRelease) {
		s.release()
	}
}

func (s *Session) onEvent(ev event) {
	switch ev := ev.(type) {
	case hangUpEvent:
		s.apply(projector.HangUpRequested{})
	case stateEvent:
		s.apply(projector.TransportStateChanged{State: ev.state})
	case candidateEvent:
		if ev.candidate == nil {
			s.logger.Debug("candidate gathering complete")
			return
		}
		s.publishCandidate(*ev.candidate)
	case trackEvent:
		s.attachTrack(ev.track)
	}
}

func (s *Session) onDocument(ev directory.DocumentEvent) {
	if ev.Err != nil {
		_ = s.engine.check(directory.OpGet, s.path, nil, ev.Err)
		s.apply(projector.SignalingLost{Err: ev.Err})
		return
	}

	if !ev.Doc.Exists {
		s.apply(projector.DirectoryStatusChanged{Exists: false})
		return
	}

	doc, err := payload.Decode(ev.Doc)
	if err != nil {
		s.logger.Warn("ignoring malformed session document", slog.Any("error", err))
		return
	}

	if s.replacedBy(doc) {
		s.logger.Info("offer replaced", slog.String("generation", doc.Generation))
		s.apply(projector.OfferReplaced{})
		return
	}

	if s.role == roleOfferer && doc.Answer != nil {
		t := s.lease.Transport()
		if !t.HasRemoteDescription() {
			if err := t.SetRemoteDescription(*doc.Answer); err != nil {
				s.logger.Error("failed to apply answer", slog.Any("error", err))
				s.apply(projector.SignalingLost{Err: err})
				return
			}
			s.logger.Debug("answer applied")
		}
	}

	s.apply(projector.DirectoryStatusChanged{Status: doc.Status, Exists: true})
}

// replacedBy reports whether doc carries an offer other than the one this
// session negotiates.
func (s *Session) replacedBy(doc payload.SessionDocument) bool {
	return s.generation != "" && doc.Generation != "" && doc.Generation != s.generation
}

// onCandidates applies newly added remote candidates once each. Modified and
// removed entries are ignored, and so are records tagged with another
// generation.
func (s *Session) onCandidates(ev directory.CollectionEvent) {
	if ev.Err != nil {
		_ = s.engine.check(directory.OpList, s.remoteCandidates, nil, ev.Err)
		s.apply(projector.SignalingLost{Err: ev.Err})
		return
	}

	for _, change := range ev.Changes {
		if change.Kind != directory.ChangeAdded {
			continue
		}
		if _, ok := s.appliedDocs[change.Doc.ID]; ok {
			continue
		}
		s.appliedDocs[change.Doc.ID] = struct{}{}

		candidate, err := payload.DecodeCandidate(change.Doc)
		if err != nil {
			s.logger.Warn("ignoring malformed candidate", slog.Any("error", err))
			continue
		}
		if g := payload.CandidateGeneration(change.Doc); g != "" && g != s.generation {
			s.logger.Debug("ignoring candidate of another offer", slog.String("generation", g))
			continue
		}

		key := payload.CandidateKey(candidate)
		if _, ok := s.appliedKeys[key]; ok {
			continue
		}
		s.appliedKeys[key] = struct{}{}

		if err := s.lease.Transport().AddICECandidate(candidate); err != nil {
			s.logger.Warn("failed to add remote candidate", slog.Any("error", err))
		}
	}
}

// publishCandidate appends a local candidate. Failures are reported and
// otherwise ignored.
func (s *Session) publishCandidate(c webrtc.ICECandidateInit) {
	data, err := payload.CandidateData(c, s.generation)
	if err != nil {
		s.logger.Warn("failed to encode candidate", slog.Any("error", err))
		return
	}

	collection := s.localCandidates
	s.writes.Submit(func() {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		defer cancel()

		_, err := s.engine.dir.Create(ctx, collection, data)
		if err := s.engine.check(directory.OpCreate, collection, data, err); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("failed to publish candidate", slog.Any("error", err))
		}
	})
}

// attachTrack adds track to the sink's output stream, creating it on the first track.
func (s *Session) attachTrack(track transport.RemoteTrack) {
	if s.sink == nil {
		s.logger.Debug("no sink for remote track", slog.String("track_id", track.ID()))
		return
	}

	stream := s.sink.Stream()
	if stream == nil {
		stream = media.NewRemoteStream(track.StreamID(), s.lease.Transport())
		s.sink.SetStream(stream)
	}
	stream.AddTrack(track)
}

// shutdown releases everything local: subscriptions, pending writes and the transport.
func (s *Session) shutdown() {
	s.shutdownOnce.Do(func() {
		for _, unsubscribe := range s.unsubs {
			unsubscribe()
		}
		s.events.Close()
		s.cancel()
		s.writes.Stop()
		if s.lease != nil {
			s.lease.Dispose()
		}
	})
}

func (s *Session) release() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), releaseTimeout)
	defer cancel()

	if err := s.engine.release(ctx, s.ref, s.creator, s.generation); err != nil {
		s.logger.Warn("failed to release session document", slog.Any("error", err))
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.engine.clear(s)
		close(s.done)
	})
}
