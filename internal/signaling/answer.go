package signaling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HMasataka/mirror/internal/projector"
	payload "github.com/HMasataka/mirror/payload/signaling"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/HMasataka/mirror/pkg/media"
)

// AnswerOffer answers the per-call session sessionID and attaches the remote
// tracks to sink.
func (e *Engine) AnswerOffer(ctx context.Context, sessionID string, sink media.Sink) error {
	return e.answer(ctx, SessionRef(sessionID), sink, e.cfg.CalleeCandidates, e.cfg.CallerCandidates)
}

// AnswerShare answers an offer placed on the registration targetID.
func (e *Engine) AnswerShare(ctx context.Context, targetID string, sink media.Sink) error {
	return e.answer(ctx, ReceiverRef(targetID), sink, e.cfg.AnswererCandidates, e.cfg.OffererCandidates)
}

func (e *Engine) answer(ctx context.Context, ref Ref, sink media.Sink, local, remote string) error {
	if err := e.begin(); err != nil {
		return err
	}

	doc, err := e.answerable(ctx, ref)
	if err != nil {
		e.end(nil)
		return err
	}

	s := e.newSession(ref, roleAnswerer, false, doc.Generation, local, remote)
	s.sink = sink

	if err := e.startAnswer(ctx, s, doc); err != nil {
		e.end(nil)
		return err
	}
	e.end(s)

	e.milestone(ctx, "offer answered", slog.String("session_id", ref.ID), slog.String("offerer", doc.DisplayName()))

	return nil
}

// answerable loads the document and checks that it holds an offer nobody has answered.
func (e *Engine) answerable(ctx context.Context, ref Ref) (payload.SessionDocument, error) {
	path := e.path(ref)

	raw, err := e.dir.Get(ctx, path)
	if err := e.check(directory.OpGet, path, nil, err); err != nil {
		return payload.SessionDocument{}, err
	}
	if !raw.Exists {
		e.logger.Error("no offer to answer", slog.String("path", path))
		return payload.SessionDocument{}, fmt.Errorf("%w: %s does not exist", ErrNoOffer, path)
	}

	doc, err := payload.Decode(raw)
	if err != nil {
		return payload.SessionDocument{}, err
	}

	switch {
	case doc.Answer != nil:
		return payload.SessionDocument{}, fmt.Errorf("%w: %s", ErrAlreadyAnswered, path)
	case doc.Status.Terminal():
		return payload.SessionDocument{}, fmt.Errorf("%w: %s is %s", ErrSessionEnded, path, doc.Status)
	case doc.Offer == nil:
		e.logger.Error("no offer to answer", slog.String("path", path))
		return payload.SessionDocument{}, fmt.Errorf("%w: %s", ErrNoOffer, path)
	}

	return doc, nil
}

func (e *Engine) startAnswer(ctx context.Context, s *Session, doc payload.SessionDocument) error {
	if err := s.prepare(); err != nil {
		s.abort()
		return err
	}

	t := s.lease.Transport()

	if err := t.SetRemoteDescription(*doc.Offer); err != nil {
		s.abort()
		return err
	}

	answer, err := t.CreateAnswer()
	if err != nil {
		s.abort()
		return err
	}
	if err := t.SetLocalDescription(answer); err != nil {
		s.abort()
		return err
	}

	data := payload.AnswerFields(answer)
	err = e.writeCritical(ctx, directory.OpUpdate, s.path, data, func(ctx context.Context) error {
		return e.dir.Update(ctx, s.path, data)
	})
	if err != nil {
		s.abort()
		return fmt.Errorf("%w: %w", ErrShareFailed, err)
	}
	s.published = true
	s.apply(projector.DocumentWritten{})

	if err := s.start(); err != nil {
		s.abort()
		return fmt.Errorf("%w: %w", ErrShareFailed, err)
	}

	return nil
}
