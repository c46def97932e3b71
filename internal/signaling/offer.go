package signaling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HMasataka/mirror/internal/projector"
	payload "github.com/HMasataka/mirror/payload/signaling"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/HMasataka/mirror/pkg/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/xid"
)

// CreateOffer starts a session on a new per-call document and returns its ID
// once the offer has been written.
func (e *Engine) CreateOffer(ctx context.Context, stream media.Stream, deviceName string) (string, error) {
	if err := e.begin(); err != nil {
		return "", err
	}

	s := e.newSession(SessionRef(xid.New().String()), roleOfferer, true, xid.New().String(), e.cfg.CallerCandidates, e.cfg.CalleeCandidates)

	err := e.startOffer(ctx, s, stream, func(ctx context.Context, offer webrtc.SessionDescription) error {
		data := payload.NewSession(deviceName, s.generation, offer)
		return e.writeCritical(ctx, directory.OpSet, s.path, data, func(ctx context.Context) error {
			return e.dir.Set(ctx, s.path, data)
		})
	})
	if err != nil {
		e.end(nil)
		return "", err
	}
	e.end(s)

	e.milestone(ctx, "offer created", slog.String("session_id", s.ID()), slog.String("device_name", deviceName))

	return s.ID(), nil
}

// InitiateShare offers stream to a receiver through its registration document.
// Each share writes a new generation next to its offer, so candidates and
// teardown of earlier shares on the same registration do not affect it.
func (e *Engine) InitiateShare(ctx context.Context, stream media.Stream, targetID, deviceName string) error {
	if err := e.begin(); err != nil {
		return err
	}

	ref := ReceiverRef(targetID)
	if err := e.checkAvailable(ctx, ref); err != nil {
		e.end(nil)
		return err
	}

	s := e.newSession(ref, roleOfferer, false, xid.New().String(), e.cfg.OffererCandidates, e.cfg.AnswererCandidates)

	err := e.startOffer(ctx, s, stream, func(ctx context.Context, offer webrtc.SessionDescription) error {
		data := payload.ShareFields(deviceName, s.generation, offer)
		return e.writeCritical(ctx, directory.OpUpdate, s.path, data, func(ctx context.Context) error {
			return e.dir.Update(ctx, s.path, data)
		})
	})
	if err != nil {
		e.end(nil)
		return err
	}
	e.end(s)

	e.milestone(ctx, "share initiated", slog.String("target_id", targetID), slog.String("device_name", deviceName))

	return nil
}

func (e *Engine) checkAvailable(ctx context.Context, ref Ref) error {
	path := e.path(ref)

	raw, err := e.dir.Get(ctx, path)
	if err := e.check(directory.OpGet, path, nil, err); err != nil {
		return err
	}
	if !raw.Exists {
		return fmt.Errorf("%w: %s does not exist", ErrTargetUnavailable, path)
	}

	doc, err := payload.Decode(raw)
	if err != nil {
		return err
	}
	if doc.Status != payload.StatusAvailable || doc.Offer != nil {
		return fmt.Errorf("%w: %s is %s", ErrTargetUnavailable, path, doc.Status)
	}

	return nil
}

// startOffer attaches stream to a fresh transport, commits a local offer,
// publishes it and starts the session loop. On failure every resource taken
// so far is released.
func (e *Engine) startOffer(ctx context.Context, s *Session, stream media.Stream, publish func(context.Context, webrtc.SessionDescription) error) error {
	s.stream = stream

	if err := s.prepare(); err != nil {
		s.abort()
		return err
	}
	if stream != nil {
		s.lease.Hold(stream)
	}

	t := s.lease.Transport()

	if stream != nil {
		for _, track := range stream.Tracks() {
			if err := t.AddTrack(track); err != nil {
				s.abort()
				return err
			}
		}
	}

	offer, err := t.CreateOffer()
	if err != nil {
		s.abort()
		return err
	}
	if err := t.SetLocalDescription(offer); err != nil {
		s.abort()
		return err
	}

	if err := publish(ctx, offer); err != nil {
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
