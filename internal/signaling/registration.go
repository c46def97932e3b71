package signaling

import (
	"context"
	"errors"
	"log/slog"

	payload "github.com/HMasataka/mirror/payload/signaling"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/HMasataka/mirror/pkg/media"
)

// Registration is a long-lived receiver document that sharers offer to.
type Registration struct {
	engine *Engine
	id     string
	name   string
	logger *slog.Logger
}

// Advertise publishes a receiver document named name with status available.
func (e *Engine) Advertise(ctx context.Context, name string) (*Registration, error) {
	data := payload.NewRegistration(name)

	id, err := e.dir.Create(ctx, e.cfg.Receivers, data)
	if err := e.check(directory.OpCreate, e.cfg.Receivers, data, err); err != nil {
		return nil, err
	}

	e.milestone(ctx, "receiver advertised", slog.String("target_id", id), slog.String("name", name))

	return &Registration{
		engine: e,
		id:     id,
		name:   name,
		logger: e.logger.With(slog.String("target_id", id)),
	}, nil
}

// ID returns the registration document ID.
func (r *Registration) ID() string {
	return r.id
}

// Ref returns the registration as a session reference.
func (r *Registration) Ref() Ref {
	return ReceiverRef(r.id)
}

// Serve answers every new offer placed on the registration until ctx ends.
// newSink is called once per accepted offer. An offer is answered at most
// once; offers that arrive while another session is in flight are skipped.
func (r *Registration) Serve(ctx context.Context, newSink func() media.Sink) error {
	e := r.engine
	path := e.path(r.Ref())

	ch, unsubscribe, err := e.dir.SubscribeDocument(ctx, path)
	if err != nil {
		return e.check(directory.OpGet, path, nil, err)
	}
	defer unsubscribe()

	// lastOffer is the generation, or the SDP of untagged offers, answered last.
	var lastOffer string

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("signaling: registration subscription closed")
			}
			if ev.Err != nil {
				return e.check(directory.OpGet, path, nil, ev.Err)
			}
			if !ev.Doc.Exists {
				r.logger.Info("registration withdrawn")
				return nil
			}

			doc, err := payload.Decode(ev.Doc)
			if err != nil {
				r.logger.Warn("ignoring malformed registration", slog.Any("error", err))
				continue
			}
			if !doc.HasPendingOffer() {
				if doc.Offer == nil {
					lastOffer = ""
				}
				continue
			}
			if offerKey(doc) == lastOffer {
				continue
			}
			lastOffer = offerKey(doc)

			// A session still on this registration belongs to an earlier
			// offer and is already tearing down.
			if s := e.Current(); s != nil && s.Ref() == r.Ref() {
				select {
				case <-s.Done():
				case <-ctx.Done():
					return nil
				}
			}

			if e.Busy() {
				r.logger.Warn("skipping offer while a session is in flight", slog.String("sharer", doc.DisplayName()))
				continue
			}

			if err := e.AnswerShare(ctx, r.id, newSink()); err != nil {
				r.logger.Error("failed to answer share", slog.Any("error", err))
				continue
			}
		}
	}
}

func offerKey(doc payload.SessionDocument) string {
	if doc.Generation != "" {
		return doc.Generation
	}
	return doc.Offer.SDP
}

// Withdraw ends any session on the registration and deletes its document.
func (r *Registration) Withdraw(ctx context.Context) error {
	e := r.engine

	if s := e.Current(); s != nil && s.Ref() == r.Ref() {
		if err := e.HangUp(ctx, r.Ref(), false); err != nil {
			return err
		}
	}

	path := e.path(r.Ref())
	err := e.dir.Delete(ctx, path)
	if err := e.check(directory.OpDelete, path, nil, err); err != nil {
		return err
	}

	r.logger.Info("registration deleted")

	return nil
}
