package signaling

import (
	"context"
	"errors"
	"log/slog"

	payload "github.com/HMasataka/mirror/payload/signaling"
	"github.com/HMasataka/mirror/pkg/directory"
)

// HangUp ends the local side of a session and clears its document. The local
// transport is always disposed. When this engine runs the session on ref, its
// own loop performs the teardown; otherwise creator decides whether a per-call
// document is deleted or only marked disconnected. A document that no longer
// exists is not an error.
func (e *Engine) HangUp(ctx context.Context, ref Ref, creator bool) error {
	if s := e.Current(); s != nil {
		s.requestHangUp()

		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}

		if s.Ref() == ref {
			return nil
		}
	}

	e.transports.Dispose()

	return e.release(ctx, ref, creator, "")
}

// release deletes or resets the document of ref. A registration that already
// carries an offer of another generation is left alone; an empty generation
// resets unconditionally. Permission rejections are reported and swallowed.
func (e *Engine) release(ctx context.Context, ref Ref, creator bool, generation string) error {
	path := e.path(ref)

	raw, err := e.dir.Get(ctx, path)
	if err := e.check(directory.OpGet, path, nil, err); err != nil {
		return swallowRejected(err)
	}
	if !raw.Exists {
		e.logger.Debug("session document already gone", slog.String("path", path))
		return nil
	}

	doc, decodeErr := payload.Decode(raw)

	var op directory.Operation
	var data directory.Data

	switch {
	case ref.Kind == KindReceiver:
		if decodeErr == nil && doc.Status == payload.StatusAvailable && doc.Offer == nil && doc.Answer == nil {
			return nil
		}
		if decodeErr == nil && generation != "" && doc.Offer != nil && doc.Generation != generation {
			e.logger.Debug("registration carries a newer offer", slog.String("path", path), slog.String("generation", doc.Generation))
			return nil
		}
		op, data = directory.OpUpdate, payload.ResetFields()
		err = e.dir.Update(ctx, path, data)

	case creator:
		op = directory.OpDelete
		err = e.dir.Delete(ctx, path)

	default:
		if decodeErr == nil && doc.Status.Terminal() {
			return nil
		}
		op, data = directory.OpUpdate, payload.StatusFields(payload.StatusDisconnected)
		err = e.dir.Update(ctx, path, data)
	}

	if errors.Is(err, directory.ErrNotFound) {
		return nil
	}

	return swallowRejected(e.check(op, path, data, err))
}

func swallowRejected(err error) error {
	if directory.IsPermissionDenied(err) {
		return nil
	}
	return err
}
