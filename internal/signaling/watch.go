package signaling

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	payload "github.com/HMasataka/mirror/payload/signaling"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/bep/debounce"
	"github.com/samber/lo"
)

// Offer is a per-call session waiting for a receiver.
type Offer struct {
	ID            string
	InitiatorName string
	CreatedAt     time.Time
}

// Receiver is a registration that can take a share.
type Receiver struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// WatchOffers calls fn with the sessions still waiting for an answer, oldest
// first, whenever that list changes. It blocks until ctx ends.
func (e *Engine) WatchOffers(ctx context.Context, fn func([]Offer)) error {
	return e.watch(ctx, e.cfg.Sessions, func(docs []payload.SessionDocument) {
		waiting := lo.Filter(docs, func(d payload.SessionDocument, _ int) bool {
			return d.Status == payload.StatusOffering && d.Offer != nil && d.Answer == nil
		})
		fn(lo.Map(waiting, func(d payload.SessionDocument, _ int) Offer {
			return Offer{ID: d.ID, InitiatorName: d.DisplayName(), CreatedAt: d.CreatedAt}
		}))
	})
}

// WatchReceivers calls fn with the registrations that are available, oldest
// first, whenever that list changes. It blocks until ctx ends.
func (e *Engine) WatchReceivers(ctx context.Context, fn func([]Receiver)) error {
	return e.watch(ctx, e.cfg.Receivers, func(docs []payload.SessionDocument) {
		available := lo.Filter(docs, func(d payload.SessionDocument, _ int) bool {
			return d.Status == payload.StatusAvailable && d.Offer == nil
		})
		fn(lo.Map(available, func(d payload.SessionDocument, _ int) Receiver {
			return Receiver{ID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt}
		}))
	})
}

func (e *Engine) watch(ctx context.Context, collection string, fn func([]payload.SessionDocument)) error {
	ch, unsubscribe, err := e.dir.SubscribeCollection(ctx, collection)
	if err != nil {
		return e.check(directory.OpList, collection, nil, err)
	}
	defer unsubscribe()

	var (
		mu      sync.Mutex
		stopped bool
	)
	docs := make(map[string]payload.SessionDocument)
	defer func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}()

	// publish runs on the debounce timer and holds mu so that no list is
	// delivered after watch returns.
	publish := func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}

		list := lo.Values(docs)

		slices.SortFunc(list, func(a, b payload.SessionDocument) int {
			return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
		})
		fn(list)
	}

	debounced := debounce.New(e.cfg.ListDebounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("signaling: list subscription closed")
			}
			if ev.Err != nil {
				return e.check(directory.OpList, collection, nil, ev.Err)
			}

			mu.Lock()
			for _, change := range ev.Changes {
				if change.Kind == directory.ChangeRemoved || !change.Doc.Exists {
					delete(docs, change.Doc.ID)
					continue
				}
				doc, err := payload.Decode(change.Doc)
				if err != nil {
					e.logger.Debug("skipping malformed document", slog.String("path", change.Doc.Path), slog.Any("error", err))
					delete(docs, change.Doc.ID)
					continue
				}
				docs[doc.ID] = doc
			}
			mu.Unlock()

			debounced(publish)
		}
	}
}
