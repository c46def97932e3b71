// Package redisdir stores directory documents in Redis. Documents are JSON
// strings, document snapshots are broadcast over pub/sub and collection
// changes are appended to a stream per collection so that subscribers see
// them in write order.
package redisdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

const (
	defaultPrefix     = "mirror:"
	defaultStreamLen  = 1000
	defaultBlock      = time.Second
	maxTxAttempts     = 8
	streamReadBatch   = 100
	fieldKind         = "kind"
	fieldID           = "id"
	fieldData         = "data"
	initialStreamFrom = "0-0"
)

type Option func(*Store)

// WithPrefix namespaces every key. The default is "mirror:".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStreamLen caps each collection change stream (approximately).
func WithStreamLen(n int64) Option {
	return func(s *Store) {
		s.streamLen = n
	}
}

type Store struct {
	client    *redis.Client
	owned     bool
	prefix    string
	streamLen int64
	block     time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
}

var _ directory.Directory = (*Store)(nil)

type subscription struct {
	cancel context.CancelFunc
}

// New connects to url (redis://...) and verifies the connection.
func New(ctx context.Context, url string, opts ...Option) (*Store, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	s := NewFromClient(client, opts...)
	s.owned = true

	return s, nil
}

// NewFromClient wraps an existing client. Close does not close it.
func NewFromClient(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		prefix:    defaultPrefix,
		streamLen: defaultStreamLen,
		block:     defaultBlock,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		subs:      make(map[*subscription]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) docKey(p string) string {
	return s.prefix + "doc:" + p
}

func (s *Store) membersKey(collection string) string {
	return s.prefix + "members:" + collection
}

func (s *Store) streamKey(collection string) string {
	return s.prefix + "changes:" + collection
}

func (s *Store) channel(p string) string {
	return s.prefix + "snapshots:" + p
}

// snapshot is the pub/sub payload for a document.
type snapshot struct {
	Exists bool           `json:"exists"`
	Data   directory.Data `json:"data,omitempty"`
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rerr redis.Error
	if errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "NOPERM") {
		return fmt.Errorf("%w: %s", directory.ErrPermissionDenied, rerr.Error())
	}
	if errors.Is(err, redis.ErrClosed) {
		return directory.ErrClosed
	}
	return err
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// write runs fn in a WATCH transaction on the document key, retrying when a
// concurrent writer touched it.
func (s *Store) write(ctx context.Context, p string, fn func(tx *redis.Tx) error) error {
	if s.isClosed() {
		return directory.ErrClosed
	}

	key := s.docKey(p)
	for range maxTxAttempts {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return mapError(err)
	}

	return fmt.Errorf("redisdir: too much contention on %s", p)
}

// commit stores data at p and records the change. It must run inside a
// WATCH transaction.
func (s *Store) commit(ctx context.Context, tx *redis.Tx, p string, data directory.Data, kind directory.ChangeKind) error {
	collection, id, err := directory.Split(p)
	if err != nil {
		return err
	}

	var body []byte
	if kind != directory.ChangeRemoved {
		if body, err = json.Marshal(data); err != nil {
			return err
		}
	}

	record, err := json.Marshal(snapshot{Exists: kind != directory.ChangeRemoved, Data: data})
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if kind == directory.ChangeRemoved {
			pipe.Del(ctx, s.docKey(p))
			pipe.ZRem(ctx, s.membersKey(collection), id)
		} else {
			pipe.Set(ctx, s.docKey(p), body, 0)
			pipe.ZAddNX(ctx, s.membersKey(collection), redis.Z{Score: float64(s.now().UnixMicro()), Member: id})
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.streamKey(collection),
			MaxLen: s.streamLen,
			Approx: true,
			Values: map[string]any{fieldKind: kind.String(), fieldID: id, fieldData: string(body)},
		})
		pipe.Publish(ctx, s.channel(p), record)
		return nil
	})

	return err
}

func (s *Store) Create(ctx context.Context, collection string, data directory.Data) (string, error) {
	if err := directory.ValidateCollectionPath(collection); err != nil {
		return "", err
	}

	id := xid.New().String()
	if err := s.Set(ctx, directory.Join(collection, id), data); err != nil {
		return "", err
	}

	return id, nil
}

func (s *Store) Set(ctx context.Context, docPath string, data directory.Data) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}

	resolved := data.ResolveServerTimestamps(s.now())

	return s.write(ctx, docPath, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.docKey(docPath)).Result()
		if err != nil {
			return err
		}

		kind := directory.ChangeAdded
		if n > 0 {
			kind = directory.ChangeModified
		}

		return s.commit(ctx, tx, docPath, resolved, kind)
	})
}

func (s *Store) Update(ctx context.Context, docPath string, data directory.Data) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}

	patch := data.ResolveServerTimestamps(s.now())

	return s.write(ctx, docPath, func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, s.docKey(docPath)).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", directory.ErrNotFound, docPath)
		}
		if err != nil {
			return err
		}

		var current directory.Data
		if err := json.Unmarshal(body, &current); err != nil {
			return fmt.Errorf("redisdir: corrupt document %s: %w", docPath, err)
		}

		return s.commit(ctx, tx, docPath, directory.Merge(current, patch), directory.ChangeModified)
	})
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}

	return s.write(ctx, docPath, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.docKey(docPath)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		return s.commit(ctx, tx, docPath, nil, directory.ChangeRemoved)
	})
}

func (s *Store) Get(ctx context.Context, docPath string) (directory.Document, error) {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return directory.Document{}, err
	}
	if s.isClosed() {
		return directory.Document{}, directory.ErrClosed
	}

	body, err := s.client.Get(ctx, s.docKey(docPath)).Bytes()
	if errors.Is(err, redis.Nil) {
		return missing(docPath), nil
	}
	if err != nil {
		return directory.Document{}, mapError(err)
	}

	return decodeDocument(docPath, body)
}

func missing(p string) directory.Document {
	_, id, _ := directory.Split(p)
	return directory.Document{ID: id, Path: p}
}

func decodeDocument(p string, body []byte) (directory.Document, error) {
	var data directory.Data
	if err := json.Unmarshal(body, &data); err != nil {
		return directory.Document{}, fmt.Errorf("redisdir: corrupt document %s: %w", p, err)
	}
	_, id, _ := directory.Split(p)
	return directory.Document{ID: id, Path: p, Exists: true, Data: data.Clone()}, nil
}

func (s *Store) track(cancel context.CancelFunc) (*subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	sub := &subscription{cancel: cancel}
	s.subs[sub] = struct{}{}

	return sub, true
}

func (s *Store) untrack(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

func (s *Store) SubscribeDocument(ctx context.Context, docPath string) (<-chan directory.DocumentEvent, directory.Unsubscribe, error) {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return nil, nil, err
	}

	pubsub := s.client.Subscribe(ctx, s.channel(docPath))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, mapError(err)
	}

	// The first snapshot is read after subscribing so no write can fall between.
	initial, err := s.Get(ctx, docPath)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, ok := s.track(cancel)
	if !ok {
		cancel()
		_ = pubsub.Close()
		return nil, nil, directory.ErrClosed
	}

	feed := directory.NewFeed[directory.DocumentEvent]()
	feed.Push(directory.DocumentEvent{Doc: initial})

	messages := pubsub.Channel()

	go func() {
		defer func() {
			_ = pubsub.Close()
			s.untrack(sub)
			feed.Close()
		}()

		for {
			select {
			case <-sctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var snap snapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					s.logger.Warn("malformed snapshot", slog.String("path", docPath), slog.Any("error", err))
					continue
				}
				doc := missing(docPath)
				if snap.Exists {
					doc.Exists = true
					doc.Data = snap.Data.Clone()
				}
				feed.Push(directory.DocumentEvent{Doc: doc})
			}
		}
	}()

	stop := context.AfterFunc(ctx, cancel)

	return feed.C(), func() {
		stop()
		cancel()
		feed.Close()
	}, nil
}

// SubscribeCollection lists the current members and then follows the change
// stream from the position read together with them. A document written
// between the two reads can be reported twice.
func (s *Store) SubscribeCollection(ctx context.Context, collection string) (<-chan directory.CollectionEvent, directory.Unsubscribe, error) {
	if err := directory.ValidateCollectionPath(collection); err != nil {
		return nil, nil, err
	}
	if s.isClosed() {
		return nil, nil, directory.ErrClosed
	}

	var members *redis.StringSliceCmd
	var last *redis.XMessageSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.ZRange(ctx, s.membersKey(collection), 0, -1)
		last = pipe.XRevRangeN(ctx, s.streamKey(collection), "+", "-", 1)
		return nil
	})
	if err != nil {
		return nil, nil, mapError(err)
	}

	from := initialStreamFrom
	if msgs := last.Val(); len(msgs) > 0 {
		from = msgs[0].ID
	}

	initial, err := s.load(ctx, collection, members.Val())
	if err != nil {
		return nil, nil, err
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, ok := s.track(cancel)
	if !ok {
		cancel()
		return nil, nil, directory.ErrClosed
	}

	feed := directory.NewFeed[directory.CollectionEvent]()
	feed.Push(directory.CollectionEvent{Changes: initial})

	go s.follow(sctx, collection, from, feed, func() { s.untrack(sub) })

	stop := context.AfterFunc(ctx, cancel)

	return feed.C(), func() {
		stop()
		cancel()
		feed.Close()
	}, nil
}

func (s *Store) load(ctx context.Context, collection string, ids []string) ([]directory.Change, error) {
	changes := make([]directory.Change, 0, len(ids))
	if len(ids) == 0 {
		return changes, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(directory.Join(collection, id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, mapError(err)
	}

	for i, v := range values {
		body, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := decodeDocument(directory.Join(collection, ids[i]), []byte(body))
		if err != nil {
			s.logger.Warn("skipping corrupt document", slog.Any("error", err))
			continue
		}
		changes = append(changes, directory.Change{Kind: directory.ChangeAdded, Doc: doc})
	}

	return changes, nil
}

func (s *Store) follow(ctx context.Context, collection, from string, feed *directory.Feed[directory.CollectionEvent], done func()) {
	defer done()

	stream := s.streamKey(collection)

	for {
		if ctx.Err() != nil {
			feed.Close()
			return
		}

		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, from},
			Count:   streamReadBatch,
			Block:   s.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				feed.Close()
				return
			}
			feed.Push(directory.CollectionEvent{Err: mapError(err)})
			feed.Finish()
			return
		}

		var changes []directory.Change
		for _, xs := range res {
			for _, msg := range xs.Messages {
				from = msg.ID

				change, err := decodeChange(collection, msg)
				if err != nil {
					s.logger.Warn("skipping malformed change", slog.String("collection", collection), slog.Any("error", err))
					continue
				}
				changes = append(changes, change)
			}
		}

		if len(changes) > 0 {
			feed.Push(directory.CollectionEvent{Changes: changes})
		}
	}
}

func decodeChange(collection string, msg redis.XMessage) (directory.Change, error) {
	kindValue, _ := msg.Values[fieldKind].(string)
	kind, err := directory.ParseChangeKind(kindValue)
	if err != nil {
		return directory.Change{}, err
	}

	id, _ := msg.Values[fieldID].(string)
	if id == "" {
		return directory.Change{}, fmt.Errorf("redisdir: change %s has no id", msg.ID)
	}
	p := directory.Join(collection, id)

	if kind == directory.ChangeRemoved {
		return directory.Change{Kind: kind, Doc: missing(p)}, nil
	}

	body, _ := msg.Values[fieldData].(string)
	doc, err := decodeDocument(p, []byte(body))
	if err != nil {
		return directory.Change{}, err
	}

	return directory.Change{Kind: kind, Doc: doc}, nil
}

// Close ends every subscription, and closes the client when New created it.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for sub := range subs {
		sub.cancel()
	}

	if s.owned {
		return s.client.Close()
	}
	return nil
}
