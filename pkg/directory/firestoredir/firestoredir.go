// Package firestoredir adapts Cloud Firestore to the directory contract.
package firestoredir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/HMasataka/mirror/pkg/directory"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// createdField orders the changes of one collection snapshot. It is written
// on Create and Set and hidden from callers. Documents written by other
// clients may lack it; they sort after stamped ones. Equal timestamps keep
// the listener's document ID order.
const createdField = "_created"

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

type Store struct {
	client *firestore.Client
	owned  bool
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	stops  map[*func()]struct{}
}

var _ directory.Directory = (*Store)(nil)

// New opens a client for projectID. Credentials follow the usual Google
// application default lookup unless overridden by clientOpts.
func New(ctx context.Context, projectID string, opts []Option, clientOpts ...option.ClientOption) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	s := NewFromClient(client, opts...)
	s.owned = true

	return s, nil
}

// NewFromClient wraps client. Close does not close it.
func NewFromClient(client *firestore.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		stops:  make(map[*func()]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %s", directory.ErrPermissionDenied, status.Convert(err).Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", directory.ErrNotFound, status.Convert(err).Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", directory.ErrInvalidPath, status.Convert(err).Message())
	}
	return err
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// toFirestore converts d into plain maps and swaps the timestamp placeholder
// for Firestore's own.
func toFirestore(d directory.Data) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v any) any {
	if directory.IsServerTimestamp(v) {
		return firestore.ServerTimestamp
	}
	switch t := v.(type) {
	case directory.Data:
		return toFirestore(t)
	case map[string]any:
		return toFirestore(directory.Data(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toFirestoreValue(e)
		}
		return out
	default:
		return v
	}
}

func fromFirestore(m map[string]any) directory.Data {
	data := directory.Data(m).Clone()
	delete(data, createdField)
	return data
}

func documentPath(collection, id string) string {
	return directory.Join(collection, id)
}

func toDocument(collection string, snap *firestore.DocumentSnapshot) directory.Document {
	doc := directory.Document{ID: snap.Ref.ID, Path: documentPath(collection, snap.Ref.ID)}
	if snap.Exists() {
		doc.Exists = true
		doc.Data = fromFirestore(snap.Data())
	}
	return doc
}

func (s *Store) doc(p string) (*firestore.DocumentRef, error) {
	if err := directory.ValidateDocumentPath(p); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, directory.ErrClosed
	}
	ref := s.client.Doc(p)
	if ref == nil {
		return nil, directory.ErrInvalidPath
	}
	return ref, nil
}

func (s *Store) Create(ctx context.Context, collection string, data directory.Data) (string, error) {
	if err := directory.ValidateCollectionPath(collection); err != nil {
		return "", err
	}
	if s.isClosed() {
		return "", directory.ErrClosed
	}

	col := s.client.Collection(collection)
	if col == nil {
		return "", directory.ErrInvalidPath
	}

	fields := toFirestore(data)
	fields[createdField] = firestore.ServerTimestamp

	ref := col.NewDoc()
	if _, err := ref.Create(ctx, fields); err != nil {
		return "", mapError(err)
	}

	return ref.ID, nil
}

func (s *Store) Set(ctx context.Context, docPath string, data directory.Data) error {
	ref, err := s.doc(docPath)
	if err != nil {
		return err
	}

	fields := toFirestore(data)
	fields[createdField] = firestore.ServerTimestamp

	_, err = ref.Set(ctx, fields)
	return mapError(err)
}

func (s *Store) Update(ctx context.Context, docPath string, data directory.Data) error {
	ref, err := s.doc(docPath)
	if err != nil {
		return err
	}

	updates := make([]firestore.Update, 0, len(data))
	for k, v := range data {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: toFirestoreValue(v)})
	}
	if len(updates) == 0 {
		return nil
	}

	_, err = ref.Update(ctx, updates)
	return mapError(err)
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	ref, err := s.doc(docPath)
	if err != nil {
		return err
	}

	_, err = ref.Delete(ctx)
	return mapError(err)
}

func (s *Store) Get(ctx context.Context, docPath string) (directory.Document, error) {
	ref, err := s.doc(docPath)
	if err != nil {
		return directory.Document{}, err
	}

	collection, _, _ := directory.Split(docPath)

	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound && snap != nil {
		return toDocument(collection, snap), nil
	}
	if err != nil {
		return directory.Document{}, mapError(err)
	}

	return toDocument(collection, snap), nil
}

func (s *Store) track(stop func()) (*func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	s.stops[&stop] = struct{}{}

	return &stop, true
}

func (s *Store) untrack(stop *func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stops, stop)
}

func (s *Store) SubscribeDocument(ctx context.Context, docPath string) (<-chan directory.DocumentEvent, directory.Unsubscribe, error) {
	ref, err := s.doc(docPath)
	if err != nil {
		return nil, nil, err
	}

	collection, _, _ := directory.Split(docPath)

	sctx, cancel := context.WithCancel(ctx)
	it := ref.Snapshots(sctx)
	feed := directory.NewFeed[directory.DocumentEvent]()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			it.Stop()
			feed.Close()
		})
	}
	handle, ok := s.track(stop)
	if !ok {
		stop()
		return nil, nil, directory.ErrClosed
	}

	go func() {
		defer s.untrack(handle)

		for {
			snap, err := it.Next()
			switch {
			case err == nil:
				feed.Push(directory.DocumentEvent{Doc: toDocument(collection, snap)})
			case status.Code(err) == codes.NotFound && snap != nil:
				feed.Push(directory.DocumentEvent{Doc: toDocument(collection, snap)})
			case errors.Is(err, iterator.Done), sctx.Err() != nil:
				feed.Close()
				return
			default:
				s.logger.Warn("firestore document listener failed", slog.String("path", docPath), slog.Any("error", err))
				feed.Push(directory.DocumentEvent{Err: mapError(err)})
				feed.Finish()
				return
			}
		}
	}()

	return feed.C(), stop, nil
}

func (s *Store) SubscribeCollection(ctx context.Context, collection string) (<-chan directory.CollectionEvent, directory.Unsubscribe, error) {
	if err := directory.ValidateCollectionPath(collection); err != nil {
		return nil, nil, err
	}
	if s.isClosed() {
		return nil, nil, directory.ErrClosed
	}

	col := s.client.Collection(collection)
	if col == nil {
		return nil, nil, directory.ErrInvalidPath
	}

	sctx, cancel := context.WithCancel(ctx)
	// An ordered query would drop documents that lack createdField.
	it := col.Snapshots(sctx)
	feed := directory.NewFeed[directory.CollectionEvent]()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			it.Stop()
			feed.Close()
		})
	}
	handle, ok := s.track(stop)
	if !ok {
		stop()
		return nil, nil, directory.ErrClosed
	}

	go func() {
		defer s.untrack(handle)

		for {
			qs, err := it.Next()
			switch {
			case err == nil:
				feed.Push(directory.CollectionEvent{Changes: changes(collection, qs.Changes)})
			case errors.Is(err, iterator.Done), sctx.Err() != nil:
				feed.Close()
				return
			default:
				s.logger.Warn("firestore collection listener failed", slog.String("path", collection), slog.Any("error", err))
				feed.Push(directory.CollectionEvent{Err: mapError(err)})
				feed.Finish()
				return
			}
		}
	}()

	return feed.C(), stop, nil
}

func changeKind(k firestore.DocumentChangeKind) directory.ChangeKind {
	switch k {
	case firestore.DocumentRemoved:
		return directory.ChangeRemoved
	case firestore.DocumentModified:
		return directory.ChangeModified
	default:
		return directory.ChangeAdded
	}
}

type stampedChange struct {
	change  directory.Change
	created time.Time
	stamped bool
}

func changes(collection string, in []firestore.DocumentChange) []directory.Change {
	stamped := make([]stampedChange, 0, len(in))
	for _, c := range in {
		sc := stampedChange{change: directory.Change{Kind: changeKind(c.Kind), Doc: toDocument(collection, c.Doc)}}
		if c.Doc.Exists() {
			sc.created, sc.stamped = c.Doc.Data()[createdField].(time.Time)
		}
		if sc.change.Kind == directory.ChangeRemoved {
			sc.change.Doc.Exists = false
			sc.change.Doc.Data = nil
		}
		stamped = append(stamped, sc)
	}
	return orderByCreated(stamped)
}

// orderByCreated sorts changes by creation time. Unstamped changes go last
// and ties keep their input order.
func orderByCreated(in []stampedChange) []directory.Change {
	slices.SortStableFunc(in, func(a, b stampedChange) int {
		switch {
		case a.stamped && b.stamped:
			return a.created.Compare(b.created)
		case a.stamped:
			return -1
		case b.stamped:
			return 1
		default:
			return 0
		}
	})

	out := make([]directory.Change, 0, len(in))
	for _, sc := range in {
		out = append(out, sc.change)
	}
	return out
}

// Close stops every listener, and closes the client when New created it.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()

	for stop := range stops {
		(*stop)()
	}

	if s.owned {
		return s.client.Close()
	}
	return nil
}
