// Package memdir is an in-process Directory with live snapshot semantics.
// The relay server uses it as its backing store and tests use it as a stand-in
// for a hosted document database.
package memdir

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/rs/xid"
)

// Rule is consulted before every operation. Returning an error rejects it;
// return directory.ErrPermissionDenied (or wrap it) to emulate access rules.
type Rule func(op directory.Operation, path string, data directory.Data) error

type Option func(*Store)

// WithRules installs access rules evaluated in order.
func WithRules(rules ...Rule) Option {
	return func(s *Store) {
		s.rules = append(s.rules, rules...)
	}
}

// WithClock replaces the clock used to resolve server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type docSub struct {
	feed *directory.Feed[directory.DocumentEvent]
}

type colSub struct {
	feed *directory.Feed[directory.CollectionEvent]
}

// Store implements directory.Directory in memory.
type Store struct {
	mu     sync.Mutex
	closed bool

	docs        map[string]directory.Data
	collections map[string][]string

	docSubs map[string]map[*docSub]struct{}
	colSubs map[string]map[*colSub]struct{}

	rules []Rule
	now   func() time.Time
}

var _ directory.Directory = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[string]directory.Data),
		collections: make(map[string][]string),
		docSubs:     make(map[string]map[*docSub]struct{}),
		colSubs:     make(map[string]map[*colSub]struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) check(op directory.Operation, p string, data directory.Data) error {
	for _, rule := range s.rules {
		if err := rule(op, p, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection string, data directory.Data) (string, error) {
	if err := directory.ValidateCollectionPath(collection); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := xid.New().String()
	p := directory.Join(collection, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", directory.ErrClosed
	}
	if err := s.check(directory.OpCreate, p, data); err != nil {
		return "", err
	}

	s.put(p, data.ResolveServerTimestamps(s.now()))

	return id, nil
}

func (s *Store) Set(ctx context.Context, docPath string, data directory.Data) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return directory.ErrClosed
	}
	if err := s.check(directory.OpSet, docPath, data); err != nil {
		return err
	}

	s.put(docPath, data.ResolveServerTimestamps(s.now()))

	return nil
}

func (s *Store) Update(ctx context.Context, docPath string, data directory.Data) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return directory.ErrClosed
	}
	if err := s.check(directory.OpUpdate, docPath, data); err != nil {
		return err
	}

	current, ok := s.docs[docPath]
	if !ok {
		return fmt.Errorf("%w: %s", directory.ErrNotFound, docPath)
	}

	s.put(docPath, directory.Merge(current, data.ResolveServerTimestamps(s.now())))

	return nil
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return directory.ErrClosed
	}
	if err := s.check(directory.OpDelete, docPath, nil); err != nil {
		return err
	}

	if _, ok := s.docs[docPath]; !ok {
		return nil
	}

	delete(s.docs, docPath)

	collection, _, _ := directory.Split(docPath)
	s.collections[collection] = slices.DeleteFunc(s.collections[collection], func(p string) bool {
		return p == docPath
	})

	doc := s.snapshot(docPath)
	s.publishDoc(doc)
	s.publishChange(collection, directory.Change{Kind: directory.ChangeRemoved, Doc: doc})

	return nil
}

func (s *Store) Get(ctx context.Context, docPath string) (directory.Document, error) {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return directory.Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return directory.Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return directory.Document{}, directory.ErrClosed
	}
	if err := s.check(directory.OpGet, docPath, nil); err != nil {
		return directory.Document{}, err
	}

	return s.snapshot(docPath), nil
}

func (s *Store) SubscribeDocument(ctx context.Context, docPath string) (<-chan directory.DocumentEvent, directory.Unsubscribe, error) {
	if err := directory.ValidateDocumentPath(docPath); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, directory.ErrClosed
	}
	if err := s.check(directory.OpGet, docPath, nil); err != nil {
		return nil, nil, err
	}

	sub := &docSub{feed: directory.NewFeed[directory.DocumentEvent]()}
	sub.feed.Push(directory.DocumentEvent{Doc: s.snapshot(docPath)})

	if s.docSubs[docPath] == nil {
		s.docSubs[docPath] = make(map[*docSub]struct{})
	}
	s.docSubs[docPath][sub] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.docSubs[docPath], sub)
			if len(s.docSubs[docPath]) == 0 {
				delete(s.docSubs, docPath)
			}
			s.mu.Unlock()
			sub.feed.Close()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)

	return sub.feed.C(), func() {
		stop()
		unsubscribe()
	}, nil
}

func (s *Store) SubscribeCollection(ctx context.Context, collection string) (<-chan directory.CollectionEvent, directory.Unsubscribe, error) {
	if err := directory.ValidateCollectionPath(collection); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, directory.ErrClosed
	}
	if err := s.check(directory.OpList, collection, nil); err != nil {
		return nil, nil, err
	}

	initial := make([]directory.Change, 0, len(s.collections[collection]))
	for _, p := range s.collections[collection] {
		initial = append(initial, directory.Change{Kind: directory.ChangeAdded, Doc: s.snapshot(p)})
	}

	sub := &colSub{feed: directory.NewFeed[directory.CollectionEvent]()}
	sub.feed.Push(directory.CollectionEvent{Changes: initial})

	if s.colSubs[collection] == nil {
		s.colSubs[collection] = make(map[*colSub]struct{})
	}
	s.colSubs[collection][sub] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.colSubs[collection], sub)
			if len(s.colSubs[collection]) == 0 {
				delete(s.colSubs, collection)
			}
			s.mu.Unlock()
			sub.feed.Close()
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)

	return sub.feed.C(), func() {
		stop()
		unsubscribe()
	}, nil
}

// Close ends every subscription. Further calls fail with directory.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, subs := range s.docSubs {
		for sub := range subs {
			sub.feed.Close()
		}
	}
	for _, subs := range s.colSubs {
		for sub := range subs {
			sub.feed.Close()
		}
	}
	s.docSubs = nil
	s.colSubs = nil

	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// put stores data at p and notifies subscribers. s.mu must be held.
func (s *Store) put(p string, data directory.Data) {
	_, existed := s.docs[p]
	s.docs[p] = data.Clone()

	collection, _, _ := directory.Split(p)
	kind := directory.ChangeModified
	if !existed {
		kind = directory.ChangeAdded
		s.collections[collection] = append(s.collections[collection], p)
	}

	doc := s.snapshot(p)
	s.publishDoc(doc)
	s.publishChange(collection, directory.Change{Kind: kind, Doc: doc})
}

func (s *Store) snapshot(p string) directory.Document {
	_, id, _ := directory.Split(p)
	data, ok := s.docs[p]
	if !ok {
		return directory.Document{ID: id, Path: p}
	}
	return directory.Document{ID: id, Path: p, Exists: true, Data: data.Clone()}
}

func (s *Store) publishDoc(doc directory.Document) {
	for sub := range s.docSubs[doc.Path] {
		sub.feed.Push(directory.DocumentEvent{Doc: doc})
	}
}

func (s *Store) publishChange(collection string, change directory.Change) {
	for sub := range s.colSubs[collection] {
		sub.feed.Push(directory.CollectionEvent{Changes: []directory.Change{change}})
	}
}
