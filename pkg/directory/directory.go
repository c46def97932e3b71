package directory

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrPermissionDenied is returned when the backing store rejects a write or read
	// because of its access rules.
	ErrPermissionDenied = errors.New("directory: permission denied")
	// ErrNotFound is returned by Update and Delete when the target document is missing.
	ErrNotFound = errors.New("directory: document not found")
	// ErrInvalidPath is returned when a collection path is used as a document path or vice versa.
	ErrInvalidPath = errors.New("directory: invalid path")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("directory: closed")
)

// Data is the loosely typed body of a document.
type Data map[string]any

// Document is a point-in-time view of a single document.
// A missing document is reported with Exists == false and nil Data.
type Document struct {
	ID     string
	Path   string
	Exists bool
	Data   Data
}

// Unsubscribe ends a subscription. It is safe to call more than once.
type Unsubscribe func()

// DocumentEvent is delivered for every snapshot of a watched document.
// When Err is set the subscription has failed and no further events follow.
type DocumentEvent struct {
	Doc Document
	Err error
}

// CollectionEvent carries the changes of a watched collection since the previous
// event. The first event lists every existing document as Added.
type CollectionEvent struct {
	Changes []Change
	Err     error
}

// Directory is the shared, eventually consistent document store used as a
// signaling relay.
//
//go:generate mockgen -source directory.go -destination mock/directory.go
type Directory interface {
	// Create adds a document with a store-assigned ID under collection.
	Create(ctx context.Context, collection string, data Data) (string, error)
	Set(ctx context.Context, docPath string, data Data) error
	// Update merges data into an existing document. A nil value stores null.
	Update(ctx context.Context, docPath string, data Data) error
	Delete(ctx context.Context, docPath string) error
	Get(ctx context.Context, docPath string) (Document, error)

	// SubscribeDocument streams snapshots of docPath, starting with the current one.
	// The channel is closed after the returned Unsubscribe is called or ctx ends.
	SubscribeDocument(ctx context.Context, docPath string) (<-chan DocumentEvent, Unsubscribe, error)
	// SubscribeCollection streams change lists of collection in write order.
	SubscribeCollection(ctx context.Context, collection string) (<-chan CollectionEvent, Unsubscribe, error)

	Close() error
}

// Join builds a slash separated path.
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

func segments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// IsDocumentPath reports whether p names a document (an even number of segments).
func IsDocumentPath(p string) bool {
	s := segments(p)
	return len(s) > 0 && len(s)%2 == 0
}

// IsCollectionPath reports whether p names a collection (an odd number of segments).
func IsCollectionPath(p string) bool {
	return len(segments(p))%2 == 1
}

// Split returns the parent collection and ID of a document path.
func Split(docPath string) (collection, id string, err error) {
	if !IsDocumentPath(docPath) {
		return "", "", ErrInvalidPath
	}
	s := segments(docPath)
	return strings.Join(s[:len(s)-1], "/"), s[len(s)-1], nil
}

// ValidateDocumentPath returns ErrInvalidPath unless p is a document path.
func ValidateDocumentPath(p string) error {
	if !IsDocumentPath(p) {
		return ErrInvalidPath
	}
	return nil
}

// ValidateCollectionPath returns ErrInvalidPath unless p is a collection path.
func ValidateCollectionPath(p string) error {
	if !IsCollectionPath(p) {
		return ErrInvalidPath
	}
	return nil
}

// IsPermissionDenied reports whether err is (or wraps) ErrPermissionDenied.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
