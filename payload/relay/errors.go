package relay

import (
	"errors"
	"fmt"

	"github.com/HMasataka/mirror/pkg/directory"
)

// ErrUnknownSubscription is returned for an unsubscribe of an ID the server does not know.
var ErrUnknownSubscription = errors.New("relay: unknown subscription")

// ErrorCode maps a directory error onto its wire code.
func ErrorCode(err error) int64 {
	switch {
	case errors.Is(err, directory.ErrInvalidPath):
		return CodeInvalidPath
	case errors.Is(err, directory.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, directory.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnknownSubscription):
		return CodeUnknownSubscribe
	default:
		return CodeInternal
	}
}

// ErrorFromCode is the inverse of ErrorCode. The server's message is kept.
func ErrorFromCode(code int64, message string) error {
	var kind error
	switch code {
	case CodeInvalidPath:
		kind = directory.ErrInvalidPath
	case CodePermissionDenied:
		kind = directory.ErrPermissionDenied
	case CodeNotFound:
		kind = directory.ErrNotFound
	case CodeUnknownSubscribe:
		kind = ErrUnknownSubscription
	default:
		return fmt.Errorf("relay: %s (code %d)", message, code)
	}
	return fmt.Errorf("%w: %s", kind, message)
}
