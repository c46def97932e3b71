package relay_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/HMasataka/mirror/payload/relay"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/stretchr/testify/assert"
)

func TestErrorCode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int64
	}{
		{"不正なパス", directory.ErrInvalidPath, relay.CodeInvalidPath},
		{"権限エラー", fmt.Errorf("rule: %w", directory.ErrPermissionDenied), relay.CodePermissionDenied},
		{"存在しない", directory.ErrNotFound, relay.CodeNotFound},
		{"不明な購読", relay.ErrUnknownSubscription, relay.CodeUnknownSubscribe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := relay.ErrorCode(tt.err)
			assert.Equal(t, tt.code, code)

			back := relay.ErrorFromCode(code, tt.err.Error())
			assert.Equal(t, tt.code, relay.ErrorCode(back))
		})
	}

	t.Run("その他は内部エラー", func(t *testing.T) {
		code := relay.ErrorCode(errors.New("boom"))
		assert.Equal(t, relay.CodeInternal, code)

		err := relay.ErrorFromCode(code, "boom")
		assert.Contains(t, err.Error(), "boom")
		assert.False(t, directory.IsPermissionDenied(err))
	})
}
