package main

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOrigin(t *testing.T) {
	t.Run("未設定なら全て許可", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Origin", "https://evil.example")
		assert.True(t, checkOrigin(nil)(r))
	})

	t.Run("許可リスト", func(t *testing.T) {
		check := checkOrigin([]string{"https://app.example"})

		ok := httptest.NewRequest("GET", "/ws", nil)
		ok.Header.Set("Origin", "https://app.example")
		assert.True(t, check(ok))

		ng := httptest.NewRequest("GET", "/ws", nil)
		ng.Header.Set("Origin", "https://evil.example")
		assert.False(t, check(ng))

		native := httptest.NewRequest("GET", "/ws", nil)
		assert.True(t, check(native), "non-browser clients send no Origin")
	})
}
