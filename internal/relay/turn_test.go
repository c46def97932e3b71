package relay

import (
	"testing"

	"github.com/pion/turn/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTURNConfig_Credentials(t *testing.T) {
	cfg := DefaultTURNConfig()

	t.Run("ユーザーごとに鍵を生成する", func(t *testing.T) {
		cfg.Auth = "alice=secret, bob=hunter2"
		keys, err := cfg.credentials()
		require.NoError(t, err)
		assert.Len(t, keys, 2)
		assert.Equal(t, turn.GenerateAuthKey("alice", cfg.Realm, "secret"), keys["alice"])
	})

	t.Run("不正なエントリ", func(t *testing.T) {
		cfg.Auth = "alice"
		_, err := cfg.credentials()
		assert.ErrorIs(t, err, ErrTURNConfig)
	})

	t.Run("ユーザーなし", func(t *testing.T) {
		cfg.Auth = ""
		_, err := cfg.credentials()
		assert.ErrorIs(t, err, ErrTURNConfig)
	})
}

func TestTURNConfig_RelayAddressGenerator(t *testing.T) {
	tests := []struct {
		name      string
		publicIP  string
		portRange []uint16
		wantErr   bool
	}{
		{name: "固定", publicIP: "127.0.0.1"},
		{name: "ポート範囲", publicIP: "127.0.0.1", portRange: []uint16{50000, 50100}},
		{name: "逆順の範囲", publicIP: "127.0.0.1", portRange: []uint16{50100, 50000}, wantErr: true},
		{name: "要素数が不正", publicIP: "127.0.0.1", portRange: []uint16{50000}, wantErr: true},
		{name: "不正なIP", publicIP: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTURNConfig()
			cfg.PublicIP = tt.publicIP
			cfg.PortRange = tt.portRange

			gen, err := cfg.relayAddressGenerator()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTURNConfig)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, gen.Validate())
		})
	}
}

func TestStartTURN(t *testing.T) {
	cfg := DefaultTURNConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.Auth = "mirror=mirror"

	server, err := StartTURN(cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, server.Close())
}
