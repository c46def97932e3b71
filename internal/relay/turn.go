package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/pion/turn/v2"
)

var ErrTURNConfig = errors.New("relay: invalid turn config")

// TURNConfig configures the embedded TURN server that helps peers behind
// symmetric NATs reach each other.
type TURNConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Realm   string `toml:"realm" env:"REALM"`
	Address string `toml:"address" env:"ADDRESS"`
	// PublicIP is advertised in relayed candidates.
	PublicIP string `toml:"public_ip" env:"PUBLIC_IP"`
	// Auth lists "user=password" pairs separated by commas.
	Auth      string   `toml:"auth" env:"AUTH"`
	PortRange []uint16 `toml:"port_range" env:"PORT_RANGE"`
}

func DefaultTURNConfig() TURNConfig {
	return TURNConfig{
		Realm:    "mirror",
		Address:  "0.0.0.0:3478",
		PublicIP: "127.0.0.1",
	}
}

func (c TURNConfig) credentials() (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for _, pair := range strings.Split(c.Auth, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, pass, ok := strings.Cut(pair, "=")
		if !ok || user == "" {
			return nil, fmt.Errorf("%w: malformed auth entry %q", ErrTURNConfig, pair)
		}
		keys[user] = turn.GenerateAuthKey(user, c.Realm, pass)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no users", ErrTURNConfig)
	}
	return keys, nil
}

func (c TURNConfig) relayAddressGenerator() (turn.RelayAddressGenerator, error) {
	ip := net.ParseIP(c.PublicIP)
	if ip == nil {
		return nil, fmt.Errorf("%w: public_ip %q", ErrTURNConfig, c.PublicIP)
	}

	switch len(c.PortRange) {
	case 0:
		return &turn.RelayAddressGeneratorStatic{RelayAddress: ip, Address: "0.0.0.0"}, nil
	case 2:
		if c.PortRange[0] > c.PortRange[1] {
			return nil, fmt.Errorf("%w: port_range %v", ErrTURNConfig, c.PortRange)
		}
		return &turn.RelayAddressGeneratorPortRange{
			RelayAddress: ip,
			Address:      "0.0.0.0",
			MinPort:      c.PortRange[0],
			MaxPort:      c.PortRange[1],
		}, nil
	default:
		return nil, fmt.Errorf("%w: port_range needs two values", ErrTURNConfig)
	}
}

// StartTURN listens on cfg.Address over UDP and serves TURN allocations.
func StartTURN(cfg TURNConfig, logger *slog.Logger) (*turn.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keys, err := cfg.credentials()
	if err != nil {
		return nil, err
	}

	generator, err := cfg.relayAddressGenerator()
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp4", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for turn: %w", err)
	}

	server, err := turn.NewServer(turn.ServerConfig{
		Realm: cfg.Realm,
		AuthHandler: func(username, realm string, src net.Addr) ([]byte, bool) {
			key, ok := keys[username]
			if !ok {
				logger.Warn("turn auth rejected", slog.String("username", username), slog.String("src", src.String()))
			}
			return key, ok
		},
		PacketConnConfigs: []turn.PacketConnConfig{
			{PacketConn: conn, RelayAddressGenerator: generator},
		},
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to start turn: %w", err)
	}

	logger.Info("turn server started", slog.String("addr", conn.LocalAddr().String()), slog.String("realm", cfg.Realm))

	return server, nil
}
