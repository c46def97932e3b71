package transport

import (
	"fmt"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	ICEServers        []ICEServerConfig `toml:"iceserver" envPrefix:"ICESERVER_"`
	CandidatePoolSize uint8             `toml:"candidatepoolsize" env:"CANDIDATE_POOL_SIZE"`
	PortRange         []uint16          `toml:"portrange" env:"PORT_RANGE" envSeparator:","`
	MDNS              bool              `toml:"mdns" env:"MDNS"`
	Timeouts          TimeoutsConfig    `toml:"timeouts" envPrefix:"TIMEOUTS_"`
}

type ICEServerConfig struct {
	URLs       []string `toml:"urls" env:"URLS" envSeparator:","`
	Username   string   `toml:"username" env:"USERNAME"`
	Credential string   `toml:"credential" env:"CREDENTIAL"`
}

// TimeoutsConfig values are seconds. Zero keeps the pion default.
type TimeoutsConfig struct {
	ICEDisconnectedTimeout int `toml:"disconnected" env:"DISCONNECTED"`
	ICEFailedTimeout       int `toml:"failed" env:"FAILED"`
	ICEKeepaliveInterval   int `toml:"keepalive" env:"KEEPALIVE"`
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []ICEServerConfig{
			{URLs: []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"}},
		},
		CandidatePoolSize: 10,
	}
}

func (c Config) Configuration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}

	return webrtc.Configuration{
		ICEServers:           servers,
		ICECandidatePoolSize: c.CandidatePoolSize,
	}
}

func (c Config) SettingEngine() (webrtc.SettingEngine, error) {
	se := webrtc.SettingEngine{}

	if len(c.PortRange) == 2 {
		if err := se.SetEphemeralUDPPortRange(c.PortRange[0], c.PortRange[1]); err != nil {
			return webrtc.SettingEngine{}, fmt.Errorf("invalid port range: %w", err)
		}
	}

	if c.MDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	t := c.Timeouts
	if t.ICEDisconnectedTimeout != 0 || t.ICEFailedTimeout != 0 || t.ICEKeepaliveInterval != 0 {
		se.SetICETimeouts(
			seconds(t.ICEDisconnectedTimeout, 5*time.Second),
			seconds(t.ICEFailedTimeout, 25*time.Second),
			seconds(t.ICEKeepaliveInterval, 2*time.Second),
		)
	}

	return se, nil
}

func seconds(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}
