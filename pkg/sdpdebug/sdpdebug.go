package sdpdebug

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Media describes one m= section of a session description.
type Media struct {
	Kind       string
	Mid        string
	Direction  string
	Codecs     []string
	Candidates int
	Simulcast  bool
}

// Summary is a compact view of a session description for logs.
type Summary struct {
	Type  webrtc.SDPType
	Media []Media
}

var directions = []string{"sendrecv", "sendonly", "recvonly", "inactive"}

// Summarize parses sd and extracts the fields worth logging.
func Summarize(sd webrtc.SessionDescription) (Summary, error) {
	parsed := sdp.SessionDescription{}
	if err := parsed.UnmarshalString(sd.SDP); err != nil {
		return Summary{}, fmt.Errorf("failed to parse sdp: %w", err)
	}

	summary := Summary{Type: sd.Type}

	for _, md := range parsed.MediaDescriptions {
		m := Media{Kind: md.MediaName.Media}

		if mid, ok := md.Attribute(sdp.AttrKeyMID); ok {
			m.Mid = mid
		}

		for _, attr := range md.Attributes {
			switch {
			case attr.Key == "rtpmap":
				if _, codec, ok := strings.Cut(attr.Value, " "); ok {
					m.Codecs = append(m.Codecs, codec)
				}
			case attr.Key == "candidate":
				m.Candidates++
			case attr.Key == "simulcast":
				m.Simulcast = true
			case isDirection(attr.Key):
				m.Direction = attr.Key
			}
		}

		summary.Media = append(summary.Media, m)
	}

	return summary, nil
}

func isDirection(key string) bool {
	for _, d := range directions {
		if d == key {
			return true
		}
	}
	return false
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", s.Type.String())}
	for i, m := range s.Media {
		attrs = append(attrs, slog.Group(fmt.Sprintf("m%d", i),
			slog.String("kind", m.Kind),
			slog.String("mid", m.Mid),
			slog.String("direction", m.Direction),
			slog.String("codecs", strings.Join(m.Codecs, ",")),
			slog.Int("candidates", m.Candidates),
			slog.Bool("simulcast", m.Simulcast),
		))
	}
	return slog.GroupValue(attrs...)
}

// Log writes a debug summary of sd. Parse failures are logged, never returned.
func Log(logger *slog.Logger, label string, sd webrtc.SessionDescription) {
	if logger == nil {
		logger = slog.Default()
	}

	summary, err := Summarize(sd)
	if err != nil {
		logger.Warn("failed to summarize sdp", slog.String("label", label), slog.Any("error", err))
		return
	}

	logger.Debug("sdp", slog.String("label", label), slog.Any("summary", summary))
}

// Dump writes sd to dir so it can be inspected after a failed negotiation.
func Dump(dir, label string, sd webrtc.SessionDescription) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create sdp dump dir: %w", err)
	}

	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, label)

	ts := time.Now().Format("20060102-150405.000")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.sdp", ts, sanitized, sd.Type.String()))

	if err := os.WriteFile(path, []byte(sd.SDP), 0o644); err != nil {
		return "", fmt.Errorf("failed to write sdp dump: %w", err)
	}

	return path, nil
}
