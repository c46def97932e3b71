package media_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HMasataka/mirror/pkg/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIVF(t *testing.T, fourcc string, frames int) string {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("DKIF")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(32))
	buf.WriteString(fourcc)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(640))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(480))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(100))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(frames))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))

	for i := 0; i < frames; i++ {
		payload := []byte{0x10, 0x02, 0x00, byte(i)}
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
		_ = binary.Write(&buf, binary.LittleEndian, uint64(i))
		buf.Write(payload)
	}

	path := filepath.Join(t.TempDir(), "screen.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	return path
}

func TestOpenIVF(t *testing.T) {
	t.Run("VP8ファイル", func(t *testing.T) {
		src, err := media.OpenIVF(writeIVF(t, "VP80", 3))
		require.NoError(t, err)

		require.Len(t, src.Tracks(), 1)
		assert.Equal(t, webrtc.RTPCodecTypeVideo, src.Tracks()[0].Kind())
		assert.Equal(t, "screen", src.ID())
	})

	t.Run("未対応のコーデック", func(t *testing.T) {
		_, err := media.OpenIVF(writeIVF(t, "H264", 1))
		assert.ErrorIs(t, err, media.ErrUnsupportedCodec)
	})

	t.Run("存在しないファイル", func(t *testing.T) {
		_, err := media.OpenIVF(filepath.Join(t.TempDir(), "missing.ivf"))
		assert.Error(t, err)
	})
}

func TestIVFSource_Playback(t *testing.T) {
	t.Run("ファイルの終端でDoneになる", func(t *testing.T) {
		src, err := media.OpenIVF(writeIVF(t, "VP80", 3))
		require.NoError(t, err)

		src.Start(context.Background())

		select {
		case <-src.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("playback did not finish")
		}
	})

	t.Run("ループ再生はStopで終わる", func(t *testing.T) {
		src, err := media.OpenIVF(writeIVF(t, "VP80", 2), media.WithLoop(true))
		require.NoError(t, err)

		src.Start(context.Background())

		select {
		case <-src.Done():
			t.Fatal("looping source ended on its own")
		case <-time.After(100 * time.Millisecond):
		}

		src.Stop()
		src.Stop()

		select {
		case <-src.Done():
		case <-time.After(time.Second):
			t.Fatal("source did not stop")
		}
	})

	t.Run("開始前のStop", func(t *testing.T) {
		src, err := media.OpenIVF(writeIVF(t, "VP80", 1))
		require.NoError(t, err)

		src.Stop()
		<-src.Done()
	})
}

func TestStaticStream(t *testing.T) {
	s := media.NewStaticStream("screen")
	assert.Equal(t, "screen", s.ID())
	assert.Empty(t, s.Tracks())

	s.Stop()
	s.Stop()

	select {
	case <-s.Done():
	default:
		t.Fatal("stream not done after Stop")
	}
}
