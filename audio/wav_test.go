package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.999, -0.999}

	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, in))

	out, rate, channels, err := ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, TargetSampleRate, rate)
	assert.Equal(t, 1, channels)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, float64(in[i]), float64(out[i]), 1.0/32767)
	}
}

func TestWriteWAVClampsOutOfRange(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, []float32{2.0, -2.0}))

	out, _, _, err := ReadWAV(&buf)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(out[0]), 1.0/32767)
	assert.InDelta(t, -1.0, float64(out[1]), 1.0/32767)
}

func TestReadWAVWalksExtendedChunks(t *testing.T) {
	// An 18-byte fmt chunk (cbSize trailer) and a LIST chunk ahead of
	// data, as many encoders produce.
	pcm := []int16{0, 16384, -16384, 32767}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // file size, unchecked
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(18))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	binary.Write(&buf, binary.LittleEndian, uint32(16000)) // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))     // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))    // bit depth
	binary.Write(&buf, binary.LittleEndian, uint16(0))     // cbSize

	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.WriteString("INFO")

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)*2))
	binary.Write(&buf, binary.LittleEndian, pcm)

	out, rate, channels, err := ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, 1, channels)
	require.Len(t, out, 4)
	assert.InDelta(t, 0.5, float64(out[1]), 1e-4)
	assert.InDelta(t, -0.5, float64(out[2]), 1e-4)
}

func TestReadWAVRejectsMissingDataChunk(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(16000))
	binary.Write(&buf, binary.LittleEndian, uint32(32000))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	_, _, _, err := ReadWAV(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data chunk")
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	_, _, _, err := ReadWAV(bytes.NewReader([]byte("not a wav file at all, nowhere near long enough")))
	assert.Error(t, err)
}
