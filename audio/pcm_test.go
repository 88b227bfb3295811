package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnergyDB(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, -100.0, EnergyDB(nil))
		assert.Equal(t, -100.0, EnergyDB([]float32{}))
	})

	t.Run("all zero input", func(t *testing.T) {
		assert.Equal(t, -100.0, EnergyDB(make([]float32, 4096)))
	})

	t.Run("constant amplitude maps to exact dBFS", func(t *testing.T) {
		// RMS of a constant signal equals its amplitude, so
		// 20*log10(amplitude) is the expected energy.
		buf := make([]float32, 1600)
		for i := range buf {
			buf[i] = 0.1
		}
		assert.InDelta(t, -20.0, EnergyDB(buf), 1e-6)
	})

	t.Run("full scale is zero dB", func(t *testing.T) {
		buf := []float32{1, -1, 1, -1}
		assert.InDelta(t, 0.0, EnergyDB(buf), 1e-6)
	})
}

func TestDownmixStereo(t *testing.T) {
	mono := DownmixStereo([]float32{0.2, 0.4, -1, 1, 0.5, 0.5})
	require.Len(t, mono, 3)
	assert.InDelta(t, 0.3, float64(mono[0]), 1e-6)
	assert.InDelta(t, 0.0, float64(mono[1]), 1e-6)
	assert.InDelta(t, 0.5, float64(mono[2]), 1e-6)
}

func TestResample(t *testing.T) {
	t.Run("identity at equal rates", func(t *testing.T) {
		in := []float32{0.1, 0.2, 0.3}
		assert.Equal(t, in, Resample(in, 16000, 16000))
	})

	t.Run("downsampling halves length", func(t *testing.T) {
		in := make([]float32, 320)
		out := Resample(in, 32000, 16000)
		assert.Len(t, out, 160)
	})
}

func TestNormalize(t *testing.T) {
	t.Run("already normalized input is unchanged", func(t *testing.T) {
		in := []float32{0.25, -0.5, 0.75, 0}
		assert.Equal(t, in, Normalize(in, 16000, 1))
	})

	t.Run("stereo 44.1kHz constant signal", func(t *testing.T) {
		// 0.1s of stereo at 44.1kHz: 4410 samples per channel.
		in := make([]float32, 4410*2)
		for i := range in {
			in[i] = 0.5
		}
		out := Normalize(in, 44100, 2)
		assert.InDelta(t, 1600, len(out), 2)
		for _, s := range out {
			assert.Equal(t, float32(0.5), s)
		}
	})
}

func TestFloat32LERoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.123, float32(math.Pi)}
	out := DecodeFloat32LE(EncodeFloat32LE(in))
	assert.Equal(t, in, out)
}

func TestDecodeFloat32LETruncatesPartialWord(t *testing.T) {
	data := EncodeFloat32LE([]float32{0.5, -0.5})
	out := DecodeFloat32LE(data[:7])
	assert.Equal(t, []float32{0.5}, out)
}
