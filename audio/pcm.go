// Package audio holds the pure sample-domain transformations: energy
// measurement, downmixing, resampling, and the float32 wire codec shared by
// the relay and the local capture path.
package audio

import (
	"encoding/binary"
	"math"
)

// TargetSampleRate is the rate the transcription engine requires.
const TargetSampleRate = 16000

// EnergyDB computes the RMS energy of a chunk in dBFS. Empty and all-zero
// input report -100 dB rather than the log of zero.
func EnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100.0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	if rms <= 0 {
		return -100.0
	}
	return 20 * math.Log10(rms)
}

// DownmixStereo averages adjacent sample pairs into one channel. Input with
// an odd trailing sample drops it. Channel counts other than two should not
// be passed here; Normalize treats them as already mono.
func DownmixStereo(samples []float32) []float32 {
	mono := make([]float32, 0, len(samples)/2)
	for i := 0; i+1 < len(samples); i += 2 {
		mono = append(mono, (samples[i]+samples[i+1])/2)
	}
	return mono
}

// Resample converts samples from one rate to another by nearest-neighbor
// index scaling. Not band-limited; aliasing is traded for speed, which is
// fine for speech recognition input.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 {
		return samples
	}
	ratio := float64(to) / float64(from)
	targetLen := int(float64(len(samples)) * ratio)
	out := make([]float32, 0, targetLen)
	for i := 0; i < targetLen; i++ {
		srcIdx := int(float64(i) / ratio)
		if srcIdx < len(samples) {
			out = append(out, samples[srcIdx])
		}
	}
	return out
}

// Normalize converts arbitrary capture formats to the engine's required
// 16 kHz mono. Stereo is downmixed; other channel counts pass through as if
// mono. Already-normalized input comes back unchanged.
func Normalize(samples []float32, sampleRate, channels int) []float32 {
	mono := samples
	if channels == 2 {
		mono = DownmixStereo(samples)
	}
	return Resample(mono, sampleRate, TargetSampleRate)
}

// DecodeFloat32LE reinterprets little-endian IEEE 754 bytes as samples.
// The byte length must be a multiple of four; callers validate that.
func DecodeFloat32LE(data []byte) []float32 {
	samples := make([]float32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		bits := binary.LittleEndian.Uint32(data[i : i+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE.
func EncodeFloat32LE(samples []float32) []byte {
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return data
}
