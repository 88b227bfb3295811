package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WriteWAV writes normalized samples as a 16-bit PCM mono 16 kHz WAV, the
// only format the whisper binary accepts. Samples are clamped to [-1, 1].
func WriteWAV(w io.Writer, samples []float32) error {
	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    TargetSampleRate,
		ByteRate:      TargetSampleRate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write WAV header: %w", err)
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		pcm[i] = int16(s * 32767.0)
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("write WAV samples: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to path as a 16-bit PCM mono 16 kHz WAV.
func WriteWAVFile(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create WAV file: %w", err)
	}
	if err := WriteWAV(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadWAV parses a 16-bit PCM WAV and returns float32 samples plus the file's
// sample rate and channel count. The chunk list is walked, so files carrying
// an extended fmt chunk or LIST metadata ahead of the data chunk decode
// correctly. Compressed or non-16-bit files are rejected.
func ReadWAV(r io.Reader) ([]float32, int, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read WAV data: %w", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a WAV file")
	}

	var (
		fmtSeen     bool
		audioFormat uint16
		channels    uint16
		sampleRate  uint32
		bitDepth    uint16
		payload     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) {
			size = len(body)
		}
		chunk := body[:size]

		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, 0, fmt.Errorf("fmt chunk too short: %d bytes", len(chunk))
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(chunk[4:8])
			bitDepth = binary.LittleEndian.Uint16(chunk[14:16])
			fmtSeen = true
		case "data":
			payload = chunk
		}

		// Chunks are word aligned.
		off += 8 + size + size%2
	}

	if !fmtSeen {
		return nil, 0, 0, fmt.Errorf("missing fmt chunk")
	}
	if payload == nil {
		return nil, 0, 0, fmt.Errorf("missing data chunk")
	}
	if audioFormat != 1 {
		return nil, 0, 0, fmt.Errorf("unsupported WAV format %d, want PCM", audioFormat)
	}
	if bitDepth != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported bit depth %d, want 16", bitDepth)
	}

	samples := make([]float32, 0, len(payload)/2)
	for i := 0; i+2 <= len(payload); i += 2 {
		v := int16(binary.LittleEndian.Uint16(payload[i : i+2]))
		samples = append(samples, float32(v)/32768.0)
	}
	return samples, int(sampleRate), int(channels), nil
}
