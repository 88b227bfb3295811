// Package vad implements the voice-activity-driven segmentation state
// machine. A Segmenter watches the energy of incoming sample chunks and
// decides when the audio accumulated since the last emission constitutes a
// complete utterance.
//
// Silence duration is estimated by counting consecutive silent chunks and
// multiplying by the current chunk's duration. This assumes roughly uniform
// chunk sizes, which holds for device capture callbacks but can skew for
// remote-fed chunks of varying size.
package vad

import "time"

// Decision is the segmenter's verdict for one observed chunk.
type Decision int

const (
	Continue Decision = iota
	Emit
)

// chunkInterval is the fixed emission period used when VAD is disabled.
const chunkInterval = 5 * time.Second

// Config controls segmentation for one recording episode. It is immutable
// once the episode starts.
type Config struct {
	Enabled            bool
	SilenceThresholdDB float64
	SilenceDuration    time.Duration
	MinChunkDuration   time.Duration
}

// DefaultConfig returns the tuning that works well for close-mic dictation.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		SilenceThresholdDB: -40.0,
		SilenceDuration:    1500 * time.Millisecond,
		MinChunkDuration:   1000 * time.Millisecond,
	}
}

// Segmenter tracks silence runs across chunks. It is not goroutine safe; the
// recording session owns it and serializes access under its own lock.
type Segmenter struct {
	cfg        Config
	sampleRate int
	channels   int

	silentRun    int
	lastEmission time.Time

	energyDB func([]float32) float64
	now      func() time.Time
}

// NewSegmenter creates a segmenter for a stream in the given capture format.
func NewSegmenter(cfg Config, sampleRate, channels int, energyDB func([]float32) float64) *Segmenter {
	s := &Segmenter{
		energyDB: energyDB,
		now:      time.Now,
	}
	s.Reset(cfg, sampleRate, channels)
	return s
}

// Reset clears all silence and timing state for a new recording episode.
func (s *Segmenter) Reset(cfg Config, sampleRate, channels int) {
	s.cfg = cfg
	s.sampleRate = sampleRate
	s.channels = channels
	s.silentRun = 0
	s.lastEmission = s.now()
}

// Observe accounts one chunk of samples and decides whether the buffer
// accumulated so far should be emitted for transcription. On Emit the silent
// run and emission clock are reset; the caller drains its buffer.
func (s *Segmenter) Observe(chunk []float32) Decision {
	if !s.cfg.Enabled {
		if s.now().Sub(s.lastEmission) >= chunkInterval {
			s.lastEmission = s.now()
			return Emit
		}
		return Continue
	}

	if s.energyDB(chunk) < s.cfg.SilenceThresholdDB {
		s.silentRun++
	} else {
		s.silentRun = 0
	}

	chunkDuration := time.Duration(
		float64(len(chunk)) / float64(s.channels) / float64(s.sampleRate) * float64(time.Second),
	)
	silentDuration := time.Duration(s.silentRun) * chunkDuration

	if silentDuration >= s.cfg.SilenceDuration &&
		s.now().Sub(s.lastEmission) >= s.cfg.MinChunkDuration {
		s.silentRun = 0
		s.lastEmission = s.now()
		return Emit
	}
	return Continue
}
