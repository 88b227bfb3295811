// Package record owns the live recording session: the sample buffer fed by
// local capture or the relay, the segmentation decision, and the handoff of
// finished segments to the transcription backend.
package record

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"hear.town/audio"
	"hear.town/stt"
	"hear.town/vad"
)

// ErrNotRecording is returned by Stop when no session is active.
var ErrNotRecording = errors.New("not recording")

const (
	// Segments shorter than 0.2s at 16kHz are noise bursts, not speech;
	// they are dropped after the buffer drain so VAD state still resets.
	minSegmentSamples = 3200

	// stopGracePeriod lets an in-flight capture callback observe the
	// cancellation before the buffer is cleared.
	stopGracePeriod = 200 * time.Millisecond

	defaultWorkers = 2
	jobQueueSize   = 8
)

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	Recording
)

// Config parameterizes one recording episode.
type Config struct {
	VAD          vad.Config
	CaptureLocal bool
	Device       string
}

type job struct {
	samples    []float32
	sampleRate int
	channels   int
}

// Session is the sole mutable root of the pipeline. The buffer, segmenter,
// format, and stop handle all live under one lock; the lock is never held
// across transcription or capture teardown.
type Session struct {
	logger      *log.Logger
	transcriber stt.Transcriber
	onPartial   func(text string)

	mu         sync.Mutex
	state      State
	sampleRate int
	channels   int
	buffer     []float32
	seg        *vad.Segmenter
	stop       chan struct{}

	jobs    chan job
	workers sync.WaitGroup

	closeOnce sync.Once

	// openCapture is indirected so tests can observe restart ordering
	// without a pulse daemon.
	openCapture func(device string, feed func([]float32), logger *log.Logger) (*captureStream, int, int, error)
}

// NewSession wires a session to its backend. onPartial fires once per
// non-empty transcript, from a worker goroutine, in completion order (which
// is not necessarily emission order).
func NewSession(
	transcriber stt.Transcriber,
	onPartial func(text string),
	logger *log.Logger,
) *Session {
	if onPartial == nil {
		onPartial = func(string) {}
	}
	s := &Session{
		logger:      logger,
		transcriber: transcriber,
		onPartial:   onPartial,
		jobs:        make(chan job, jobQueueSize),
		openCapture: startCapture,
	}
	for i := 0; i < defaultWorkers; i++ {
		s.workers.Add(1)
		go s.worker()
	}
	return s
}

// Start begins a recording episode and returns immediately. Starting while
// already recording stops the previous capture and discards any samples not
// yet drained. Capture errors are reported here, synchronously.
func (s *Session) Start(cfg Config) error {
	// Tear the previous episode down first so its capture stream is
	// already closing, and its stray callbacks ignored, before a new
	// stream opens. Otherwise two streams would briefly feed the fresh
	// buffer on restart.
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
		s.state = Idle
	}
	s.mu.Unlock()

	sampleRate := audio.TargetSampleRate
	channels := 1

	var capture *captureStream
	if cfg.CaptureLocal {
		var err error
		capture, sampleRate, channels, err = s.openCapture(cfg.Device, s.Feed, s.logger)
		if err != nil {
			return err
		}
	}

	stopCh := make(chan struct{})

	s.mu.Lock()
	s.state = Recording
	s.sampleRate = sampleRate
	s.channels = channels
	s.buffer = nil
	if s.seg == nil {
		s.seg = vad.NewSegmenter(cfg.VAD, sampleRate, channels, audio.EnergyDB)
	} else {
		s.seg.Reset(cfg.VAD, sampleRate, channels)
	}
	s.stop = stopCh
	s.mu.Unlock()

	if capture != nil {
		go func() {
			<-stopCh
			capture.Close()
		}()
	}

	s.logger.Info("recording started",
		"local", cfg.CaptureLocal,
		"rate", sampleRate,
		"channels", channels,
		"vad", cfg.VAD.Enabled)
	return nil
}

// Feed routes a chunk of samples through the ingest path. It is safe to call
// from the capture callback, the relay, and external feeders concurrently,
// and never blocks on transcription.
func (s *Session) Feed(samples []float32) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return
	}

	s.buffer = append(s.buffer, samples...)
	if s.seg.Observe(samples) != vad.Emit {
		s.mu.Unlock()
		return
	}

	// Checked again right before draining: a stop may have been queued
	// just as the decision was made.
	if s.state != Recording {
		s.mu.Unlock()
		return
	}
	segment := s.buffer
	s.buffer = nil
	sampleRate := s.sampleRate
	channels := s.channels
	s.mu.Unlock()

	if len(segment) < minSegmentSamples {
		return
	}

	select {
	case s.jobs <- job{samples: segment, sampleRate: sampleRate, channels: channels}:
	default:
		s.logger.Warn("transcription queue full, dropping segment",
			"samples", len(segment))
	}
}

// Stop halts the active episode. In-flight transcriptions for segments
// captured before the stop still complete and report.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return ErrNotRecording
	}
	close(s.stop)
	s.stop = nil
	s.state = Idle
	s.mu.Unlock()

	time.Sleep(stopGracePeriod)

	s.mu.Lock()
	s.buffer = nil
	s.mu.Unlock()

	s.logger.Info("recording stopped")
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the session down: stops any active episode and waits for
// queued transcriptions to finish.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
			s.logger.Error("stop on close", "error", err)
		}
		close(s.jobs)
		s.workers.Wait()
	})
}

func (s *Session) worker() {
	defer s.workers.Done()
	for j := range s.jobs {
		normalized := audio.Normalize(j.samples, j.sampleRate, j.channels)
		text, err := s.transcriber.Transcribe(context.Background(), normalized)
		if err != nil {
			// One failed utterance must not abort the episode.
			s.logger.Error("transcription failed", "error", err)
			continue
		}
		if text == "" {
			continue
		}
		s.onPartial(text)
	}
}
