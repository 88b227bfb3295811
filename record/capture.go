package record

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"hear.town/audio"
)

// captureFragmentBytes is 100ms of float32 mono at 16kHz per callback.
const captureFragmentBytes = 6400

// captureStream is a live PulseAudio record stream feeding the session.
type captureStream struct {
	client *pulse.Client
	stream *pulse.RecordStream
}

// startCapture opens the requested (or default) input source as a 16kHz mono
// float stream. Pulse resamples server-side, so the requested format is also
// the negotiated one.
func startCapture(
	device string,
	feed func([]float32),
	logger *log.Logger,
) (*captureStream, int, int, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("hear"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("connect pulse server: %w", err)
	}

	var source *pulse.Source
	if device == "" || device == "default" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(device)
	}
	if err != nil {
		client.Close()
		return nil, 0, 0, fmt.Errorf("resolve input source %q: %w", device, err)
	}

	// The callback runs on the stream's delivery goroutine; Feed only
	// appends and runs VAD arithmetic, so it is safe to call inline.
	writer := pulse.NewWriter(writerFunc(func(data []byte) (int, error) {
		feed(audio.DecodeFloat32LE(data))
		return len(data), nil
	}), pulseproto.FormatFloat32LE)

	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(audio.TargetSampleRate),
		pulse.RecordBufferFragmentSize(captureFragmentBytes),
		pulse.RecordMediaName("hear dictation"),
	)
	if err != nil {
		client.Close()
		return nil, 0, 0, fmt.Errorf("create record stream: %w", err)
	}

	stream.Start()
	logger.Info("capture started", "source", source.ID())

	return &captureStream{client: client, stream: stream},
		audio.TargetSampleRate, 1, nil
}

func (c *captureStream) Close() {
	c.stream.Stop()
	c.stream.Close()
	c.client.Close()
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
