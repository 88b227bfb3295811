package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// EmbeddedTranscriber runs whisper inference in-process. The loaded model is
// shared across calls but only one inference may run against it at a time;
// each call gets a fresh decoding context.
type EmbeddedTranscriber struct {
	language string
	logger   *log.Logger

	mu    sync.Mutex
	model whisper.Model
}

func NewEmbeddedTranscriber(
	modelPath, language string,
	logger *log.Logger,
) (*EmbeddedTranscriber, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &EmbeddedTranscriber{
		language: language,
		logger:   logger,
		model:    model,
	}, nil
}

func (t *EmbeddedTranscriber) Transcribe(
	ctx context.Context,
	samples []float32,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return "", errors.New("transcriber closed")
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		return "", fmt.Errorf("set language %q: %w", t.language, err)
	}
	wctx.SetTranslate(false)

	// Greedy decode, no progress or per-segment callbacks.
	if err := wctx.Process(samples, nil, nil); err != nil {
		return "", fmt.Errorf("whisper inference: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read whisper segment: %w", err)
		}
		sb.WriteString(segment.Text)
	}

	text := strings.TrimSpace(sb.String())
	t.logger.Debug("transcribed segment",
		"samples", len(samples), "chars", len(text))
	return text, nil
}

func (t *EmbeddedTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model == nil {
		return nil
	}
	err := t.model.Close()
	t.model = nil
	return err
}
