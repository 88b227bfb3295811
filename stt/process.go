package stt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ProcessTranscriber invokes the provisioned whisper binary once per segment.
// Samples are written to a scratch WAV which is removed regardless of outcome.
type ProcessTranscriber struct {
	BinPath    string
	ModelPath  string
	Language   string
	ScratchDir string

	logger *log.Logger

	// writeWAV is the scratch-file encoder, injected so tests can observe
	// what the subprocess would have read.
	writeWAV func(path string, samples []float32) error
}

func NewProcessTranscriber(
	binPath, modelPath, language, scratchDir string,
	writeWAV func(path string, samples []float32) error,
	logger *log.Logger,
) *ProcessTranscriber {
	return &ProcessTranscriber{
		BinPath:    binPath,
		ModelPath:  modelPath,
		Language:   language,
		ScratchDir: scratchDir,
		logger:     logger,
		writeWAV:   writeWAV,
	}
}

func (t *ProcessTranscriber) Transcribe(
	ctx context.Context,
	samples []float32,
) (string, error) {
	wavPath := filepath.Join(
		t.ScratchDir,
		fmt.Sprintf("chunk-%s.wav", uuid.New().String()),
	)
	if err := t.writeWAV(wavPath, samples); err != nil {
		return "", fmt.Errorf("write scratch WAV: %w", err)
	}
	defer os.Remove(wavPath)

	cmd := exec.CommandContext(ctx, t.BinPath,
		"-m", t.ModelPath,
		"-f", wavPath,
		"-nt",
		"-l", t.Language,
	)
	// whisper.cpp resolves its shared libraries relative to the binary.
	cmd.Dir = filepath.Dir(t.BinPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf(
			"whisper process: %w: %s",
			err,
			strings.TrimSpace(stderr.String()),
		)
	}

	text := strings.TrimSpace(stdout.String())
	t.logger.Debug("transcribed segment",
		"samples", len(samples), "chars", len(text))
	return text, nil
}
