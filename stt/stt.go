// Package stt abstracts speech-to-text over finished utterance segments.
// Two interchangeable backends exist: one shells out to the provisioned
// whisper.cpp binary, the other runs inference in-process through the
// whisper.cpp bindings. Which one is used is decided once at wiring time.
package stt

import "context"

// Transcriber turns one normalized segment (16 kHz mono float samples in
// [-1, 1]) into text. An empty string means nothing was said.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// Closer is implemented by backends holding releasable resources.
type Closer interface {
	Close() error
}
