// SPDX-License-Identifier: MIT

// Package captions fetches timed caption tracks for videos.
package captions

import (
	"context"
	"errors"

	"github.com/chapterd/chapterd/internal/chapter"
)

var (
	// ErrNoTranscript means no caption track matches the language
	// preference list. Terminal: callers populate the negative cache.
	ErrNoTranscript = errors.New("captions: no transcript available")

	// ErrTranscriptsDisabled means the video exposes no caption tracks at
	// all. Terminal like ErrNoTranscript.
	ErrTranscriptsDisabled = errors.New("captions: transcripts disabled")
)

// Result is a fetched caption track.
type Result struct {
	// Lines are the caption segments in playback order.
	Lines []chapter.TimedText

	// Lang is the track's actual language code, recorded on produced
	// chapters.
	Lang string
}

// Source fetches captions for a video id. Errors other than the terminal
// sentinels are transient and may succeed on retry.
type Source interface {
	Fetch(ctx context.Context, vid string) (Result, error)
}

// IsTerminal reports whether err is a definitive "no captions" outcome
// rather than a transient failure.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNoTranscript) || errors.Is(err, ErrTranscriptsDisabled)
}
