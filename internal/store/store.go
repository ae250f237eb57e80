// SPDX-License-Identifier: MIT

// Package store defines the persistence interfaces consumed by the
// orchestrator and the API layer.
package store

import (
	"context"

	"github.com/chapterd/chapterd/internal/chapter"
)

// ChapterStore persists finalized chapter sets per video.
type ChapterStore interface {
	// FindByVid returns up to limit stored chapters for a video, ordered by
	// start ascending; limit <= 0 means unlimited. A video without chapters
	// yields an empty slice.
	FindByVid(ctx context.Context, vid string, limit int) ([]chapter.Chapter, error)

	// Replace atomically swaps the stored chapter set for a video with the
	// given one (delete-then-insert in one transaction).
	Replace(ctx context.Context, vid string, chapters []chapter.Chapter) error

	// DeleteByVid removes all chapters for a video and reports how many
	// rows went away.
	DeleteByVid(ctx context.Context, vid string) (int64, error)
}

// FeedbackReader reads good/bad counters for a video. The orchestrator only
// ever reads feedback; writes come from the feedback endpoint.
type FeedbackReader interface {
	// FindFeedback returns the counters for a video and whether a row
	// exists.
	FindFeedback(ctx context.Context, vid string) (chapter.Feedback, bool, error)
}

// FeedbackStore extends FeedbackReader with the write side used by the
// feedback endpoint.
type FeedbackStore interface {
	FeedbackReader

	// ApplyFeedback adds the given deltas to a video's counters, clamping
	// both at zero, and returns the resulting counters.
	ApplyFeedback(ctx context.Context, vid string, good, bad int) (chapter.Feedback, error)

	// DeleteFeedback removes the counters for a video.
	DeleteFeedback(ctx context.Context, vid string) error
}

// Store is the full persistence surface backed by one database.
type Store interface {
	ChapterStore
	FeedbackStore

	Close() error
}
