// SPDX-License-Identifier: MIT

// Package registry provides the per-video flag service: an advisory
// "summarizing" flag marking an in-flight run and a "no transcript"
// negative cache, both bounded by TTLs.
package registry

import (
	"context"
	"time"
)

// Registry is a keyed TTL flag service. Flags are advisory: they optimize
// behavior, they do not gate correctness, so callers treat backend errors
// as "unknown" and fall through to the chapter store.
type Registry interface {
	// TrySet sets the key with the given TTL only if it is absent.
	// Reports whether this call acquired the flag.
	TrySet(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Exists reports whether the key is currently set.
	Exists(ctx context.Context, key string) (bool, error)

	// Refresh unconditionally sets the key with a fresh TTL.
	Refresh(ctx context.Context, key string, ttl time.Duration) error

	// Clear removes the key.
	Clear(ctx context.Context, key string) error

	Close() error
}

// SummarizingKey is the in-flight flag key for a video.
func SummarizingKey(vid string) string {
	return "summarize_" + vid
}

// NoTranscriptKey is the negative cache key for a video without captions.
func NoTranscriptKey(vid string) string {
	return "no_transcript_" + vid
}
