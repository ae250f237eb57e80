// SPDX-License-Identifier: MIT

package summarize

import (
	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/llm"
)

// RenderFunc renders a caption prefix into the chat messages that would
// be sent for it.
type RenderFunc func(lines []chapter.TimedText) []llm.Message

// Chunk returns the largest prefix of lines whose rendered messages stay
// strictly under limit tokens. Greedy and deterministic: either the whole
// slice fits, or adding one more line would reach the limit. An empty
// prefix means even the first line alone does not fit.
func Chunk(lines []chapter.TimedText, limit int, render RenderFunc) []chapter.TimedText {
	n := 0
	for n < len(lines) {
		if llm.CountTokens(render(lines[:n+1])) >= limit {
			break
		}
		n++
	}
	return lines[:n]
}
