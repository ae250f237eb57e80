// SPDX-License-Identifier: MIT

package summarize

import (
	"context"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/llm"
	"github.com/chapterd/chapterd/internal/metrics"
)

// refineAll summarizes every chapter in parallel and reports whether any
// of them failed. A failed chapter keeps whatever summary it had; its
// peers are not interrupted.
func (o *Orchestrator) refineAll(ctx context.Context, j job, chapters []chapter.Chapter) bool {
	var g errgroup.Group
	g.SetLimit(o.opts.RefineConcurrency)

	failed := make([]error, len(chapters))
	for i := range chapters {
		lo := float64(chapters[i].Start)
		hi := math.Inf(1)
		if i+1 < len(chapters) {
			hi = float64(chapters[i+1].Start)
		}
		var slice []chapter.TimedText
		for _, l := range j.lines {
			if l.Start >= lo && l.Start < hi {
				slice = append(slice, l)
			}
		}

		g.Go(func() error {
			if err := o.refineChapter(ctx, &chapters[i], slice, j); err != nil {
				failed[i] = err
				metrics.IncRefineFailure()
				o.logger.Error().Err(err).
					Str("event", "summarize.refine_failed").
					Str("vid", j.vid).
					Str("cid", chapters[i].CID).
					Msg("chapter refine failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range failed {
		if err != nil {
			return true
		}
	}
	return false
}

// refineChapter folds the chapter's caption slice into a bullet list
// summary, langchain refine style: the first pass summarizes, later
// passes extend the carried summary with the next block of lines.
func (o *Orchestrator) refineChapter(ctx context.Context, ch *chapter.Chapter, slice []chapter.TimedText, j job) error {
	summary := strings.TrimSpace(ch.Summary)
	passes := 0
	consumed := 0

	for consumed < len(slice) {
		var system llm.Message
		var budget int
		if summary == "" {
			system = refineFirstSystem(ch.Chapter, j.lang)
			budget = refineFirstBudget
		} else {
			system = refineNextSystem(summary, ch.Chapter, j.lang)
			budget = refineNextBudget
		}

		render := func(prefix []chapter.TimedText) []llm.Message {
			return []llm.Message{
				system,
				llm.NewMessage(llm.RoleUser, renderBracketLines(prefix)),
			}
		}
		chunk := Chunk(slice[consumed:], budget, render)
		if len(chunk) == 0 {
			// No new content fits, the summary is as good as it gets.
			break
		}

		content, err := o.chat.Chat(ctx, llm.ChatRequest{
			Messages: render(chunk),
			Model:    o.opts.ModelSmall,
			TopP:     o.opts.TopPDeterministic,
			Timeout:  o.opts.SummarizeTimeout,
			APIKey:   j.apiKey,
		})
		if err != nil {
			return err
		}

		summary = strings.TrimSpace(content)
		passes++
		consumed += len(chunk)
	}

	ch.Summary = summary
	ch.Style = chapter.StyleMarkdown
	ch.Refined = max(0, passes-1)
	return nil
}

// renderBracketLines renders caption lines the way the refine prompts
// describe them, one bracketed text per line.
func renderBracketLines(lines []chapter.TimedText) string {
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteByte('[')
		sb.WriteString(l.Text)
		sb.WriteByte(']')
	}
	return sb.String()
}
