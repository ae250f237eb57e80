// SPDX-License-Identifier: MIT

package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/llm"
	"github.com/chapterd/chapterd/internal/metrics"
)

// Cascade tiers, cheapest first. Each tier hands over to the next when
// it cannot produce chapters; only transport failures abort the run.
const (
	tierHint         = "hint"
	tierMultiShot4k  = "multishot_4k"
	tierMultiShot16k = "multishot_16k"
	tierOneByOne     = "one_by_one"
)

// chapterize turns the job's captions into chapters and reports which
// tier produced them.
func (o *Orchestrator) chapterize(ctx context.Context, j job) ([]chapter.Chapter, string, error) {
	if chapters, ok := hintChapters(j); ok {
		metrics.IncChapterizeTier(tierHint)
		return chapters, tierHint, nil
	}

	chapters, err := o.multiShot(ctx, j, false)
	if err != nil {
		return nil, tierMultiShot4k, err
	}
	if len(chapters) > 0 {
		metrics.IncChapterizeTier(tierMultiShot4k)
		return chapters, tierMultiShot4k, nil
	}

	chapters, err = o.multiShot(ctx, j, true)
	if err != nil {
		return nil, tierMultiShot16k, err
	}
	if len(chapters) > 0 {
		metrics.IncChapterizeTier(tierMultiShot16k)
		return chapters, tierMultiShot16k, nil
	}

	metrics.IncChapterizeTier(tierOneByOne)
	chapters, err = o.oneByOne(ctx, j)
	return chapters, tierOneByOne, err
}

// hintChapters converts a user supplied outline. One bad timestamp
// discards the whole outline.
func hintChapters(j job) ([]chapter.Chapter, bool) {
	if len(j.hints) == 0 {
		return nil, false
	}
	chapters := make([]chapter.Chapter, 0, len(j.hints))
	for _, h := range j.hints {
		secs, err := chapter.ParseTimestamp(h.Timestamp)
		if err != nil {
			return nil, false
		}
		chapters = append(chapters, chapter.Chapter{
			CID:     uuid.NewString(),
			Vid:     j.vid,
			Trigger: j.uid,
			Slicer:  chapter.SlicerYouTube,
			Style:   chapter.StyleMarkdown,
			Start:   secs,
			Lang:    j.lang,
			Chapter: h.Title,
		})
	}
	chapter.SortByStart(chapters)
	return chapters, true
}

// multiShot asks for the whole video's outline in one call. A nil result
// without error means the tier passed: over budget, unparseable or empty.
func (o *Orchestrator) multiShot(ctx context.Context, j job, large bool) ([]chapter.Chapter, error) {
	model, budget, tier := o.opts.ModelSmall, multiChapters4kBudget, tierMultiShot4k
	if large {
		model, budget, tier = o.opts.ModelLarge, multiChapters16kBudget, tierMultiShot16k
	}

	messages := append(multiChapterMessages(j.lang, large),
		llm.NewMessage(llm.RoleUser, renderCaptionsJSON(j.lines)))
	if llm.CountTokens(messages) >= budget {
		o.logger.Info().
			Str("event", "summarize.tier_over_budget").
			Str("vid", j.vid).
			Str("tier", tier).
			Msg("captions exceed tier budget")
		return nil, nil
	}

	content, err := o.chat.Chat(ctx, llm.ChatRequest{
		Messages: messages,
		Model:    model,
		TopP:     o.opts.TopPFreeForm,
		Timeout:  o.opts.SummarizeTimeout,
		APIKey:   j.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("chapterize %s: %w", tier, err)
	}

	entries, err := parseMultiShot(content)
	if err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.tier_unparseable").
			Str("vid", j.vid).
			Str("tier", tier).
			Msg("discarding tier output")
		return nil, nil
	}

	chapters := make([]chapter.Chapter, 0, len(entries))
	for _, e := range entries {
		start, ok := intFromJSON(e.Start)
		if e.Outline == "" || !ok || start < 0 {
			continue
		}
		chapters = append(chapters, chapter.Chapter{
			CID:     uuid.NewString(),
			Vid:     j.vid,
			Trigger: j.uid,
			Slicer:  chapter.SlicerLLM,
			Style:   chapter.StyleText,
			Start:   start,
			Lang:    j.lang,
			Chapter: e.Outline,
			Summary: strings.TrimSpace(e.Information),
		})
	}
	if len(chapters) == 0 {
		return nil, nil
	}
	chapter.SortByStart(chapters)
	return chapters, nil
}

// oneByOne walks the captions chunk by chunk, one outline per call, and
// publishes each appended chapter as incremental progress. idx tracks the
// next unseen caption; latestEnd the largest accepted end index. The
// `latestEnd += 5` escape keeps a stalling model from pinning the loop.
func (o *Orchestrator) oneByOne(ctx context.Context, j job) ([]chapter.Chapter, error) {
	var chapters []chapter.Chapter
	idx, latestEnd := 0, 0

	for idx < len(j.lines) {
		o.heartbeat(ctx, j.vid)

		chunkBase := idx
		system := oneChapterSystem(int(j.lines[idx].Start), j.lang)
		render := func(prefix []chapter.TimedText) []llm.Message {
			return []llm.Message{
				system,
				llm.NewMessage(llm.RoleUser, renderIndexedJSON(prefix, chunkBase)),
			}
		}

		chunk := Chunk(j.lines[idx:], oneChapterBudget, render)
		if len(chunk) == 0 {
			// A single caption line beyond the budget cannot be sent.
			idx++
			continue
		}

		content, err := o.chat.Chat(ctx, llm.ChatRequest{
			Messages: render(chunk),
			Model:    o.opts.ModelSmall,
			TopP:     o.opts.TopPFreeForm,
			Timeout:  o.opts.SummarizeTimeout,
			APIKey:   j.apiKey,
		})
		if err != nil {
			return nil, fmt.Errorf("chapterize %s: %w", tierOneByOne, err)
		}

		reply, parsed := parseOneChapter(content)
		endAt, hasEnd := 0, false
		if parsed {
			endAt, hasEnd = intFromJSON(reply.EndAt)
		}
		if !hasEnd {
			// No integer end index reads as end of content.
			break
		}

		if start, ok := intFromJSON(reply.Start); ok && reply.Outline != "" && start >= 0 {
			chapters = append(chapters, chapter.Chapter{
				CID:     uuid.NewString(),
				Vid:     j.vid,
				Trigger: j.uid,
				Slicer:  chapter.SlicerLLM,
				Style:   chapter.StyleMarkdown,
				Start:   start,
				Lang:    j.lang,
				Chapter: reply.Outline,
			})
			o.publishSummary(ctx, j.vid, chapter.StateDoing, chapters)
		}

		idx += len(chunk)
		switch {
		case endAt <= latestEnd:
			latestEnd += 5
			idx = latestEnd
		case endAt > idx:
			// The model claimed an end past the lines it was shown.
			latestEnd = idx
			idx = latestEnd + 1
		default:
			latestEnd = endAt
			idx = endAt + 1
		}
	}
	// Replies arrive in walk order, not necessarily start order.
	chapter.SortByStart(chapters)
	return chapters, nil
}

type multiShotEntry struct {
	Outline     string          `json:"outline"`
	Information string          `json:"information"`
	Start       json.RawMessage `json:"start"`
}

type oneChapterReply struct {
	EndAt   json.RawMessage `json:"end_at"`
	Start   json.RawMessage `json:"start"`
	Outline string          `json:"outline"`
}

// parseMultiShot decodes the first JSON array in a reply, tolerating
// fences and prose around it.
func parseMultiShot(content string) ([]multiShotEntry, error) {
	at := strings.IndexByte(content, '[')
	if at < 0 {
		return nil, fmt.Errorf("no JSON array in reply")
	}
	var entries []multiShotEntry
	if err := json.NewDecoder(strings.NewReader(content[at:])).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return entries, nil
}

func parseOneChapter(content string) (oneChapterReply, bool) {
	at := strings.IndexByte(content, '{')
	if at < 0 {
		return oneChapterReply{}, false
	}
	var reply oneChapterReply
	if err := json.NewDecoder(strings.NewReader(content[at:])).Decode(&reply); err != nil {
		return oneChapterReply{}, false
	}
	return reply, true
}

// intFromJSON accepts only a bare JSON integer. Strings, floats and null
// all fail, matching how replies are validated before use.
func intFromJSON(raw json.RawMessage) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false
	}
	return n, true
}

func renderCaptionsJSON(lines []chapter.TimedText) string {
	type entry struct {
		Start int    `json:"start"`
		Text  string `json:"text"`
	}
	entries := make([]entry, len(lines))
	for i, l := range lines {
		entries[i] = entry{Start: int(l.Start), Text: l.Text}
	}
	b, _ := json.Marshal(entries)
	return string(b)
}

func renderIndexedJSON(lines []chapter.TimedText, base int) string {
	type entry struct {
		Index int    `json:"index"`
		Start int    `json:"start"`
		Text  string `json:"text"`
	}
	entries := make([]entry, len(lines))
	for i, l := range lines {
		entries[i] = entry{Index: base + i, Start: int(l.Start), Text: l.Text}
	}
	b, _ := json.Marshal(entries)
	return string(b)
}
