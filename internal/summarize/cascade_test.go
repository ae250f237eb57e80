// SPDX-License-Identifier: MIT

package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/llm"
)

func TestHintChaptersParsesOutline(t *testing.T) {
	j := job{
		vid: "v1", uid: "u1", lang: "en",
		hints: []chapter.Hint{
			{Title: "Outro", Timestamp: "1:02:03"},
			{Title: "Intro", Timestamp: "0:00"},
			{Title: "Middle", Timestamp: "02:03"},
		},
	}

	chapters, ok := hintChapters(j)
	require.True(t, ok)
	require.Len(t, chapters, 3)

	// Sorted by start regardless of hint order.
	require.Equal(t, []int{0, 123, 3723}, []int{chapters[0].Start, chapters[1].Start, chapters[2].Start})
	require.Equal(t, "Intro", chapters[0].Chapter)
	for _, c := range chapters {
		require.Equal(t, chapter.SlicerYouTube, c.Slicer)
		require.Equal(t, chapter.StyleMarkdown, c.Style)
		require.Equal(t, "v1", c.Vid)
		require.Equal(t, "u1", c.Trigger)
		require.Equal(t, "en", c.Lang)
		require.NotEmpty(t, c.CID)
		require.Empty(t, c.Summary)
	}
}

func TestHintChaptersOneBadTimestampDiscardsAll(t *testing.T) {
	j := job{
		vid: "v1",
		hints: []chapter.Hint{
			{Title: "Fine", Timestamp: "0:00"},
			{Title: "Broken", Timestamp: "later"},
		},
	}

	chapters, ok := hintChapters(j)
	require.False(t, ok)
	require.Nil(t, chapters)
}

func TestHintChaptersEmpty(t *testing.T) {
	_, ok := hintChapters(job{vid: "v1"})
	require.False(t, ok)
}

func TestMultiShotMapsEntries(t *testing.T) {
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		require.Equal(t, "gpt-3.5-turbo", req.Model)
		return `Here you go:
[
  {"outline":"B","information":"Second. ","start":9,"timestamp":"00:00:09"},
  {"outline":"A","information":"First.","start":2,"timestamp":"00:00:02"},
  {"outline":"","information":"dropped, no outline","start":4},
  {"outline":"neg","information":"dropped, negative start","start":-1},
  {"outline":"str","information":"dropped, string start","start":"7"}
]`, nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.multiShot(context.Background(), job{vid: "v1", uid: "u1", lang: "en", lines: threeLines()}, false)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	require.Equal(t, "A", chapters[0].Chapter)
	require.Equal(t, 2, chapters[0].Start)
	require.Equal(t, "First.", chapters[0].Summary)
	require.Equal(t, chapter.SlicerLLM, chapters[0].Slicer)
	require.Equal(t, chapter.StyleText, chapters[0].Style)
	require.Equal(t, "B", chapters[1].Chapter)
	require.Equal(t, "Second.", chapters[1].Summary)
}

func TestMultiShotOverBudgetSkipsCall(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	lines := make([]chapter.TimedText, 0, 4000)
	for i := 0; i < 4000; i++ {
		lines = append(lines, chapter.TimedText{Start: float64(i), Text: "some caption words here"})
	}

	chapters, err := env.orch.multiShot(context.Background(), job{vid: "v1", lines: lines}, false)
	require.NoError(t, err)
	require.Nil(t, chapters)
	require.Zero(t, chat.callCount())
}

func TestMultiShotUnparseableHandsOver(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "I could not find any chapters, sorry.", nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.multiShot(context.Background(), job{vid: "v1", lines: threeLines()}, false)
	require.NoError(t, err)
	require.Nil(t, chapters)
}

func TestMultiShotLargeUsesExamplePair(t *testing.T) {
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		require.Equal(t, "gpt-3.5-turbo-16k", req.Model)
		require.Len(t, req.Messages, 4) // system, example user, example assistant, captions
		require.Equal(t, llm.RoleAssistant, req.Messages[2].Role)
		return `[{"outline":"A","information":"First.","start":0,"timestamp":"00:00:00"}]`, nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.multiShot(context.Background(), job{vid: "v1", lines: threeLines()}, true)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
}

func TestMultiShotTransportErrorAborts(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("boom")
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	_, err := env.orch.multiShot(context.Background(), job{vid: "v1", lines: threeLines()}, false)
	require.Error(t, err)
}

// manyLines builds captions long enough that one-by-one chunking matters.
func manyLines(n int) []chapter.TimedText {
	lines := make([]chapter.TimedText, n)
	for i := range lines {
		lines[i] = chapter.TimedText{Start: float64(i), Duration: 1, Text: fmt.Sprintf("line %d", i)}
	}
	return lines
}

func TestOneByOneWalksCaptions(t *testing.T) {
	replies := []string{
		`{"end_at":9,"start":0,"timestamp":"00:00:00","outline":"A"}`,
		`{"end_at":19,"start":10,"timestamp":"00:00:10","outline":"B"}`,
		`{"end_at":"eof"}`,
	}
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		require.LessOrEqual(t, n, len(replies))
		return replies[n-1], nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.oneByOne(context.Background(), job{vid: "v1", uid: "u1", lang: "en", lines: manyLines(40)})
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	require.Equal(t, "A", chapters[0].Chapter)
	require.Equal(t, 0, chapters[0].Start)
	require.Equal(t, "B", chapters[1].Chapter)
	require.Equal(t, 10, chapters[1].Start)
	for _, c := range chapters {
		require.Equal(t, chapter.SlicerLLM, c.Slicer)
		require.Equal(t, chapter.StyleMarkdown, c.Style)
		require.Empty(t, c.Summary)
	}
}

func TestOneByOneSortsNonMonotonicStarts(t *testing.T) {
	// The model is free to claim any start; a later reply with an earlier
	// start must still come out ordered ascending.
	replies := []string{
		`{"end_at":9,"start":50,"timestamp":"00:00:50","outline":"Late"}`,
		`{"end_at":19,"start":10,"timestamp":"00:00:10","outline":"Early"}`,
		`{"end_at":"eof"}`,
	}
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		require.LessOrEqual(t, n, len(replies))
		return replies[n-1], nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.oneByOne(context.Background(), job{vid: "v1", uid: "u1", lang: "en", lines: manyLines(40)})
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	require.Equal(t, "Early", chapters[0].Chapter)
	require.Equal(t, 10, chapters[0].Start)
	require.Equal(t, "Late", chapters[1].Chapter)
	require.Equal(t, 50, chapters[1].Start)
}

func TestOneByOneBreaksRepeatedEndDeadlock(t *testing.T) {
	// The model keeps answering end_at=5. After it has been accepted once
	// (latestEnd=5), every repeat advances latestEnd by 5, so the window
	// walks 6, 10, 15, 20, ... until the captions drain.
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		return `{"end_at":5,"start":0,"timestamp":"00:00:00","outline":"Stuck"}`, nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.oneByOne(context.Background(), job{vid: "v1", lines: manyLines(20)})
	require.NoError(t, err)
	require.NotEmpty(t, chapters)

	// First round: end_at=5 > latestEnd=0, accepted, idx=6. Second round:
	// end_at=5 <= latestEnd=5, so latestEnd += 5 and idx jumps to 10.
	bases := chunkBases(t, chat)
	require.GreaterOrEqual(t, len(bases), 3)
	require.Equal(t, 0, bases[0])
	require.Equal(t, 6, bases[1])
	require.Equal(t, 10, bases[2])
}

// longLines builds captions so wordy that only a few fit per chunk.
func longLines(n int) []chapter.TimedText {
	text := strings.TrimSpace(strings.Repeat("pad ", 1500))
	lines := make([]chapter.TimedText, n)
	for i := range lines {
		lines[i] = chapter.TimedText{Start: float64(i), Duration: 1, Text: text}
	}
	return lines
}

func TestOneByOneOverClaimClampsToShownLines(t *testing.T) {
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		if n == 1 {
			// Claims an end far past the lines it was shown.
			return `{"end_at":500,"start":0,"timestamp":"00:00:00","outline":"A"}`, nil
		}
		return `{"end_at":"eof"}`, nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.oneByOne(context.Background(), job{vid: "v1", lines: longLines(10)})
	require.NoError(t, err)
	require.Len(t, chapters, 1)

	// The next chunk starts just past the shown lines, not at the
	// claimed end index.
	bases := chunkBases(t, chat)
	sizes := chunkSizes(t, chat)
	require.GreaterOrEqual(t, len(bases), 2)
	require.Less(t, sizes[0], 10)
	require.Equal(t, 0, bases[0])
	require.Equal(t, sizes[0]+1, bases[1])
}

func TestOneByOneNonIntegerEndTerminates(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return `{"end_at":null,"outline":"A","start":0}`, nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.oneByOne(context.Background(), job{vid: "v1", lines: manyLines(30)})
	require.NoError(t, err)
	require.Empty(t, chapters)
	require.Equal(t, 1, chat.callCount())
}

func TestOneByOneSkipsEntryWithoutOutline(t *testing.T) {
	replies := []string{
		`{"end_at":9,"start":0,"timestamp":"00:00:00","outline":""}`,
		`{"end_at":"eof"}`,
	}
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		require.LessOrEqual(t, n, len(replies))
		return replies[n-1], nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, err := env.orch.oneByOne(context.Background(), job{vid: "v1", lines: manyLines(15)})
	require.NoError(t, err)
	require.Empty(t, chapters)
}

// chunkEntries decodes the indexed caption arrays the fake chat saw, one
// per one-by-one round.
func chunkEntries(t *testing.T, chat *fakeChat) [][]struct {
	Index int `json:"index"`
} {
	t.Helper()
	chat.mu.Lock()
	defer chat.mu.Unlock()

	var all [][]struct {
		Index int `json:"index"`
	}
	for _, call := range chat.calls {
		user := call.Messages[len(call.Messages)-1].Content
		var entries []struct {
			Index int `json:"index"`
		}
		require.NoError(t, json.Unmarshal([]byte(user), &entries))
		require.NotEmpty(t, entries)
		all = append(all, entries)
	}
	return all
}

// chunkBases extracts the first caption index of every chunk.
func chunkBases(t *testing.T, chat *fakeChat) []int {
	t.Helper()
	var bases []int
	for _, entries := range chunkEntries(t, chat) {
		bases = append(bases, entries[0].Index)
	}
	return bases
}

// chunkSizes extracts the line count of every chunk.
func chunkSizes(t *testing.T, chat *fakeChat) []int {
	t.Helper()
	var sizes []int
	for _, entries := range chunkEntries(t, chat) {
		sizes = append(sizes, len(entries))
	}
	return sizes
}

func TestParseMultiShotToleratesFencesAndProse(t *testing.T) {
	entries, err := parseMultiShot("```json\n[{\"outline\":\"A\",\"information\":\"x\",\"start\":1}]\n```")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "A", entries[0].Outline)

	_, err = parseMultiShot("no array here")
	require.Error(t, err)

	_, err = parseMultiShot("[{broken")
	require.Error(t, err)
}

func TestParseOneChapter(t *testing.T) {
	reply, ok := parseOneChapter("sure: {\"end_at\":3,\"start\":0,\"outline\":\"A\"}")
	require.True(t, ok)
	require.Equal(t, "A", reply.Outline)

	_, ok = parseOneChapter("no object")
	require.False(t, ok)
}

func TestIntFromJSON(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"7", 7, true},
		{" 42 ", 42, true},
		{"-1", -1, true},
		{"3.5", 0, false},
		{`"7"`, 0, false},
		{"null", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := intFromJSON(json.RawMessage(tc.raw))
		require.Equal(t, tc.ok, ok, "raw %q", tc.raw)
		if ok {
			require.Equal(t, tc.want, got, "raw %q", tc.raw)
		}
	}
}

func TestChapterizePrefersHints(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, tier, err := env.orch.chapterize(context.Background(), job{
		vid:   "v1",
		lines: threeLines(),
		hints: []chapter.Hint{{Title: "Intro", Timestamp: "0:00"}},
	})
	require.NoError(t, err)
	require.Equal(t, tierHint, tier)
	require.Len(t, chapters, 1)
	require.Zero(t, chat.callCount())
}

func TestChapterizeFallsThroughTo16k(t *testing.T) {
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		if req.Model == "gpt-3.5-turbo" {
			return "not json", nil
		}
		return `[{"outline":"A","information":"First.","start":0,"timestamp":"00:00:00"}]`, nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, tier, err := env.orch.chapterize(context.Background(), job{vid: "v1", lines: threeLines()})
	require.NoError(t, err)
	require.Equal(t, tierMultiShot16k, tier)
	require.Len(t, chapters, 1)
}

func TestChapterizeFallsThroughToOneByOne(t *testing.T) {
	var sawOneByOne bool
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		if strings.Contains(req.Messages[0].Content, "end_at") {
			sawOneByOne = true
			return `{"end_at":"eof"}`, nil
		}
		return "not json", nil
	}}
	env := newTestEnv(t, &fakeSource{}, chat)

	chapters, tier, err := env.orch.chapterize(context.Background(), job{vid: "v1", lines: threeLines()})
	require.NoError(t, err)
	require.Equal(t, tierOneByOne, tier)
	require.Empty(t, chapters)
	require.True(t, sawOneByOne)
}
