// SPDX-License-Identifier: MIT

package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/chapterd/chapterd/internal/bus"
	"github.com/chapterd/chapterd/internal/captions"
	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/llm"
	"github.com/chapterd/chapterd/internal/metrics"
	"github.com/chapterd/chapterd/internal/registry"
	"github.com/chapterd/chapterd/internal/store/sqlite"
)

const waitFor = 5 * time.Second

// fakeChat scripts the model endpoint. The reply func sees every request
// in call order.
type fakeChat struct {
	mu    sync.Mutex
	calls []llm.ChatRequest
	reply func(n int, req llm.ChatRequest) (string, error)
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.reply(n, req)
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSource struct {
	res captions.Result
	err error
}

func (f *fakeSource) Fetch(context.Context, string) (captions.Result, error) {
	return f.res, f.err
}

type testEnv struct {
	orch  *Orchestrator
	store *sqlite.Store
	reg   *registry.RedisRegistry
	bus   *bus.MemoryBus
	redis *miniredis.Miniredis
}

func newTestEnv(t *testing.T, src captions.Source, chat llm.Chat) *testEnv {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "chapterd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	reg := registry.NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = reg.Close() })

	eb := bus.NewMemory()
	t.Cleanup(func() { _ = eb.Close() })

	orch := New(st, reg, eb, src, chat, Options{
		Workers:           2,
		RefineConcurrency: 2,
	})
	orch.Start()
	t.Cleanup(orch.Stop)

	return &testEnv{orch: orch, store: st, reg: reg, bus: eb, redis: mr}
}

// collect drains a subscription until close, failing the test when no
// terminal event arrives in time.
func collect(t *testing.T, sub bus.Subscription) []bus.Message {
	t.Helper()
	defer func() { _ = sub.Close() }()

	var got []bus.Message
	deadline := time.After(waitFor)
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription channel closed without close event, got %d messages", len(got))
			}
			got = append(got, msg)
			if msg.Event == bus.EventClose {
				return got
			}
		case <-deadline:
			t.Fatalf("no close event within %v, got %d messages", waitFor, len(got))
		}
	}
}

func decodeSummary(t *testing.T, msg bus.Message) chapter.Summary {
	t.Helper()
	require.Equal(t, bus.EventSummary, msg.Event)
	var s chapter.Summary
	require.NoError(t, json.Unmarshal(msg.Data, &s))
	return s
}

func threeLines() []chapter.TimedText {
	return []chapter.TimedText{
		{Start: 0, Duration: 5, Lang: "en", Text: "hi"},
		{Start: 5, Duration: 5, Lang: "en", Text: "world"},
		{Start: 10, Duration: 5, Lang: "en", Text: "bye"},
	}
}

func TestFreshRunProducesRefinedChapters(t *testing.T) {
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		if n == 1 {
			// MultiShot 4k settles the cascade.
			return `[{"outline":"Intro","information":"Says hi.","start":0,"timestamp":"00:00:00"}]`, nil
		}
		return "- Says hi to the world.", nil
	}}
	env := newTestEnv(t, &fakeSource{res: captions.Result{Lines: threeLines(), Lang: "en"}}, chat)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidA", UID: "u1"})
	require.NoError(t, err)
	require.Nil(t, out.Chapters)
	require.NotNil(t, out.Sub)

	msgs := collect(t, out.Sub)
	require.GreaterOrEqual(t, len(msgs), 3)

	doing := decodeSummary(t, msgs[0])
	require.Equal(t, chapter.StateDoing, doing.State)
	require.Len(t, doing.Chapters, 1)

	done := decodeSummary(t, msgs[len(msgs)-2])
	require.Equal(t, chapter.StateDone, done.State)
	require.Len(t, done.Chapters, 1)
	require.Equal(t, "Intro", done.Chapters[0].Chapter)
	require.Equal(t, chapter.SlicerLLM, done.Chapters[0].Slicer)
	require.Equal(t, chapter.StyleMarkdown, done.Chapters[0].Style)
	require.Equal(t, "- Says hi to the world.", done.Chapters[0].Summary)
	require.Equal(t, 0, done.Chapters[0].Refined)
	require.Equal(t, "en", done.Chapters[0].Lang)
	require.Equal(t, "u1", done.Chapters[0].Trigger)
	require.Equal(t, bus.EventClose, msgs[len(msgs)-1].Event)

	// The store is the source of truth and must match the done payload.
	stored, err := env.store.FindByVid(context.Background(), "vidA", 0)
	require.NoError(t, err)
	require.Equal(t, done.Chapters, stored)

	// Terminal state leaves no advisory flags behind.
	requireKeyGone(t, env, registry.SummarizingKey("vidA"))
	requireKeyGone(t, env, registry.NoTranscriptKey("vidA"))
}

func requireKeyGone(t *testing.T, env *testEnv, key string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ok, err := env.reg.Exists(context.Background(), key)
		return err == nil && !ok
	}, waitFor, 10*time.Millisecond, "key %s should be cleared", key)
}

func TestCacheHitReturnsStoredChaptersAndClosesChannel(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{err: errors.New("captions must not be fetched")}, chat)

	cached := []chapter.Chapter{{
		CID: "c1", Vid: "vidB", Trigger: "u1", Slicer: chapter.SlicerLLM,
		Style: chapter.StyleMarkdown, Start: 0, Lang: "en",
		Chapter: "Intro", Summary: "- fine.",
	}}
	require.NoError(t, env.store.Replace(context.Background(), "vidB", cached))

	// A client subscribed before the request completes via the channel.
	early, err := env.bus.Subscribe(context.Background(), "vidB")
	require.NoError(t, err)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidB", UID: "u2"})
	require.NoError(t, err)
	require.Nil(t, out.Sub)
	require.Equal(t, chapter.StateDone, out.State)
	require.Len(t, out.Chapters, 1)
	require.Equal(t, "- fine.", out.Chapters[0].Summary)

	msgs := collect(t, early)
	require.Len(t, msgs, 2)
	done := decodeSummary(t, msgs[0])
	require.Equal(t, chapter.StateDone, done.State)
	require.Equal(t, bus.EventClose, msgs[1].Event)

	require.Zero(t, chat.callCount())
}

func TestNegativeCacheShortCircuits(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{err: errors.New("captions must not be fetched")}, chat)

	require.NoError(t, env.reg.Refresh(context.Background(), registry.NoTranscriptKey("vidC"), time.Hour))

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidC", UID: "u1"})
	require.NoError(t, err)
	require.Nil(t, out.Sub)
	require.Equal(t, chapter.StateNothing, out.State)
	require.Empty(t, out.Chapters)
	require.Zero(t, chat.callCount())
}

func TestClientNoTranscriptFlagShortCircuits(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{err: errors.New("captions must not be fetched")}, chat)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidC2", UID: "u1", NoTranscript: true})
	require.NoError(t, err)
	require.Equal(t, chapter.StateNothing, out.State)
}

func TestEmptyCaptionsPopulateNegativeCache(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{res: captions.Result{Lang: "en"}}, chat)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidE", UID: "u1"})
	require.NoError(t, err)
	require.Equal(t, chapter.StateNothing, out.State)

	ok, err := env.reg.Exists(context.Background(), registry.NoTranscriptKey("vidE"))
	require.NoError(t, err)
	require.True(t, ok)
	requireKeyGone(t, env, registry.SummarizingKey("vidE"))
}

func TestTerminalCaptionErrorPopulatesNegativeCache(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{err: captions.ErrTranscriptsDisabled}, chat)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidF", UID: "u1"})
	require.NoError(t, err)
	require.Equal(t, chapter.StateNothing, out.State)

	ok, err := env.reg.Exists(context.Background(), registry.NoTranscriptKey("vidF"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTransientCaptionErrorSurfacesAndClearsFlags(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{err: errors.New("upstream hiccup")}, chat)

	_, err := env.orch.Summarize(context.Background(), Request{Vid: "vidG", UID: "u1"})
	require.Error(t, err)
	requireKeyGone(t, env, registry.SummarizingKey("vidG"))
	requireKeyGone(t, env, registry.NoTranscriptKey("vidG"))
}

func TestInFlightRequestJoinsRunningJob(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{err: errors.New("captions must not be fetched")}, chat)

	// Another worker holds the flag.
	ok, err := env.reg.TrySet(context.Background(), registry.SummarizingKey("vidD"), 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidD", UID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, out.Sub)

	// The owning worker finishes and publishes through the shared bus.
	doing, err := bus.NewMessage(bus.EventSummary, chapter.NewSummary(chapter.StateDoing, nil))
	require.NoError(t, err)
	require.NoError(t, env.bus.Publish(context.Background(), "vidD", doing))
	done, err := bus.NewMessage(bus.EventSummary, chapter.NewSummary(chapter.StateDone, nil))
	require.NoError(t, err)
	require.NoError(t, env.bus.Publish(context.Background(), "vidD", done))
	cl, err := bus.NewMessage(bus.EventClose, nil)
	require.NoError(t, err)
	require.NoError(t, env.bus.Publish(context.Background(), "vidD", cl))

	msgs := collect(t, out.Sub)
	require.Len(t, msgs, 3)
	require.Equal(t, chapter.StateDoing, decodeSummary(t, msgs[0]).State)
	require.Equal(t, chapter.StateDone, decodeSummary(t, msgs[1]).State)
	require.Equal(t, bus.EventClose, msgs[2].Event)
	require.Zero(t, chat.callCount())
}

func TestHintsForceReSummarizeOfLLMSlicedCache(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		// Only refine calls happen: hints settle the cascade.
		return "- rebuilt from hints.", nil
	}}
	env := newTestEnv(t, &fakeSource{res: captions.Result{Lines: threeLines(), Lang: "en"}}, chat)

	cached := []chapter.Chapter{{
		CID: "c1", Vid: "vidH", Slicer: chapter.SlicerLLM,
		Style: chapter.StyleMarkdown, Start: 0, Lang: "en",
		Chapter: "Old", Summary: "- stale.",
	}}
	require.NoError(t, env.store.Replace(context.Background(), "vidH", cached))

	out, err := env.orch.Summarize(context.Background(), Request{
		Vid: "vidH", UID: "u1",
		Hints: []chapter.Hint{
			{Title: "One", Timestamp: "0:00"},
			{Title: "Two", Timestamp: "0:05"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Sub)

	msgs := collect(t, out.Sub)
	done := decodeSummary(t, msgs[len(msgs)-2])
	require.Equal(t, chapter.StateDone, done.State)
	require.Len(t, done.Chapters, 2)
	for _, c := range done.Chapters {
		require.Equal(t, chapter.SlicerYouTube, c.Slicer)
		require.Equal(t, "- rebuilt from hints.", c.Summary)
	}
	require.Equal(t, []int{0, 5}, []int{done.Chapters[0].Start, done.Chapters[1].Start})
}

func TestHintsKeepYouTubeSlicedCache(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model must not be called")
	}}
	env := newTestEnv(t, &fakeSource{err: errors.New("captions must not be fetched")}, chat)

	cached := []chapter.Chapter{{
		CID: "c1", Vid: "vidI", Slicer: chapter.SlicerYouTube,
		Style: chapter.StyleMarkdown, Start: 0, Lang: "en",
		Chapter: "Intro", Summary: "- fine.",
	}}
	require.NoError(t, env.store.Replace(context.Background(), "vidI", cached))

	out, err := env.orch.Summarize(context.Background(), Request{
		Vid: "vidI", UID: "u1",
		Hints: []chapter.Hint{{Title: "Intro", Timestamp: "0:00"}},
	})
	require.NoError(t, err)
	require.Equal(t, chapter.StateDone, out.State)
	require.Zero(t, chat.callCount())
}

func TestFeedbackForcesReSummarize(t *testing.T) {
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		if n == 1 {
			return `[{"outline":"Redone","information":"Better.","start":0,"timestamp":"00:00:00"}]`, nil
		}
		return "- better now.", nil
	}}
	env := newTestEnv(t, &fakeSource{res: captions.Result{Lines: threeLines(), Lang: "en"}}, chat)

	cached := []chapter.Chapter{{
		CID: "c1", Vid: "vidJ", Slicer: chapter.SlicerLLM,
		Style: chapter.StyleMarkdown, Start: 0, Lang: "en",
		Chapter: "Old", Summary: "- disliked.",
	}}
	require.NoError(t, env.store.Replace(context.Background(), "vidJ", cached))
	_, err := env.store.ApplyFeedback(context.Background(), "vidJ", 100, 25)
	require.NoError(t, err)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidJ", UID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, out.Sub)

	msgs := collect(t, out.Sub)
	done := decodeSummary(t, msgs[len(msgs)-2])
	require.Equal(t, chapter.StateDone, done.State)
	require.Len(t, done.Chapters, 1)
	require.Equal(t, "Redone", done.Chapters[0].Chapter)
}

func TestFailedRefinePersistsChapterAnyway(t *testing.T) {
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		if n == 1 {
			return `[
				{"outline":"Good","information":"Refines fine.","start":0,"timestamp":"00:00:00"},
				{"outline":"Bad","information":"Refine fails.","start":5,"timestamp":"00:00:05"}
			]`, nil
		}
		for _, m := range req.Messages {
			if strings.Contains(m.Content, "Bad") {
				return "", errors.New("model exploded")
			}
		}
		return "- refined.", nil
	}}
	env := newTestEnv(t, &fakeSource{res: captions.Result{Lines: threeLines(), Lang: "en"}}, chat)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidK", UID: "u1"})
	require.NoError(t, err)
	msgs := collect(t, out.Sub)

	done := decodeSummary(t, msgs[len(msgs)-2])
	require.Equal(t, chapter.StateDone, done.State)
	require.Len(t, done.Chapters, 2)

	// The failed chapter keeps its single-pass text summary.
	require.Equal(t, "- refined.", done.Chapters[0].Summary)
	require.Equal(t, chapter.StyleMarkdown, done.Chapters[0].Style)
	require.Equal(t, "Refine fails.", done.Chapters[1].Summary)
	require.Equal(t, chapter.StyleText, done.Chapters[1].Style)

	stored, err := env.store.FindByVid(context.Background(), "vidK", 0)
	require.NoError(t, err)
	require.Equal(t, done.Chapters, stored)
}

func TestChapterizerFailureClosesChannelWithoutPersisting(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) {
		return "", errors.New("model down")
	}}
	env := newTestEnv(t, &fakeSource{res: captions.Result{Lines: threeLines(), Lang: "en"}}, chat)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidL", UID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, out.Sub)

	msgs := collect(t, out.Sub)
	require.Equal(t, bus.EventClose, msgs[len(msgs)-1].Event)

	stored, err := env.store.FindByVid(context.Background(), "vidL", 0)
	require.NoError(t, err)
	require.Empty(t, stored)
	requireKeyGone(t, env, registry.SummarizingKey("vidL"))
}

func TestSummarizeRejectsEmptyVid(t *testing.T) {
	chat := &fakeChat{reply: func(int, llm.ChatRequest) (string, error) { return "", nil }}
	env := newTestEnv(t, &fakeSource{}, chat)

	_, err := env.orch.Summarize(context.Background(), Request{})
	require.Error(t, err)
}

func TestTwoConsecutiveRunsAreIdempotent(t *testing.T) {
	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		if strings.Contains(req.Messages[0].Content, "outlines") {
			return `[{"outline":"Intro","information":"Stable.","start":0,"timestamp":"00:00:00"}]`, nil
		}
		return "- stable.", nil
	}}
	env := newTestEnv(t, &fakeSource{res: captions.Result{Lines: threeLines(), Lang: "en"}}, chat)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidM", UID: "u1"})
	require.NoError(t, err)
	collect(t, out.Sub)

	first, err := env.store.FindByVid(context.Background(), "vidM", 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Second request with no hints and no feedback serves the cache.
	out2, err := env.orch.Summarize(context.Background(), Request{Vid: "vidM", UID: "u2"})
	require.NoError(t, err)
	require.Nil(t, out2.Sub)
	require.Equal(t, chapter.StateDone, out2.State)
	require.Equal(t, first, out2.Chapters)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestFreshRunCountsPersistedChaptersOnce(t *testing.T) {
	before := counterValue(t, metrics.ChaptersPersistedTotal)

	chat := &fakeChat{reply: func(n int, req llm.ChatRequest) (string, error) {
		if n == 1 {
			return `[{"outline":"Intro","information":"Says hi.","start":0,"timestamp":"00:00:00"}]`, nil
		}
		return "- hi.", nil
	}}
	env := newTestEnv(t, &fakeSource{res: captions.Result{Lines: threeLines(), Lang: "en"}}, chat)

	out, err := env.orch.Summarize(context.Background(), Request{Vid: "vidP", UID: "u1"})
	require.NoError(t, err)
	collect(t, out.Sub)

	// One persisted chapter moves the counter by exactly one.
	require.Equal(t, before+1, counterValue(t, metrics.ChaptersPersistedTotal))
}
