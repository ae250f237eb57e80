// SPDX-License-Identifier: MIT

// Package summarize coordinates caption fetching, the chapterizing
// cascade, parallel refinement and result delivery for one video at a
// time per vid.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/chapterd/chapterd/internal/bus"
	"github.com/chapterd/chapterd/internal/captions"
	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/llm"
	"github.com/chapterd/chapterd/internal/log"
	"github.com/chapterd/chapterd/internal/metrics"
	"github.com/chapterd/chapterd/internal/registry"
	"github.com/chapterd/chapterd/internal/store"
	"github.com/chapterd/chapterd/internal/telemetry"
)

// Options tunes the orchestrator.
type Options struct {
	ModelSmall        string
	ModelLarge        string
	TopPDeterministic float64
	TopPFreeForm      float64
	SummarizeTimeout  time.Duration
	SummarizingTTL    time.Duration
	NoTranscriptTTL   time.Duration
	RefineConcurrency int
	Workers           int
	QueueSize         int
	ExportDir         string // empty disables markdown export
}

func (o Options) withDefaults() Options {
	if o.ModelSmall == "" {
		o.ModelSmall = "gpt-3.5-turbo"
	}
	if o.ModelLarge == "" {
		o.ModelLarge = "gpt-3.5-turbo-16k"
	}
	if o.TopPDeterministic <= 0 {
		o.TopPDeterministic = 0.1
	}
	if o.TopPFreeForm <= 0 {
		o.TopPFreeForm = 0.8
	}
	if o.SummarizeTimeout <= 0 {
		o.SummarizeTimeout = 90 * time.Second
	}
	if o.SummarizingTTL <= 0 {
		o.SummarizingTTL = 300 * time.Second
	}
	if o.NoTranscriptTTL <= 0 {
		o.NoTranscriptTTL = 24 * time.Hour
	}
	if o.RefineConcurrency <= 0 {
		o.RefineConcurrency = 3
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	return o
}

// Request is one summarize call for a video.
type Request struct {
	Vid          string
	UID          string         // trigger, recorded on produced chapters
	APIKey       string         // per-request model key override
	Hints        []chapter.Hint // user supplied outline
	NoTranscript bool           // client already knows captions are absent
}

// Outcome is the synchronous half of a summarize request. When Sub is
// non-nil the caller streams events from it; otherwise State and
// Chapters form the JSON response.
type Outcome struct {
	State    chapter.State
	Chapters []chapter.Chapter
	Sub      bus.Subscription
}

// Orchestrator owns the summarize state machine and its worker pool.
type Orchestrator struct {
	store    store.Store
	registry registry.Registry
	bus      bus.Bus
	captions captions.Source
	chat     llm.Chat
	opts     Options

	logger zerolog.Logger
	tracer trace.Tracer

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	pool   poolState
}

// New wires an orchestrator. Call Start to launch its workers and Stop
// to drain them.
func New(st store.Store, reg registry.Registry, eb bus.Bus, src captions.Source, chat llm.Chat, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:    st,
		registry: reg,
		bus:      eb,
		captions: src,
		chat:     chat,
		opts:     opts,
		logger:   log.WithComponent("summarize"),
		tracer:   telemetry.Tracer("chapterd/summarize"),
		jobs:     make(chan job, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Summarize runs the request path state machine: cached chapters win,
// then the negative cache, then an in-flight run, and only then a fresh
// run with this request as its trigger.
func (o *Orchestrator) Summarize(ctx context.Context, req Request) (Outcome, error) {
	if req.Vid == "" {
		return Outcome{}, errors.New("summarize: empty vid")
	}
	started := time.Now()
	logger := log.WithContext(ctx, o.logger)
	sumKey := registry.SummarizingKey(req.Vid)

	found, err := o.store.FindByVid(ctx, req.Vid, 0)
	if err != nil {
		return Outcome{}, fmt.Errorf("find chapters: %w", err)
	}
	if len(found) > 0 {
		stale := (len(req.Hints) > 0 && found[0].Slicer != chapter.SlicerYouTube) ||
			o.needReSummarize(ctx, req.Vid, found)
		if !stale {
			logger.Info().
				Str("event", "summarize.cache_hit").
				Str("vid", req.Vid).
				Int("chapters", len(found)).
				Msg("serving chapters from store")
			o.clearKeys(ctx, req.Vid)
			o.publishSummary(ctx, req.Vid, chapter.StateDone, found)
			o.publishClose(ctx, req.Vid)
			return Outcome{State: chapter.StateDone, Chapters: found}, nil
		}

		logger.Info().
			Str("event", "summarize.resummarize").
			Str("vid", req.Vid).
			Msg("discarding cached chapters")
		if _, err := o.store.DeleteByVid(ctx, req.Vid); err != nil {
			return Outcome{}, fmt.Errorf("delete chapters: %w", err)
		}
		o.clearKeys(ctx, req.Vid)
	}

	if o.negCached(ctx, req.Vid) || req.NoTranscript {
		logger.Info().
			Str("event", "summarize.no_transcript").
			Str("vid", req.Vid).
			Msg("no captions for now")
		return Outcome{State: chapter.StateNothing, Chapters: []chapter.Chapter{}}, nil
	}

	if o.inFlight(ctx, req.Vid) {
		if err := o.registry.Refresh(ctx, sumKey, o.opts.SummarizingTTL); err != nil {
			logger.Warn().Err(err).
				Str("event", "summarize.flag_refresh_failed").
				Str("vid", req.Vid).
				Msg("could not refresh summarize flag")
		}
		sub, err := o.bus.Subscribe(ctx, req.Vid)
		if err != nil {
			return Outcome{}, fmt.Errorf("subscribe: %w", err)
		}
		logger.Info().
			Str("event", "summarize.join_in_flight").
			Str("vid", req.Vid).
			Msg("joining running summarize")
		return Outcome{Sub: sub}, nil
	}

	// Acquire before the caption fetch so concurrent requests for the
	// same vid do not hammer the captions endpoint.
	acquired, err := o.registry.TrySet(ctx, sumKey, o.opts.SummarizingTTL)
	if err != nil {
		logger.Warn().Err(err).
			Str("event", "summarize.flag_acquire_failed").
			Str("vid", req.Vid).
			Msg("registry unavailable, proceeding without flag")
		acquired = true
	}
	if !acquired {
		sub, err := o.bus.Subscribe(ctx, req.Vid)
		if err != nil {
			return Outcome{}, fmt.Errorf("subscribe: %w", err)
		}
		return Outcome{Sub: sub}, nil
	}

	res, err := o.captions.Fetch(ctx, req.Vid)
	if err == nil && len(res.Lines) == 0 {
		err = captions.ErrNoTranscript
	}
	if err != nil {
		if captions.IsTerminal(err) {
			logger.Warn().
				Str("event", "summarize.no_transcript").
				Str("vid", req.Vid).
				Msg("captions unavailable, caching negative result")
			o.setNegCache(ctx, req.Vid)
			o.clearFlag(ctx, req.Vid)
			metrics.RecordSummarizeRun(metrics.OutcomeNoTranscript, time.Since(started))
			return Outcome{State: chapter.StateNothing, Chapters: []chapter.Chapter{}}, nil
		}
		o.clearKeys(ctx, req.Vid)
		return Outcome{}, fmt.Errorf("fetch captions: %w", err)
	}

	sub, err := o.bus.Subscribe(ctx, req.Vid)
	if err != nil {
		o.clearKeys(ctx, req.Vid)
		return Outcome{}, fmt.Errorf("subscribe: %w", err)
	}
	j := job{
		vid:    req.Vid,
		uid:    req.UID,
		apiKey: req.APIKey,
		lang:   res.Lang,
		hints:  req.Hints,
		lines:  res.Lines,
	}
	if err := o.enqueue(ctx, j); err != nil {
		_ = sub.Close()
		o.clearKeys(ctx, req.Vid)
		return Outcome{}, err
	}
	logger.Info().
		Str("event", "summarize.enqueued").
		Str("vid", req.Vid).
		Str("lang", res.Lang).
		Int("lines", len(res.Lines)).
		Msg("summarize job enqueued")
	return Outcome{Sub: sub}, nil
}

// run is the job body: cascade, progress publish, refine, persist,
// export. It returns the final chapters and whether any chapter refine
// failed along the way.
func (o *Orchestrator) run(ctx context.Context, j job) ([]chapter.Chapter, bool, error) {
	chapters, tier, err := o.chapterize(ctx, j)
	if err != nil {
		return nil, false, err
	}
	if len(chapters) == 0 {
		return nil, false, fmt.Errorf("chapterizer produced no chapters (tier %s)", tier)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(telemetry.SummarizeAttributes(j.uid, tier, len(chapters))...)
	}
	o.publishSummary(ctx, j.vid, chapter.StateDoing, chapters)

	hasException := o.refineAll(ctx, j, chapters)

	if err := o.store.Replace(ctx, j.vid, chapters); err != nil {
		return nil, hasException, fmt.Errorf("persist chapters: %w", err)
	}

	if o.opts.ExportDir != "" {
		if err := exportMarkdown(o.opts.ExportDir, j.vid, chapters); err != nil {
			o.logger.Warn().Err(err).
				Str("event", "summarize.export_failed").
				Str("vid", j.vid).
				Msg("markdown export failed")
		}
	}
	return chapters, hasException, nil
}

func (o *Orchestrator) negCached(ctx context.Context, vid string) bool {
	ok, err := o.registry.Exists(ctx, registry.NoTranscriptKey(vid))
	if err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.registry_error").
			Str("vid", vid).
			Msg("negative cache lookup failed")
		return false
	}
	return ok
}

func (o *Orchestrator) inFlight(ctx context.Context, vid string) bool {
	ok, err := o.registry.Exists(ctx, registry.SummarizingKey(vid))
	if err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.registry_error").
			Str("vid", vid).
			Msg("summarize flag lookup failed")
		return false
	}
	return ok
}

func (o *Orchestrator) setNegCache(ctx context.Context, vid string) {
	if err := o.registry.Refresh(ctx, registry.NoTranscriptKey(vid), o.opts.NoTranscriptTTL); err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.registry_error").
			Str("vid", vid).
			Msg("could not set negative cache")
	}
}

func (o *Orchestrator) clearFlag(ctx context.Context, vid string) {
	if err := o.registry.Clear(ctx, registry.SummarizingKey(vid)); err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.registry_error").
			Str("vid", vid).
			Msg("could not clear summarize flag")
	}
}

// clearKeys drops both the in-flight flag and the negative cache entry.
func (o *Orchestrator) clearKeys(ctx context.Context, vid string) {
	if err := o.registry.Clear(ctx, registry.NoTranscriptKey(vid)); err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.registry_error").
			Str("vid", vid).
			Msg("could not clear negative cache")
	}
	o.clearFlag(ctx, vid)
}

func (o *Orchestrator) heartbeat(ctx context.Context, vid string) {
	if err := o.registry.Refresh(ctx, registry.SummarizingKey(vid), o.opts.SummarizingTTL); err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.heartbeat_failed").
			Str("vid", vid).
			Msg("could not refresh summarize flag")
	}
}

func (o *Orchestrator) publishSummary(ctx context.Context, vid string, state chapter.State, chapters []chapter.Chapter) {
	msg, err := bus.NewMessage(bus.EventSummary, chapter.NewSummary(state, chapters))
	if err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.publish_failed").
			Str("vid", vid).
			Msg("could not encode summary event")
		return
	}
	if err := o.bus.Publish(ctx, vid, msg); err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.publish_failed").
			Str("vid", vid).
			Msg("could not publish summary event")
	}
}

func (o *Orchestrator) publishClose(ctx context.Context, vid string) {
	msg, _ := bus.NewMessage(bus.EventClose, struct{}{})
	if err := o.bus.Publish(ctx, vid, msg); err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.publish_failed").
			Str("vid", vid).
			Msg("could not publish close event")
	}
}
