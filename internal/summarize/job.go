// SPDX-License-Identifier: MIT

package summarize

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/log"
	"github.com/chapterd/chapterd/internal/metrics"
)

// ErrQueueFull is returned when the background job queue cannot accept
// another run. The caller already holds the summarize flag at that
// point, so it must clear it before giving up.
var ErrQueueFull = errors.New("summarize: job queue full")

// job is one queued summarize run. Captions are fetched on the request
// path; the worker only spends LLM calls.
type job struct {
	vid    string
	uid    string
	apiKey string
	lang   string
	hints  []chapter.Hint
	lines  []chapter.TimedText
}

type poolState struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool
}

// Start launches the worker pool. Safe to call once; subsequent calls
// are no-ops.
func (o *Orchestrator) Start() {
	o.pool.mu.Lock()
	defer o.pool.mu.Unlock()
	if o.pool.started {
		return
	}
	o.pool.started = true

	for i := 0; i < o.opts.Workers; i++ {
		o.pool.wg.Add(1)
		go func() {
			defer o.pool.wg.Done()
			o.workerLoop()
		}()
	}
	o.logger.Info().
		Str("event", "summarize.pool_started").
		Int("workers", o.opts.Workers).
		Int("queue", cap(o.jobs)).
		Msg("summarize workers running")
}

// Stop shuts the pool down. Workers finish the job they are on; queued
// jobs that never started are dropped with their flags cleared so a
// later request can redo them.
func (o *Orchestrator) Stop() {
	o.pool.mu.Lock()
	started := o.pool.started
	o.pool.started = false
	o.pool.mu.Unlock()

	o.cancel()
	if !started {
		return
	}
	o.pool.wg.Wait()

	for {
		select {
		case j := <-o.jobs:
			o.clearKeys(o.ctx, j.vid)
			o.publishClose(o.ctx, j.vid)
		default:
			return
		}
	}
}

// enqueue hands a job to the pool without blocking the request handler.
func (o *Orchestrator) enqueue(ctx context.Context, j job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.ctx.Err(); err != nil {
		return err
	}
	select {
	case o.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (o *Orchestrator) workerLoop() {
	for {
		select {
		case <-o.ctx.Done():
			return
		case j := <-o.jobs:
			o.execute(j)
		}
	}
}

// execute drives one background run to its terminal state. The context
// derives from the daemon root, never from the request that enqueued
// the job: a subscriber walking away must not cancel the run, later
// requests are served from the store.
func (o *Orchestrator) execute(j job) {
	started := time.Now()
	jobID := uuid.NewString()
	ctx := log.ContextWithJobID(o.ctx, jobID)
	logger := log.WithContext(ctx, o.logger)

	ctx, finish := o.observeJob(ctx, j)

	o.heartbeat(ctx, j.vid)
	logger.Info().
		Str("event", "summarize.job_start").
		Str("vid", j.vid).
		Str("lang", j.lang).
		Int("lines", len(j.lines)).
		Int("hints", len(j.hints)).
		Msg("summarize job started")

	chapters, hasException, err := o.run(ctx, j)
	duration := time.Since(started)

	switch {
	case err != nil && o.ctx.Err() != nil:
		// Shutdown raced the run; leave no dangling flag or stream.
		o.clearKeys(ctx, j.vid)
		o.publishClose(ctx, j.vid)
		metrics.RecordSummarizeRun(metrics.OutcomeCanceled, duration)
		finish(metrics.OutcomeCanceled, 0, err)
		logger.Warn().Err(err).
			Str("event", "summarize.job_canceled").
			Str("vid", j.vid).
			Msg("summarize job canceled by shutdown")
	case err != nil:
		o.clearKeys(ctx, j.vid)
		o.publishClose(ctx, j.vid)
		metrics.RecordSummarizeRun(metrics.OutcomeFailed, duration)
		finish(metrics.OutcomeFailed, 0, err)
		logger.Error().Err(err).
			Str("event", "summarize.job_failed").
			Str("vid", j.vid).
			Dur("duration", duration).
			Msg("summarize job failed")
	default:
		o.publishSummary(ctx, j.vid, chapter.StateDone, chapters)
		o.publishClose(ctx, j.vid)
		o.clearKeys(ctx, j.vid)
		metrics.RecordSummarizeRun(metrics.OutcomeDone, duration)
		finish(metrics.OutcomeDone, len(chapters), nil)
		logger.Info().
			Str("event", "summarize.job_done").
			Str("vid", j.vid).
			Int("chapters", len(chapters)).
			Bool("has_exception", hasException).
			Dur("duration", duration).
			Msg("summarize job finished")
	}
}
