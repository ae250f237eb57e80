// SPDX-License-Identifier: MIT

package summarize

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/chapterd/chapterd/internal/telemetry"
)

// observeJob opens the span and meter instruments for one background
// run. The returned finish func records the terminal outcome exactly
// once.
func (o *Orchestrator) observeJob(ctx context.Context, j job) (context.Context, func(outcome string, chapters int, err error)) {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "summarize.job", trace.WithAttributes(
		telemetry.VideoAttributes(j.vid, j.lang, len(j.lines))...,
	))

	return ctx, func(outcome string, chapters int, err error) {
		defer span.End()

		span.SetAttributes(telemetry.JobAttributes(outcome, time.Since(started).Milliseconds())...)
		if chapters > 0 {
			span.SetAttributes(attribute.Int(telemetry.SummarizeChaptersKey, chapters))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		meter := otel.GetMeterProvider().Meter("chapterd/summarize")
		jobs, merr := meter.Int64Counter("chapterd.summarize.jobs",
			metric.WithDescription("Finished summarize jobs by outcome."))
		if merr == nil {
			jobs.Add(ctx, 1, metric.WithAttributes(attribute.String(telemetry.JobStatusKey, outcome)))
		}
	}
}
