// SPDX-License-Identifier: MIT

package summarize

import (
	"context"
	"strings"

	"github.com/chapterd/chapterd/internal/chapter"
)

const (
	// feedbackMinVotes is the sample size below which feedback is noise.
	feedbackMinVotes = 10
	// feedbackBadRatio is the share of bad votes that invalidates a
	// cached summary.
	feedbackBadRatio = 0.20
)

// needReSummarize decides whether cached chapters should be thrown away
// and produced again. A chapter that never got its summary always
// qualifies; otherwise the decision follows the feedback counters.
func (o *Orchestrator) needReSummarize(ctx context.Context, vid string, found []chapter.Chapter) bool {
	for _, c := range found {
		if strings.TrimSpace(c.Summary) == "" {
			return true
		}
	}

	fb, ok, err := o.store.FindFeedback(ctx, vid)
	if err != nil {
		o.logger.Warn().Err(err).
			Str("event", "summarize.feedback_lookup_failed").
			Str("vid", vid).
			Msg("keeping cached chapters")
		return false
	}
	if !ok {
		return false
	}

	total := fb.Good + fb.Bad
	if total < feedbackMinVotes {
		return false
	}
	return float64(fb.Bad)/float64(total) >= feedbackBadRatio
}
