// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/metrics"
)

// FindFeedback returns the counters for a video and whether a row exists.
func (s *Store) FindFeedback(ctx context.Context, vid string) (chapter.Feedback, bool, error) {
	fb, ok, err := s.findFeedback(ctx, s.db, vid)
	metrics.IncStoreOp("feedback_find", err)
	return fb, ok, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) findFeedback(ctx context.Context, q querier, vid string) (chapter.Feedback, bool, error) {
	query := `SELECT vid, good, bad FROM feedback WHERE vid = ? LIMIT 1`

	var fb chapter.Feedback
	err := q.QueryRowContext(ctx, query, vid).Scan(&fb.Vid, &fb.Good, &fb.Bad)
	if errors.Is(err, sql.ErrNoRows) {
		return chapter.Feedback{Vid: vid}, false, nil
	}
	if err != nil {
		return chapter.Feedback{}, false, err
	}
	return fb, true, nil
}

// ApplyFeedback adds the deltas to a video's counters, clamping both at zero.
func (s *Store) ApplyFeedback(ctx context.Context, vid string, good, bad int) (chapter.Feedback, error) {
	fb, err := s.applyFeedback(ctx, vid, good, bad)
	metrics.IncStoreOp("feedback_upsert", err)
	return fb, err
}

func (s *Store) applyFeedback(ctx context.Context, vid string, good, bad int) (chapter.Feedback, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chapter.Feedback{}, err
	}
	defer func() { _ = tx.Rollback() }()

	current, found, err := s.findFeedback(ctx, tx, vid)
	if err != nil {
		return chapter.Feedback{}, err
	}

	next := chapter.Feedback{
		Vid:  vid,
		Good: clampNonNegative(current.Good + good),
		Bad:  clampNonNegative(current.Bad + bad),
	}

	now := time.Now().Unix()
	if !found {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO feedback (vid, good, bad, create_ts, update_ts)
			VALUES (?, ?, ?, ?, ?)
		`, next.Vid, next.Good, next.Bad, now, now)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE feedback
			   SET good = ?, bad = ?, update_ts = ?
			 WHERE vid = ?
		`, next.Good, next.Bad, now, next.Vid)
	}
	if err != nil {
		return chapter.Feedback{}, err
	}

	if err := tx.Commit(); err != nil {
		return chapter.Feedback{}, err
	}
	return next, nil
}

// DeleteFeedback removes the counters for a video.
func (s *Store) DeleteFeedback(ctx context.Context, vid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM feedback WHERE vid = ?`, vid)
	metrics.IncStoreOp("feedback_delete", err)
	return err
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
