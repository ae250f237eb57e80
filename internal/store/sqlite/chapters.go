// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"time"

	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/metrics"
)

// FindByVid returns the stored chapters for a video, ordered by start
// ascending. limit caps the row count; limit <= 0 returns everything.
func (s *Store) FindByVid(ctx context.Context, vid string, limit int) ([]chapter.Chapter, error) {
	query := `
	SELECT cid, vid, "trigger", slicer, style, start, lang, chapter, summary, refined
	  FROM chapter
	 WHERE vid = ?
	 ORDER BY start ASC
	 LIMIT ?
	`
	if limit <= 0 {
		// SQLite reads a negative LIMIT as unlimited.
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, vid, limit)
	metrics.IncStoreOp("find", err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chapters := []chapter.Chapter{}
	for rows.Next() {
		var c chapter.Chapter
		if err := rows.Scan(
			&c.CID, &c.Vid, &c.Trigger, &c.Slicer, &c.Style,
			&c.Start, &c.Lang, &c.Chapter, &c.Summary, &c.Refined,
		); err != nil {
			return nil, err
		}
		chapters = append(chapters, c)
	}

	return chapters, rows.Err()
}

// Replace atomically swaps the stored chapter set for a video.
func (s *Store) Replace(ctx context.Context, vid string, chapters []chapter.Chapter) error {
	err := s.replace(ctx, vid, chapters)
	metrics.IncStoreOp("replace", err)
	if err == nil {
		metrics.AddChaptersPersisted(len(chapters))
	}
	return err
}

func (s *Store) replace(ctx context.Context, vid string, chapters []chapter.Chapter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chapter WHERE vid = ?`, vid); err != nil {
		return err
	}

	insert := `
	INSERT INTO chapter (
		cid, vid, "trigger", slicer, style, start, lang, chapter, summary, refined,
		create_ts, update_ts
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().Unix()
	for _, c := range chapters {
		if _, err := tx.ExecContext(ctx, insert,
			c.CID, c.Vid, c.Trigger, string(c.Slicer), string(c.Style),
			c.Start, c.Lang, c.Chapter, c.Summary, c.Refined,
			now, now,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteByVid removes all chapters for a video.
func (s *Store) DeleteByVid(ctx context.Context, vid string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chapter WHERE vid = ?`, vid)
	metrics.IncStoreOp("delete", err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
