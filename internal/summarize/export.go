// SPDX-License-Identifier: MIT

package summarize

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/chapterd/chapterd/internal/chapter"
)

// exportMarkdown renders the finished chapters as a markdown outline and
// writes <dir>/<vid>.md atomically, so readers never observe a partial
// file.
func exportMarkdown(dir, vid string, chapters []chapter.Chapter) error {
	if strings.ContainsAny(vid, `/\`) {
		return fmt.Errorf("refusing export for vid %q", vid)
	}

	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(vid)
	sb.WriteString("\n")
	for _, c := range chapters {
		sb.WriteString("\n## [")
		sb.WriteString(chapter.FormatTimestamp(c.Start))
		sb.WriteString("] ")
		sb.WriteString(c.Chapter)
		sb.WriteString("\n")
		if c.Summary != "" {
			sb.WriteString("\n")
			sb.WriteString(c.Summary)
			sb.WriteString("\n")
		}
	}

	path := filepath.Join(dir, vid+".md")
	return renameio.WriteFile(path, []byte(sb.String()), 0o644)
}
