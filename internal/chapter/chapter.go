// SPDX-License-Identifier: MIT

// Package chapter defines the domain model shared by the summarize pipeline,
// the stores and the HTTP surface.
package chapter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Slicer records where chapter boundaries came from.
type Slicer string

const (
	// SlicerYouTube marks chapters built from a user-supplied outline.
	SlicerYouTube Slicer = "youtube"
	// SlicerLLM marks chapters inferred by the language model.
	SlicerLLM Slicer = "llm"
)

// Style records the representation of a chapter summary.
type Style string

const (
	// StyleText is a compact prose summary produced in a single pass.
	StyleText Style = "text"
	// StyleMarkdown is an iteratively refined bullet list.
	StyleMarkdown Style = "markdown"
)

// State is the lifecycle state reported to clients.
type State string

const (
	StateNothing State = "nothing"
	StateDoing   State = "doing"
	StateDone    State = "done"
)

// Chapter is one logical section of a video.
type Chapter struct {
	CID     string `json:"cid"`
	Vid     string `json:"vid"`
	Trigger string `json:"trigger"` // uid that initiated the run, empty means unknown
	Slicer  Slicer `json:"slicer"`
	Style   Style  `json:"style"`
	Start   int    `json:"start"` // seconds
	Lang    string `json:"lang"`  // BCP-47, empty means unknown
	Chapter string `json:"chapter"`
	Summary string `json:"summary,omitempty"`
	Refined int    `json:"refined"` // refine passes beyond the first
}

// TimedText is a single caption segment.
type TimedText struct {
	Start    float64 `json:"start"`    // seconds
	Duration float64 `json:"duration"` // seconds
	Lang     string  `json:"lang"`
	Text     string  `json:"text"`
}

// Hint is an optional user-supplied outline entry.
type Hint struct {
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"` // "H:MM:SS" or "MM:SS"
}

// Feedback holds the good/bad counters for a video.
type Feedback struct {
	Vid  string `json:"vid"`
	Good int    `json:"good"`
	Bad  int    `json:"bad"`
}

// Summary is the response payload for the summarize endpoint and the
// data of every "summary" bus event.
type Summary struct {
	State    State     `json:"state"`
	Chapters []Chapter `json:"chapters"`
}

// NewSummary builds a Summary with a non-nil chapter slice so the JSON
// encoding is always an array.
func NewSummary(state State, chapters []Chapter) Summary {
	if chapters == nil {
		chapters = []Chapter{}
	}
	return Summary{State: state, Chapters: chapters}
}

// SortByStart orders chapters by start second ascending, in place.
func SortByStart(chapters []Chapter) {
	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].Start < chapters[j].Start
	})
}

// ParseTimestamp decodes "H:MM:SS" or "MM:SS" into seconds.
func ParseTimestamp(ts string) (int, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		total = total*60 + n
	}
	return total, nil
}

// FormatTimestamp renders seconds as "HH:mm:ss".
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
