// SPDX-License-Identifier: MIT

package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/metrics"
)

const (
	defaultBase = "https://www.youtube.com"
	userAgent   = "Mozilla/5.0 (X11; Linux x86_64) chapterd/1.0"

	// playerResponseMarker precedes the embedded player JSON on watch pages.
	playerResponseMarker = "ytInitialPlayerResponse"

	// maxWatchBody caps how much of a watch page is read. Pages run a few
	// megabytes; anything past this is not the player JSON.
	maxWatchBody = 10 << 20
)

// YouTube fetches caption tracks from watch pages.
type YouTube struct {
	base   string
	client *http.Client
	prefs  []language.Tag
}

// New builds a YouTube source. base falls back to the public site when
// empty. languages is the preference list tried in order.
func New(base string, languages []string) *YouTube {
	if base == "" {
		base = defaultBase
	}
	prefs := make([]language.Tag, 0, len(languages))
	for _, l := range languages {
		if tag, err := language.Parse(l); err == nil {
			prefs = append(prefs, tag)
		}
	}
	return &YouTube{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
		prefs:  prefs,
	}
}

var _ Source = (*YouTube)(nil)

// Fetch retrieves the best-matching caption track for vid.
func (y *YouTube) Fetch(ctx context.Context, vid string) (Result, error) {
	res, err := y.fetch(ctx, vid)
	switch {
	case err == nil:
		metrics.IncCaptionFetch("ok")
	case errors.Is(err, ErrTranscriptsDisabled):
		metrics.IncCaptionFetch("disabled")
	case errors.Is(err, ErrNoTranscript):
		metrics.IncCaptionFetch("no_transcript")
	default:
		metrics.IncCaptionFetch("error")
	}
	return res, err
}

func (y *YouTube) fetch(ctx context.Context, vid string) (Result, error) {
	page, err := y.watchPage(ctx, vid)
	if err != nil {
		return Result{}, err
	}

	raw, err := extractPlayerResponse(page)
	if err != nil {
		return Result{}, err
	}

	var pr playerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return Result{}, fmt.Errorf("captions: decode player response: %w", err)
	}

	tracks := pr.Captions.TracklistRenderer.CaptionTracks
	if len(tracks) == 0 {
		return Result{}, fmt.Errorf("%w: vid=%s", ErrTranscriptsDisabled, vid)
	}

	track, ok := y.pickTrack(tracks)
	if !ok {
		return Result{}, fmt.Errorf("%w: vid=%s", ErrNoTranscript, vid)
	}

	lines, err := y.fetchTrack(ctx, track)
	if err != nil {
		return Result{}, err
	}
	return Result{Lines: lines, Lang: track.LanguageCode}, nil
}

func (y *YouTube) watchPage(ctx context.Context, vid string) ([]byte, error) {
	u := y.base + "/watch?v=" + url.QueryEscape(vid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("captions: build watch request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("captions: fetch watch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("captions: watch page status %d", resp.StatusCode)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, maxWatchBody))
	if err != nil {
		return nil, fmt.Errorf("captions: read watch page: %w", err)
	}
	return page, nil
}

type playerResponse struct {
	Captions struct {
		TracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" marks auto-generated tracks
}

// extractPlayerResponse pulls the first complete JSON value after the
// player response marker out of a watch page.
func extractPlayerResponse(page []byte) (json.RawMessage, error) {
	idx := bytes.Index(page, []byte(playerResponseMarker))
	if idx < 0 {
		return nil, errors.New("captions: player response not found in watch page")
	}
	rest := page[idx+len(playerResponseMarker):]
	brace := bytes.IndexByte(rest, '{')
	if brace < 0 {
		return nil, errors.New("captions: player response not found in watch page")
	}

	var raw json.RawMessage
	if err := json.NewDecoder(bytes.NewReader(rest[brace:])).Decode(&raw); err != nil {
		return nil, fmt.Errorf("captions: decode player response: %w", err)
	}
	return raw, nil
}

// pickTrack walks the preference list in order. For each preferred
// language a manually created track beats an auto-generated one.
func (y *YouTube) pickTrack(tracks []captionTrack) (captionTrack, bool) {
	manual := make([]captionTrack, 0, len(tracks))
	var generated []captionTrack
	for _, t := range tracks {
		if t.Kind == "asr" {
			generated = append(generated, t)
		} else {
			manual = append(manual, t)
		}
	}

	for _, pref := range y.prefs {
		if t, ok := matchTrack(pref, manual); ok {
			return t, true
		}
		if t, ok := matchTrack(pref, generated); ok {
			return t, true
		}
	}
	return captionTrack{}, false
}

func matchTrack(pref language.Tag, tracks []captionTrack) (captionTrack, bool) {
	if len(tracks) == 0 {
		return captionTrack{}, false
	}
	tags := make([]language.Tag, len(tracks))
	for i, t := range tracks {
		tags[i] = language.Make(t.LanguageCode)
	}
	// The matcher always answers with its fallback, so only a confident
	// match counts. High covers script and region variants such as a
	// zh-Hans preference against a zh-CN track.
	if _, idx, conf := language.NewMatcher(tags).Match(pref); conf >= language.High {
		return tracks[idx], true
	}
	return captionTrack{}, false
}

func (y *YouTube) fetchTrack(ctx context.Context, track captionTrack) ([]chapter.TimedText, error) {
	u := track.BaseURL
	if strings.Contains(u, "?") {
		u += "&fmt=json3"
	} else {
		u += "?fmt=json3"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("captions: build track request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("captions: fetch track: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("captions: track status %d", resp.StatusCode)
	}

	var body struct {
		Events []struct {
			StartMs    int64 `json:"tStartMs"`
			DurationMs int64 `json:"dDurationMs"`
			Segs       []struct {
				Text string `json:"utf8"`
			} `json:"segs"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("captions: decode track: %w", err)
	}

	lines := make([]chapter.TimedText, 0, len(body.Events))
	for _, ev := range body.Events {
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.Text)
		}
		text := strings.Join(strings.Fields(sb.String()), " ")
		if text == "" {
			continue
		}
		lines = append(lines, chapter.TimedText{
			Start:    float64(ev.StartMs) / 1000,
			Duration: float64(ev.DurationMs) / 1000,
			Lang:     track.LanguageCode,
			Text:     text,
		})
	}
	return lines, nil
}
