// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chapterd/chapterd/internal/chapter"
	"github.com/chapterd/chapterd/internal/llm"
	"github.com/chapterd/chapterd/internal/summarize"
)

// summarizeBody is the optional request body of POST /api/summarize/{vid}.
type summarizeBody struct {
	Chapters     []chapter.Hint `json:"chapters"`
	NoTranscript bool           `json:"no_transcript"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	vid := chi.URLParam(r, "vid")

	uid := r.Header.Get("uid")
	if uid == "" {
		writeError(w, r, http.StatusBadRequest, "missing uid header")
		return
	}

	var body summarizeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	out, err := s.summarizer.Summarize(r.Context(), summarize.Request{
		Vid:          vid,
		UID:          uid,
		APIKey:       r.Header.Get("openai-api-key"),
		Hints:        body.Chapters,
		NoTranscript: body.NoTranscript,
	})
	if err != nil {
		code := http.StatusInternalServerError
		var statusErr *llm.StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.Code == http.StatusTooManyRequests || statusErr.Code == http.StatusBadGateway) {
			code = statusErr.Code
		}
		writeError(w, r, code, "summarize failed: "+err.Error())
		return
	}

	if out.Sub != nil {
		s.serveSSE(w, r, out.Sub)
		return
	}
	writeJSON(w, http.StatusOK, chapter.NewSummary(out.State, out.Chapters))
}

// decodeBody tolerates an absent body; anything present must be valid
// JSON with known fields only.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
