// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// feedbackBody is the request body of POST /api/feedback/{vid}. Each
// true flag increments its counter by one.
type feedbackBody struct {
	Good bool `json:"good"`
	Bad  bool `json:"bad"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	vid := chi.URLParam(r, "vid")

	if r.Header.Get("uid") == "" {
		writeError(w, r, http.StatusBadRequest, "missing uid header")
		return
	}

	var body feedbackBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if !body.Good && !body.Bad {
		writeError(w, r, http.StatusBadRequest, "either good or bad must be set")
		return
	}

	good, bad := 0, 0
	if body.Good {
		good = 1
	}
	if body.Bad {
		bad = 1
	}

	fb, err := s.feedback.ApplyFeedback(r.Context(), vid, good, bad)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "store feedback: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fb)
}
