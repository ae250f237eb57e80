// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/chapterd/chapterd/internal/log"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code        int    `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, description string) {
	if code >= 500 {
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Error().
			Str("event", "http.error").
			Int("status", code).
			Str("path", r.URL.Path).
			Str("description", description).
			Msg("request failed")
	}
	writeJSON(w, code, errorBody{
		Code:        code,
		Name:        http.StatusText(code),
		Description: description,
	})
}
