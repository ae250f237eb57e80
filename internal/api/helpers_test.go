// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chapterd/chapterd/internal/bus"
	"github.com/chapterd/chapterd/internal/summarize"
)

func outcomeWith(sub bus.Subscription) summarize.Outcome {
	return summarize.Outcome{Sub: sub}
}

func decodeInto(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(raw)
}
