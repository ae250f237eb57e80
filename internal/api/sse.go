// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/chapterd/chapterd/internal/bus"
	"github.com/chapterd/chapterd/internal/log"
	"github.com/chapterd/chapterd/internal/metrics"
)

// serveSSE streams a subscription as server-sent events until the close
// event, an idle timeout, or the client going away. The subscription is
// released on every exit path; the producing job keeps running.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, sub bus.Subscription) {
	defer func() { _ = sub.Close() }()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported by this connection")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncSSESubscribers()
	defer metrics.DecSSESubscribers()

	logger := log.WithComponentFromContext(r.Context(), "sse")
	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case msg, open := <-sub.C():
			if !open {
				return
			}
			if err := writeFrame(w, msg); err != nil {
				logger.Debug().Err(err).
					Str("event", "sse.write_failed").
					Msg("subscriber went away")
				return
			}
			flusher.Flush()
			if msg.Event == bus.EventClose {
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.idleTimeout)

		case <-idle.C:
			logger.Info().
				Str("event", "sse.idle_timeout").
				Dur("timeout", s.idleTimeout).
				Msg("closing idle subscription")
			return

		case <-r.Context().Done():
			return
		}
	}
}

// writeFrame renders one message as an SSE frame: the event line, one
// data line per line of the JSON payload, and a blank terminator.
func writeFrame(w http.ResponseWriter, msg bus.Message) error {
	var sb strings.Builder
	sb.WriteString("event: ")
	sb.WriteString(msg.Event)
	sb.WriteByte('\n')

	data := string(msg.Data)
	if data == "" {
		data = "{}"
	}
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')

	_, err := w.Write([]byte(sb.String()))
	return err
}
