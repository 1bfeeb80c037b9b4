package chi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/logger"
)

// stream writes events as server-sent events until the channel closes.
// The channel is always drained, even after a failed write; the producer
// stops when the request context is canceled.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, events <-chan domain.Event) {
	log := logger.FromContextOr(r.Context(), s.logger)
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	broken := false
	flush := func(err error) {
		if err == nil {
			err = rc.Flush()
		}
		if err != nil && !broken {
			broken = true
			log.Info("Event stream client went away", zap.Error(err))
		}
	}
	flush(nil)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !broken {
				flush(writeEvent(w, ev))
			}
		case <-ticker.C:
			if !broken {
				_, err := io.WriteString(w, ": keep-alive\n\n")
				flush(err)
			}
		}
	}
}

// writeEvent encodes one event. The SSE event name is the event type and
// the data line is the JSON encoding of the whole event.
func writeEvent(w io.Writer, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
