package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"livetape/internal/panel"
	"livetape/internal/store"
)

// stream serves one server-sent event stream. It writes the view built by build right
// away and again after changes to slices, no more often than the refresh interval.
// A failing write or encode ends this stream only.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, name string, slices []store.Slice, build func() any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.log.Error().Str("stream", name).Msgf("flusher unsupported: %T", w)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	log := s.log.With().Str("stream", name).Str("client", uuid.NewString()).Logger()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	release := s.metrics.StreamOpened(name)
	defer release()
	id, notify := s.store.Subscribe(slices...)
	defer s.store.Unsubscribe(id)

	send := func() bool {
		data, err := json.Marshal(build())
		if err != nil {
			log.Error().Err(err).Msg("encode view")
			return false
		}
		if err := writeEvent(w, name, data); err != nil {
			log.Debug().Err(err).Msg("client gone")
			return false
		}
		flusher.Flush()
		return true
	}

	throttle := panel.NewThrottle(s.cfg.RefreshInterval)
	throttle.Next()
	if !send() {
		return
	}
	log.Debug().Msg("stream opened")
	defer log.Debug().Msg("stream closed")

	var timer *time.Timer
	var due <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	// render sends now or arms the timer for the rest of the interval.
	render := func() bool {
		if wait := throttle.Next(); wait > 0 {
			timer = time.NewTimer(wait)
			due = timer.C
			return true
		}
		return send()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
			if due != nil {
				continue
			}
			if !render() {
				return
			}
		case <-due:
			due = nil
			if !render() {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: ", event); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n\n")
	return err
}
