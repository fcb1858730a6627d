package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// streamInterval is how often handleRunStream polls the event log.
var streamInterval = time.Second

// handleRunStream serves a Server-Sent Events stream of a run's events.
// It polls the event log and sends each new event as one JSON message.
// When the run leaves the running state it sends a "done" event.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if s.db == nil {
		http.Error(w, "no database configured", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if present

	sendDone := func(reason string) {
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", reason)
		flusher.Flush()
	}

	lastID := 0
	tick := time.NewTicker(streamInterval)
	defer tick.Stop()

	for {
		events, err := s.db.GetRunEvents(runID)
		if err != nil {
			sendDone("event log unavailable")
			return
		}
		for _, e := range events {
			if e.ID <= lastID {
				continue
			}
			lastID = e.ID
			data, _ := json.Marshal(map[string]interface{}{
				"event":     e.Event,
				"stage":     e.Stage,
				"attempt":   e.Attempt,
				"detail":    e.Detail,
				"timestamp": e.Timestamp,
			})
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", e.ID, data)
		}
		flusher.Flush()

		run, err := s.db.GetRun(runID)
		if err != nil || run == nil {
			sendDone("run not found")
			return
		}
		if run.Status != pipeline.StatusRunning {
			sendDone(run.Status)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
		}
	}
}
