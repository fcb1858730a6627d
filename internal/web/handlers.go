package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/qafactory/internal/analytics"
	"github.com/lucasnoah/qafactory/internal/db"
	"github.com/lucasnoah/qafactory/internal/orchestrator"
	"github.com/lucasnoah/qafactory/internal/pipeline"
)

// ---- view models ----

type DashboardData struct {
	Runs           []RunRow
	Stages         []analytics.StageStats
	RecentActivity []ActivityRow
}

type RunRow struct {
	RunID         string `json:"run_id"`
	Question      string `json:"question"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	BackwardCount int    `json:"backward_count"`
	EvidenceCount int    `json:"evidence_count"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at,omitempty"`
	StartedAgo    string `json:"-"`
}

type ActivityRow struct {
	RunID   string
	Event   string
	Stage   string
	Attempt int
	Detail  string
	Ago     string
}

type RunPageData struct {
	Run      *pipeline.RunRecord
	Timeline []analytics.RunEvent
	Live     bool
}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
	Partial  bool   `json:"partial"`
}

// ---- helpers ----

func relTime(ts string) string {
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	var t time.Time
	for _, f := range formats {
		if parsed, err := time.Parse(f, ts); err == nil {
			t = parsed
			break
		}
	}
	if t.IsZero() {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func toRunRow(r db.Run) RunRow {
	return RunRow{
		RunID:         r.RunID,
		Question:      r.Question,
		Status:        r.Status,
		FailureReason: r.FailureReason,
		BackwardCount: r.BackwardCount,
		EvidenceCount: r.EvidenceCount,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		StartedAgo:    relTime(r.StartedAt),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// validRunID rejects IDs that could escape the run store directory.
func validRunID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\") && !strings.HasPrefix(id, ".")
}

func (s *Server) execTemplate(w http.ResponseWriter, tmpl *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.logger.Error("render template", "err", err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

// ---- API handlers ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "no runner configured")
		return
	}
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if !s.acquire() {
		writeError(w, http.StatusTooManyRequests, "too many runs in progress")
		return
	}
	defer s.release()

	res, err := s.runner.Run(r.Context(), req.Question, orchestrator.RunOptions{Partial: req.Partial})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("run finished", "run_id", res.RunID, "status", res.Status, "backward", res.BackwardCount)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if s.db != nil {
		runs, err := s.db.ListRuns(status, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rows := make([]RunRow, 0, len(runs))
		for _, run := range runs {
			rows = append(rows, toRunRow(run))
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}
	if s.store != nil {
		records, err := s.store.List(status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}
		rows := make([]RunRow, 0, len(records))
		for _, rec := range records {
			rows = append(rows, RunRow{
				RunID:         rec.RunID,
				Question:      rec.Question,
				Status:        rec.Status,
				FailureReason: rec.FailureReason,
				BackwardCount: rec.State.BackwardCount,
				EvidenceCount: len(rec.State.Evidence),
				StartedAt:     rec.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}
	writeError(w, http.StatusServiceUnavailable, "no run storage configured")
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no run store configured")
		return
	}
	id := r.PathValue("id")
	if !validRunID(id) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	rec, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	events, err := analytics.QueryRunDetail(s.db, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []analytics.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStageStats(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	stats, err := analytics.QueryStageStats(s.db, r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	esc, err := analytics.QueryEscalationRate(s.db, r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		stats = []analytics.StageStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stages":     stats,
		"escalation": esc,
	})
}

func (s *Server) handleFailureKinds(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	kinds, err := analytics.QueryFailureKinds(s.db, r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if kinds == nil {
		kinds = []analytics.FailureKindCount{}
	}
	writeJSON(w, http.StatusOK, kinds)
}

func (s *Server) handleLoops(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	dist, err := analytics.QueryLoopDistribution(s.db, r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

// ---- HTML handlers ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	var data DashboardData
	if s.db != nil {
		runs, err := s.db.ListRuns("", 25)
		if err != nil {
			s.logger.Warn("dashboard runs", "err", err)
		}
		for _, run := range runs {
			data.Runs = append(data.Runs, toRunRow(run))
		}
		if data.Stages, err = analytics.QueryStageStats(s.db, ""); err != nil {
			s.logger.Warn("dashboard stage stats", "err", err)
		}
		events, err := s.recentActivity(20)
		if err != nil {
			s.logger.Warn("dashboard activity", "err", err)
		}
		for _, e := range events {
			data.RecentActivity = append(data.RecentActivity, ActivityRow{
				RunID:   e.RunID,
				Event:   e.Event,
				Stage:   e.Stage,
				Attempt: e.Attempt,
				Detail:  e.Detail,
				Ago:     relTime(e.Timestamp),
			})
		}
	}
	s.execTemplate(w, s.dashboardTmpl, data)
}

func (s *Server) handleRunPage(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "no run store configured", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	if !validRunID(id) {
		http.NotFound(w, r)
		return
	}
	rec, err := s.store.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	data := RunPageData{Run: rec, Live: rec.Status == pipeline.StatusRunning}
	if s.db != nil {
		if data.Timeline, err = analytics.QueryRunDetail(s.db, rec.RunID); err != nil {
			s.logger.Warn("run timeline", "run_id", rec.RunID, "err", err)
		}
	}
	s.execTemplate(w, s.runTmpl, data)
}
