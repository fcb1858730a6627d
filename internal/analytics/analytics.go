package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// sinceClause appends a timestamp lower bound when since is set.
func sinceClause(query, column, since string, args []interface{}) (string, []interface{}) {
	if since == "" {
		return query, args
	}
	return query + ` AND ` + column + ` >= ?`, append(args, since)
}

// StageStats summarises stage invocations.
type StageStats struct {
	Stage        string  `json:"stage"`
	Invocations  int     `json:"invocations"`
	FirstPass    float64 `json:"first_pass_pct"`
	Passed       float64 `json:"passed_pct"`
	AvgAttempts  float64 `json:"avg_attempts"`
	P50AttemptMs float64 `json:"p50_attempt_ms"`
	P95AttemptMs float64 `json:"p95_attempt_ms"`
}

// QueryStageStats returns per-stage pass rates and attempt counts. An
// invocation passes first time when its attempt 1 passed.
func QueryStageStats(database DB, since string) ([]StageStats, error) {
	query, args := sinceClause(`
		SELECT stage, run_id, invocation, attempt, passed, duration_ms
		FROM stage_attempts
		WHERE 1 = 1`, "timestamp", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query stage stats: %w", err)
	}
	defer rows.Close()

	type invocation struct {
		attempts  int
		firstPass bool
		passed    bool
	}
	invocations := make(map[string]map[string]*invocation)
	durations := make(map[string][]float64)
	for rows.Next() {
		var stage, runID string
		var inv, attempt int
		var passed bool
		var durationMs int64
		if err := rows.Scan(&stage, &runID, &inv, &attempt, &passed, &durationMs); err != nil {
			return nil, fmt.Errorf("scan stage attempt: %w", err)
		}
		if invocations[stage] == nil {
			invocations[stage] = make(map[string]*invocation)
		}
		key := fmt.Sprintf("%s/%d", runID, inv)
		iv := invocations[stage][key]
		if iv == nil {
			iv = &invocation{}
			invocations[stage][key] = iv
		}
		iv.attempts++
		if passed {
			iv.passed = true
			if attempt == 1 {
				iv.firstPass = true
			}
		}
		durations[stage] = append(durations[stage], float64(durationMs))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageStats
	for stage, invs := range invocations {
		var firstPass, passed, attempts int
		for _, iv := range invs {
			attempts += iv.attempts
			if iv.firstPass {
				firstPass++
			}
			if iv.passed {
				passed++
			}
		}
		d := durations[stage]
		sort.Float64s(d)
		results = append(results, StageStats{
			Stage:        stage,
			Invocations:  len(invs),
			FirstPass:    pct(firstPass, len(invs)),
			Passed:       pct(passed, len(invs)),
			AvgAttempts:  math.Round(float64(attempts)/float64(len(invs))*10) / 10,
			P50AttemptMs: percentile(d, 50),
			P95AttemptMs: percentile(d, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return stageOrder(results[i].Stage) < stageOrder(results[j].Stage)
	})
	return results, nil
}

func stageOrder(s string) int {
	switch s {
	case "query":
		return 1
	case "retrieval":
		return 2
	case "answer":
		return 3
	}
	return 4
}

// FailureKindCount is the number of failed attempts of one kind at one stage.
type FailureKindCount struct {
	Stage  string  `json:"stage"`
	Kind   string  `json:"kind"`
	Count  int     `json:"count"`
	Pct    float64 `json:"pct_of_stage_failures"`
	Reason string  `json:"common_reason,omitempty"`
}

// QueryFailureKinds breaks failed attempts down by stage and failure kind,
// with the most common reason for each.
func QueryFailureKinds(database DB, since string) ([]FailureKindCount, error) {
	query, args := sinceClause(`
		SELECT stage, kind, COUNT(*) AS cnt
		FROM stage_attempts
		WHERE NOT passed AND kind IS NOT NULL`, "timestamp", since, nil)
	query += ` GROUP BY stage, kind`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query failure kinds: %w", err)
	}
	defer rows.Close()

	var results []FailureKindCount
	totals := make(map[string]int)
	for rows.Next() {
		var fk FailureKindCount
		if err := rows.Scan(&fk.Stage, &fk.Kind, &fk.Count); err != nil {
			return nil, fmt.Errorf("scan failure kind: %w", err)
		}
		totals[fk.Stage] += fk.Count
		results = append(results, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Pct = pct(results[i].Count, totals[results[i].Stage])

		rq, rargs := sinceClause(`
			SELECT reason, COUNT(*) AS cnt
			FROM stage_attempts
			WHERE stage = ? AND kind = ? AND NOT passed AND reason IS NOT NULL AND reason != ''`,
			"timestamp", since, []interface{}{results[i].Stage, results[i].Kind})
		rq += ` GROUP BY reason ORDER BY cnt DESC LIMIT 1`

		var reason string
		var cnt int
		if err := database.Conn().QueryRow(database.Rebind(rq), rargs...).Scan(&reason, &cnt); err == nil {
			results[i].Reason = reason
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Stage != results[j].Stage {
			return stageOrder(results[i].Stage) < stageOrder(results[j].Stage)
		}
		return results[i].Count > results[j].Count
	})
	return results, nil
}

// EscalationStats describes how often retrieval needed the secondary source.
type EscalationStats struct {
	Invocations     int     `json:"invocations"`
	Escalated       int     `json:"escalated"`
	EscalatedPct    float64 `json:"escalated_pct"`
	SecondaryPassed float64 `json:"secondary_pass_pct"`
	PrimaryPassed   float64 `json:"primary_pass_pct"`
}

// QueryEscalationRate returns the share of retrieval invocations that
// reached the secondary source, and how those invocations ended.
func QueryEscalationRate(database DB, since string) (*EscalationStats, error) {
	query, args := sinceClause(`
		SELECT run_id, invocation, source, passed
		FROM stage_attempts
		WHERE stage = 'retrieval'`, "timestamp", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query escalation rate: %w", err)
	}
	defer rows.Close()

	type invocation struct{ escalated, passed bool }
	invs := make(map[string]*invocation)
	for rows.Next() {
		var runID string
		var inv int
		var source sql.NullString
		var passed bool
		if err := rows.Scan(&runID, &inv, &source, &passed); err != nil {
			return nil, fmt.Errorf("scan retrieval attempt: %w", err)
		}
		key := fmt.Sprintf("%s/%d", runID, inv)
		iv := invs[key]
		if iv == nil {
			iv = &invocation{}
			invs[key] = iv
		}
		if source.String == "secondary" {
			iv.escalated = true
		}
		if passed {
			iv.passed = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var escalated, escalatedPassed, primaryPassed int
	for _, iv := range invs {
		switch {
		case iv.escalated:
			escalated++
			if iv.passed {
				escalatedPassed++
			}
		case iv.passed:
			primaryPassed++
		}
	}
	return &EscalationStats{
		Invocations:     len(invs),
		Escalated:       escalated,
		EscalatedPct:    pct(escalated, len(invs)),
		SecondaryPassed: pct(escalatedPassed, escalated),
		PrimaryPassed:   pct(primaryPassed, len(invs)-escalated),
	}, nil
}

// LoopDist is the distribution of backward transitions per finished run.
type LoopDist struct {
	Total          int     `json:"total"`
	Zero           float64 `json:"zero_pct"`
	One            float64 `json:"one_pct"`
	Two            float64 `json:"two_pct"`
	ThreePlus      float64 `json:"three_plus_pct"`
	BudgetExceeded int     `json:"loop_budget_exhausted"`
}

// QueryLoopDistribution returns how many backward transitions finished
// runs made, and how many ended on the loop budget.
func QueryLoopDistribution(database DB, since string) (*LoopDist, error) {
	query, args := sinceClause(`
		SELECT backward_count
		FROM runs
		WHERE status != 'running'`, "started_at", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query loop distribution: %w", err)
	}
	defer rows.Close()

	var zero, one, two, threePlus, total int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan backward count: %w", err)
		}
		total++
		switch {
		case n == 0:
			zero++
		case n == 1:
			one++
		case n == 2:
			two++
		default:
			threePlus++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dist := &LoopDist{
		Total:     total,
		Zero:      pct(zero, total),
		One:       pct(one, total),
		Two:       pct(two, total),
		ThreePlus: pct(threePlus, total),
	}

	bq, bargs := sinceClause(`
		SELECT COUNT(*) FROM run_events
		WHERE event = 'loop_budget_exhausted'`, "timestamp", since, nil)
	if err := database.Conn().QueryRow(database.Rebind(bq), bargs...).Scan(&dist.BudgetExceeded); err != nil {
		return nil, fmt.Errorf("count loop budget events: %w", err)
	}
	return dist, nil
}

// RunOutcome holds run counts for one day.
type RunOutcome struct {
	Period      string  `json:"period"`
	Started     int     `json:"started"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

// QueryRunOutcomes returns run outcomes grouped by day, newest first.
func QueryRunOutcomes(database DB, since string) ([]RunOutcome, error) {
	query, args := sinceClause(`
		SELECT status, started_at, finished_at
		FROM runs
		WHERE 1 = 1`, "started_at", since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query run outcomes: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]*RunOutcome)
	durations := make(map[string][]float64)
	for rows.Next() {
		var status, started string
		var finished sql.NullString
		if err := rows.Scan(&status, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		start, err := parseTimestamp(started)
		if err != nil {
			continue
		}
		day := start.UTC().Format("2006-01-02")
		ro := byDay[day]
		if ro == nil {
			ro = &RunOutcome{Period: day}
			byDay[day] = ro
		}
		ro.Started++
		switch status {
		case "succeeded":
			ro.Succeeded++
		case "failed":
			ro.Failed++
		case "cancelled":
			ro.Cancelled++
		}
		if finished.Valid {
			if end, err := parseTimestamp(finished.String); err == nil && !end.Before(start) {
				durations[day] = append(durations[day], end.Sub(start).Seconds())
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]RunOutcome, 0, len(byDay))
	for day, ro := range byDay {
		ro.AvgDuration = avg(durations[day])
		results = append(results, *ro)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Period > results[j].Period
	})
	return results, nil
}

// RunEvent holds a single entry of a run timeline.
type RunEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// QueryRunDetail returns the full timeline for a run: routing events and
// stage attempts in time order.
func QueryRunDetail(database DB, runID string) ([]RunEvent, error) {
	var results []RunEvent

	evRows, err := database.Conn().Query(database.Rebind(
		`SELECT timestamp, event, stage, attempt, detail
		 FROM run_events WHERE run_id = ? ORDER BY timestamp, id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer evRows.Close()

	for evRows.Next() {
		var e RunEvent
		var stage, detail sql.NullString
		var attempt sql.NullInt64
		if err := evRows.Scan(&e.Timestamp, &e.Event, &stage, &attempt, &detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Type = "run"
		e.Stage = stage.String
		e.Attempt = int(attempt.Int64)
		e.Detail = detail.String
		results = append(results, e)
	}
	if err := evRows.Err(); err != nil {
		return nil, err
	}

	atRows, err := database.Conn().Query(database.Rebind(
		`SELECT timestamp, stage, invocation, attempt, passed, terminal, kind, reason, source, accepted, duration_ms
		 FROM stage_attempts WHERE run_id = ? ORDER BY timestamp, id`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage attempts: %w", err)
	}
	defer atRows.Close()

	for atRows.Next() {
		var ts, stage string
		var invocation, attempt, accepted int
		var durationMs int64
		var passed, terminal bool
		var kind, reason, source sql.NullString
		if err := atRows.Scan(&ts, &stage, &invocation, &attempt, &passed, &terminal, &kind, &reason, &source, &accepted, &durationMs); err != nil {
			return nil, fmt.Errorf("scan stage attempt: %w", err)
		}

		status := "PASS"
		if !passed {
			status = "FAIL"
			if kind.Valid {
				status += " (" + kind.String + ")"
			}
		}
		detail := fmt.Sprintf("%s invocation %d, %dms", status, invocation, durationMs)
		if source.Valid && source.String != "" {
			detail += fmt.Sprintf(", %s source, %d accepted", source.String, accepted)
		}
		if reason.Valid && reason.String != "" {
			detail += ": " + reason.String
		}
		event := "attempt"
		if terminal {
			event = "terminal_attempt"
		}

		results = append(results, RunEvent{
			Timestamp: ts,
			Type:      "attempt",
			Event:     event,
			Stage:     stage,
			Attempt:   attempt,
			Detail:    detail,
		})
	}
	if err := atRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
