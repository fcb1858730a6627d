package web

import (
	"database/sql"
	"fmt"

	"github.com/lucasnoah/qafactory/internal/db"
)

// recentActivity returns the most recent run events across all runs.
func (s *Server) recentActivity(limit int) ([]db.RunEvent, error) {
	rows, err := s.db.Conn().Query(s.db.Rebind(
		`SELECT id, run_id, event, stage, attempt, detail, timestamp
		 FROM run_events ORDER BY id DESC LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var events []db.RunEvent
	for rows.Next() {
		var e db.RunEvent
		var stage, detail sql.NullString
		var attempt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &stage, &attempt, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if stage.Valid {
			e.Stage = stage.String
		}
		if attempt.Valid {
			e.Attempt = int(attempt.Int64)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
