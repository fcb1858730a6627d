package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	RunID         string   `json:"run_id"`
	Question      string   `json:"question"`
	Status        string   `json:"status"`
	FinalAnswer   string   `json:"final_answer,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	State         Snapshot `json:"state"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// Store keeps run records on disk, one directory per run.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.qafactory/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".qafactory", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) attemptDir(runID string, stage StageID, invocation, attempt int) string {
	return filepath.Join(s.runDir(runID), "stages", string(stage),
		fmt.Sprintf("invocation-%d", invocation), fmt.Sprintf("attempt-%d", attempt))
}

// Create writes a new running record.
func (s *Store) Create(runID, question string) (*RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	if err := os.MkdirAll(filepath.Join(dir, "stages"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir stages: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rec := &RunRecord{
		RunID:     runID,
		Question:  question,
		Status:    StatusRunning,
		State:     NewState(runID, question).Snapshot(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := WriteJSON(s.runPath(runID), rec); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rec, nil
}

// ErrNotFound is returned for a run ID with no record.
var ErrNotFound = errors.New("run not found")

// Get reads the record for a run.
func (s *Store) Get(runID string) (*RunRecord, error) {
	var rec RunRecord
	if err := ReadJSON(s.runPath(runID), &rec); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, err
	}
	return &rec, nil
}

// Update performs a read-modify-write of a run record.
func (s *Store) Update(runID string, fn func(*RunRecord)) error {
	rec, err := s.Get(runID)
	if err != nil {
		return err
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return WriteJSON(s.runPath(runID), rec)
}

// List returns all runs, newest first, optionally filtered by status.
// Pass "" for statusFilter to return every run.
func (s *Store) List(statusFilter string) ([]RunRecord, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || rec.Status == statusFilter {
			runs = append(runs, *rec)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt > runs[j].CreatedAt
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(runID string) error {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return os.RemoveAll(dir)
}

// SaveCandidate writes the candidate payload produced by one stage attempt.
func (s *Store) SaveCandidate(runID string, stage StageID, invocation, attempt int, v any) error {
	return WriteJSON(filepath.Join(s.attemptDir(runID, stage, invocation, attempt), "candidate.json"), v)
}

// GetCandidate reads a saved candidate payload into v.
func (s *Store) GetCandidate(runID string, stage StageID, invocation, attempt int, v any) error {
	return ReadJSON(filepath.Join(s.attemptDir(runID, stage, invocation, attempt), "candidate.json"), v)
}
