package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Create("run-1", "What is the refund window?")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.RunID != "run-1" {
		t.Errorf("RunID = %q, want %q", rec.RunID, "run-1")
	}
	if rec.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", rec.Status, StatusRunning)
	}
	if rec.State.OriginalQuestion != "What is the refund window?" {
		t.Errorf("State.OriginalQuestion = %q", rec.State.OriginalQuestion)
	}
	if rec.CreatedAt == "" {
		t.Error("CreatedAt should not be empty")
	}

	got, err := s.Get("run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Question != "What is the refund window?" {
		t.Errorf("Get Question = %q", got.Question)
	}
	if got.State.Contract != DefaultContract() {
		t.Errorf("State.Contract = %+v, want default", got.State.Contract)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("dup", "q"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("dup", "q again"); err == nil {
		t.Fatal("expected error creating duplicate run")
	}
}

func TestCreateRequiresID(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("", "q"); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("missing"); err == nil {
		t.Fatal("expected error for non-existent run")
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("run-2", "q"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st := NewState("run-2", "q")
	st.SetFinalAnswer("forty-two")
	err := s.Update("run-2", func(rec *RunRecord) {
		rec.Status = StatusSucceeded
		rec.FinalAnswer = "forty-two"
		rec.State = st.Snapshot()
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get("run-2")
	if err != nil {
		t.Fatalf("Get after Update: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("Status = %q, want %q", got.Status, StatusSucceeded)
	}
	if got.State.FinalAnswer != "forty-two" {
		t.Errorf("State.FinalAnswer = %q, want %q", got.State.FinalAnswer, "forty-two")
	}
	if got.UpdatedAt == "" {
		t.Error("UpdatedAt should not be empty after Update")
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Update("missing", func(rec *RunRecord) { rec.Status = StatusFailed })
	if err == nil {
		t.Fatal("expected error updating non-existent run")
	}
}

func TestListWithFilter(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Create(id, "q-"+id); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	_ = s.Update("b", func(rec *RunRecord) { rec.Status = StatusFailed })

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d runs, want 3", len(all))
	}

	failed, err := s.List(StatusFailed)
	if err != nil {
		t.Fatalf("List(failed): %v", err)
	}
	if len(failed) != 1 || failed[0].RunID != "b" {
		t.Errorf("List(failed) = %+v, want only run b", failed)
	}
}

func TestListEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	runs, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("List returned %d runs, want 0", len(runs))
	}
}

func TestListSkipsBrokenEntries(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("good", "q"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(s.BaseDir(), "broken"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	runs, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("List returned %d runs, want 1", len(runs))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("gone", "q"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("gone"); err == nil {
		t.Fatal("expected error after Delete")
	}
	if err := s.Delete("gone"); err == nil {
		t.Fatal("expected error deleting twice")
	}
}

func TestSaveAndGetCandidate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("cand", "q"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	type payload struct {
		Refined string `json:"refined"`
	}
	if err := s.SaveCandidate("cand", StageQuery, 2, 1, payload{Refined: "better q"}); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}

	var got payload
	if err := s.GetCandidate("cand", StageQuery, 2, 1, &got); err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if got.Refined != "better q" {
		t.Errorf("Refined = %q, want %q", got.Refined, "better q")
	}

	path := filepath.Join(s.BaseDir(), "cand", "stages", "query", "invocation-2", "attempt-1", "candidate.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected candidate at %s: %v", path, err)
	}
}

func TestAtomicWriteCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	data := []byte(`{"key": "value"}`)
	if err := WriteAtomic(path, data); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("file content = %q, want %q", got, data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "test.json" {
			t.Errorf("unexpected file remaining: %s", e.Name())
		}
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var v map[string]any
	err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &v)
	if !os.IsNotExist(err) {
		t.Errorf("ReadJSON error = %v, want not-exist", err)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("busy", "q"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update("busy", func(rec *RunRecord) {
				rec.FailureReason = "attempt"
			})
		}()
	}
	wg.Wait()

	got, err := s.Get("busy")
	if err != nil {
		t.Fatalf("Get after concurrent updates: %v", err)
	}
	if got.RunID != "busy" {
		t.Errorf("RunID = %q, want busy (state corrupted)", got.RunID)
	}
}
