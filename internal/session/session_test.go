package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_DefaultsWhenMissing(t *testing.T) {
	s, err := Open(NewFileStore(t.TempDir()), Default("alpha", "agent-1"))
	if err != nil {
		t.Fatal(err)
	}
	st := s.Current()
	if st.Project != "alpha" || st.AgentID != "agent-1" || st.Workflow != ModeArchitect {
		t.Errorf("unexpected defaults: %+v", st)
	}
}

func TestSession_PersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return fixed }
	t.Cleanup(func() { timeNow = orig })

	s, err := Open(NewFileStore(dir), Default("alpha", "agent"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SwitchProject("beta", "/work/beta"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetWorkflow(ModeAuditor); err != nil {
		t.Fatal(err)
	}

	again, err := Open(NewFileStore(dir), Default("alpha", "agent"))
	if err != nil {
		t.Fatal(err)
	}
	st := again.Current()
	if st.Project != "beta" || st.Root != "/work/beta" || st.Workflow != ModeAuditor {
		t.Errorf("state not persisted: %+v", st)
	}
	if st.UpdatedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("updated_at = %q", st.UpdatedAt)
	}
}

func TestSession_RejectsInvalidInput(t *testing.T) {
	s, err := Open(NewFileStore(t.TempDir()), Default("alpha", "agent"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetWorkflow(Mode("Wizard")); err == nil {
		t.Error("unknown mode should be rejected")
	}
	if _, err := s.SwitchProject("  ", ""); err == nil {
		t.Error("empty project should be rejected")
	}
	if s.Current().Project != "alpha" {
		t.Error("failed updates must not change state")
	}
}

type failingStore struct{}

func (failingStore) Load() (State, bool, error) { return State{}, false, nil }
func (failingStore) Save(State) error           { return errors.New("disk full") }

func TestSession_SaveFailureKeepsState(t *testing.T) {
	s, err := Open(failingStore{}, Default("alpha", "agent"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetWorkflow(ModeBuilder); err == nil {
		t.Fatal("expected persist error")
	}
	if s.Current().Workflow != ModeArchitect {
		t.Error("state must not change when persisting fails")
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, StateFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(NewFileStore(dir), Default("alpha", "agent")); err == nil {
		t.Error("corrupt state should surface an error")
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("auditor")
	if err != nil || m != ModeAuditor {
		t.Errorf("ParseMode(auditor) = %q, %v", m, err)
	}
	if !m.ReadOnly() {
		t.Error("Auditor is read-only")
	}
	if _, err := ParseMode("chaos"); err == nil {
		t.Error("unknown mode should error")
	}
}
