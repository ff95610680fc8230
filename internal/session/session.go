// Package session holds the per-process working context of an agent: the
// active project, its root folder, the workflow mode and the agent identity.
//
// State is a plain value passed explicitly into every gateway call. Session
// owns the current value and persists each change through a Store.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// --- Workflow mode enum ---

// Mode is the workflow mode gating mutations.
type Mode string

const (
	ModeArchitect Mode = "Architect"
	ModeBuilder   Mode = "Builder"
	ModeAuditor   Mode = "Auditor"
)

// validModes is the set of allowed workflow modes.
var validModes = map[Mode]bool{
	ModeArchitect: true,
	ModeBuilder:   true,
	ModeAuditor:   true,
}

// ValidateMode returns an error if the mode is not recognized.
func ValidateMode(m Mode) error {
	if !validModes[m] {
		return fmt.Errorf("invalid workflow mode %q: must be one of: Architect, Builder, Auditor", m)
	}
	return nil
}

// ParseMode accepts a mode name in any letter case.
func ParseMode(s string) (Mode, error) {
	for m := range validModes {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", ValidateMode(Mode(s))
}

// ReadOnly reports whether the mode forbids every mutation.
func (m Mode) ReadOnly() bool { return m == ModeAuditor }

// --- State ---

// State is the explicit session context threaded through gateway calls.
type State struct {
	Project   string `json:"project"`
	Root      string `json:"project_root,omitempty"`
	Workflow  Mode   `json:"workflow"`
	AgentID   string `json:"agent_id"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Default returns the state used when nothing was persisted yet.
func Default(project, agentID string) State {
	return State{Project: project, Workflow: ModeArchitect, AgentID: agentID}
}

// Store defines the load/persist boundary for session state.
type Store interface {
	Load() (State, bool, error)
	Save(State) error
}

// StateFile is the filename of the persisted session.
const StateFile = "state.json"

// FileStore persists State as JSON in a single file.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed session store under dataDir.
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{path: filepath.Join(dataDir, StateFile)}
}

// Path returns the state file location.
func (fs *FileStore) Path() string { return fs.path }

// Load reads the persisted state. ok is false when no file exists yet.
func (fs *FileStore) Load() (State, bool, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("reading session state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("parsing %s: %w", fs.path, err)
	}
	return st, true, nil
}

// Save writes the state, creating the directory if needed.
func (fs *FileStore) Save(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return os.WriteFile(fs.path, data, 0o644)
}

// --- Session ---

// Session guards the current State and persists every change.
type Session struct {
	mu    sync.RWMutex
	state State
	store Store
}

// Open loads persisted state, falling back to def for missing fields.
func Open(store Store, def State) (*Session, error) {
	st, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		st = def
	}
	if st.Project == "" {
		st.Project = def.Project
	}
	if st.AgentID == "" {
		st.AgentID = def.AgentID
	}
	if ValidateMode(st.Workflow) != nil {
		st.Workflow = ModeArchitect
	}
	return &Session{state: st, store: store}, nil
}

// Current returns a copy of the state.
func (s *Session) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SwitchProject changes the active project and its root folder.
func (s *Session) SwitchProject(project, root string) (State, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return State{}, fmt.Errorf("project id is required")
	}
	return s.update(func(st *State) {
		st.Project = project
		st.Root = root
	})
}

// SetWorkflow changes the workflow mode.
func (s *Session) SetWorkflow(m Mode) (State, error) {
	if err := ValidateMode(m); err != nil {
		return State{}, err
	}
	return s.update(func(st *State) { st.Workflow = m })
}

func (s *Session) update(fn func(*State)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	fn(&next)
	next.UpdatedAt = timeNow().UTC().Format(time.RFC3339)
	if err := s.store.Save(next); err != nil {
		return State{}, fmt.Errorf("persisting session: %w", err)
	}
	s.state = next
	return next, nil
}
