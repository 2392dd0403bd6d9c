// Package checkpoint persists which search tasks reached a terminal outcome so an
// interrupted run can resume.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"jobx-market/internal/model"
	"jobx-market/internal/runstore"
)

const (
	FileName      = "search_progress.yaml"
	SchemaVersion = 2
)

var ErrUnsupportedSchema = errors.New("unsupported checkpoint schema")

type CompletedEntry struct {
	RowCount       int    `yaml:"row_count"`
	SalaryRowCount int    `yaml:"salary_row_count"`
	ArtifactPath   string `yaml:"artifact_path"`
	CompletedAt    string `yaml:"completed_at"`
}

type FailedEntry struct {
	Error    string `yaml:"error"`
	Attempts int    `yaml:"attempts"`
	FailedAt string `yaml:"failed_at"`
}

// State is the on-disk progress document.
type State struct {
	SchemaVersion       int                       `yaml:"schema_version"`
	CompletedTasks      map[string]CompletedEntry `yaml:"completed_tasks"`
	FailedTasks         map[string]FailedEntry    `yaml:"failed_tasks"`
	TotalTasks          int                       `yaml:"total_tasks"`
	CompletedRegions    []string                  `yaml:"completed_regions"`
	CompletedCenters    []string                  `yaml:"completed_centers"`
	LastSearchTime      string                    `yaml:"last_search_time,omitempty"`
	TotalRuntimeMinutes float64                   `yaml:"total_runtime_minutes,omitempty"`
}

type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Store is safe for concurrent use. Every mutation is persisted before it returns.
type Store struct {
	mu    sync.Mutex
	path  string
	state State
	now   func() time.Time
}

func emptyState() State {
	return State{
		SchemaVersion:    SchemaVersion,
		CompletedTasks:   map[string]CompletedEntry{},
		FailedTasks:      map[string]FailedEntry{},
		CompletedRegions: []string{},
		CompletedCenters: []string{},
	}
}

// Path returns the progress file location for an output directory.
func Path(outputDir string) string {
	return filepath.Join(outputDir, FileName)
}

// Open loads the progress file in outputDir, starting empty when it does not exist.
func Open(outputDir string) (*Store, error) {
	s := &Store{
		path:  Path(outputDir),
		state: emptyState(),
		now:   time.Now,
	}

	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("stat checkpoint %s: %w", s.path, err)
	}

	var loaded State
	if err := runstore.ReadYAML(s.path, &loaded); err != nil {
		return nil, err
	}
	migrated, err := migrate(loaded)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", s.path, err)
	}
	s.state = migrated
	if loaded.SchemaVersion != SchemaVersion {
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// migrate upgrades a v1 document (region/center sets only) to task-level tracking.
func migrate(st State) (State, error) {
	switch st.SchemaVersion {
	case 0, 1:
		st.SchemaVersion = SchemaVersion
	case SchemaVersion:
	default:
		return State{}, fmt.Errorf("%w: version %d", ErrUnsupportedSchema, st.SchemaVersion)
	}
	if st.CompletedTasks == nil {
		st.CompletedTasks = map[string]CompletedEntry{}
	}
	if st.FailedTasks == nil {
		st.FailedTasks = map[string]FailedEntry{}
	}
	if st.CompletedRegions == nil {
		st.CompletedRegions = []string{}
	}
	if st.CompletedCenters == nil {
		st.CompletedCenters = []string{}
	}
	return st, nil
}

func (s *Store) saveLocked() error {
	s.state.LastSearchTime = s.now().UTC().Format(time.RFC3339)
	if err := runstore.WriteYAML(s.path, s.state); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	return nil
}

func (s *Store) IsTaskDone(locationCode, roleID string) bool {
	key := model.TaskKey(locationCode, roleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, completed := s.state.CompletedTasks[key]
	_, failed := s.state.FailedTasks[key]
	return completed || failed
}

// CompletedArtifact returns the artifact recorded for a completed task.
func (s *Store) CompletedArtifact(locationCode, roleID string) (CompletedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.state.CompletedTasks[model.TaskKey(locationCode, roleID)]
	return entry, ok
}

func (s *Store) MarkTaskComplete(locationCode, roleID string, rows, salaryRows int, artifactPath string) error {
	key := model.TaskKey(locationCode, roleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CompletedTasks[key] = CompletedEntry{
		RowCount:       rows,
		SalaryRowCount: salaryRows,
		ArtifactPath:   artifactPath,
		CompletedAt:    s.now().UTC().Format(time.RFC3339),
	}
	delete(s.state.FailedTasks, key)
	return s.saveLocked()
}

func (s *Store) MarkTaskFailed(locationCode, roleID, errMsg string, attempts int) error {
	key := model.TaskKey(locationCode, roleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.FailedTasks[key] = FailedEntry{
		Error:    errMsg,
		Attempts: attempts,
		FailedAt: s.now().UTC().Format(time.RFC3339),
	}
	return s.saveLocked()
}

// ForgetTask drops every record of the task so the next run executes it again.
func (s *Store) ForgetTask(locationCode, roleID string) error {
	key := model.TaskKey(locationCode, roleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, completed := s.state.CompletedTasks[key]
	_, failed := s.state.FailedTasks[key]
	if !completed && !failed {
		return nil
	}
	delete(s.state.CompletedTasks, key)
	delete(s.state.FailedTasks, key)
	return s.saveLocked()
}

// Failure returns the recorded failure for a task, if any.
func (s *Store) Failure(locationCode, roleID string) (FailedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.state.FailedTasks[model.TaskKey(locationCode, roleID)]
	return entry, ok
}

func (s *Store) SetTotalTasks(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TotalTasks = n
	return s.saveLocked()
}

// AddRuntime accumulates wall-clock minutes across resumed runs.
func (s *Store) AddRuntime(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TotalRuntimeMinutes += d.Minutes()
	return s.saveLocked()
}

func (s *Store) ProgressSummary() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Progress{
		Total:     s.state.TotalTasks,
		Completed: len(s.state.CompletedTasks),
		Failed:    len(s.state.FailedTasks),
	}
	p.Remaining = max(p.Total-p.Completed-p.Failed, 0)
	return p
}

// Reset discards all progress and persists the empty document.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = emptyState()
	return s.saveLocked()
}

func (s *Store) MarkRegionComplete(region string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.state.CompletedRegions, region) {
		return nil
	}
	s.state.CompletedRegions = append(s.state.CompletedRegions, region)
	return s.saveLocked()
}

func (s *Store) IsRegionComplete(region string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.state.CompletedRegions, region)
}

func (s *Store) MarkCenterComplete(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.state.CompletedCenters, code) {
		return nil
	}
	s.state.CompletedCenters = append(s.state.CompletedCenters, code)
	return s.saveLocked()
}

func (s *Store) IsCenterComplete(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.state.CompletedCenters, code)
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state
	out.CompletedTasks = make(map[string]CompletedEntry, len(s.state.CompletedTasks))
	for k, v := range s.state.CompletedTasks {
		out.CompletedTasks[k] = v
	}
	out.FailedTasks = make(map[string]FailedEntry, len(s.state.FailedTasks))
	for k, v := range s.state.FailedTasks {
		out.FailedTasks[k] = v
	}
	out.CompletedRegions = slices.Clone(s.state.CompletedRegions)
	out.CompletedCenters = slices.Clone(s.state.CompletedCenters)
	return out
}

func (s *Store) FilePath() string {
	return s.path
}
