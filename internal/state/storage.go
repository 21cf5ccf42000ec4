package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Craig-0219/potato-autoA/internal/report"
)

// Store handles on-disk run state: checkpoints, reports and the event
// stream, all kept under <base>/runs/<task>/.
type Store struct {
	basePath string
}

// NewStore creates a Store rooted at the autoa data directory (logs.dir).
func NewStore(basePath string) *Store {
	return &Store{basePath: basePath}
}

// BasePath returns the data directory.
func (s *Store) BasePath() string {
	return s.basePath
}

func (s *Store) runsDir() string {
	return filepath.Join(s.basePath, "runs")
}

// TaskDir returns the directory holding a task's runs.
func (s *Store) TaskDir(task string) string {
	return filepath.Join(s.runsDir(), sanitizeName(task))
}

// RunDir returns the directory holding one run's report and events.
func (s *Store) RunDir(task, runID string) string {
	return filepath.Join(s.TaskDir(task), runID)
}

// EventsPath returns the JSONL event stream path for a run.
func (s *Store) EventsPath(task, runID string) string {
	return filepath.Join(s.RunDir(task, runID), "events.jsonl")
}

// EvidenceDir returns the directory failure screenshots are written under.
func (s *Store) EvidenceDir() string {
	return filepath.Join(s.basePath, "evidence")
}

// CountersPath returns the sqlite database used for daily counters.
func (s *Store) CountersPath() string {
	return filepath.Join(s.basePath, "counters.db")
}

// LockPath returns the run lock file path.
func (s *Store) LockPath() string {
	return filepath.Join(s.basePath, "run.lock")
}

// sanitizeName converts a task name to a safe directory name.
func sanitizeName(name string) string {
	r := strings.NewReplacer("/", "-", `\`, "-", " ", "_", ":", "-")
	name = r.Replace(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// SaveCheckpoint writes checkpoint.json for the checkpoint's task.
func (s *Store) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	path := filepath.Join(s.TaskDir(cp.Task), "checkpoint.json")
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads checkpoint.json. It returns nil, nil if the task
// has no checkpoint.
func (s *Store) LoadCheckpoint(_ context.Context, task string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.TaskDir(task), "checkpoint.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return &cp, nil
}

// ClearCheckpoint removes the task's checkpoint, if any.
func (s *Store) ClearCheckpoint(_ context.Context, task string) error {
	err := os.Remove(filepath.Join(s.TaskDir(task), "checkpoint.json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}

// SaveReport writes report.json into the run directory and marks the run
// as the task's latest.
func (s *Store) SaveReport(rep *report.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.RunDir(rep.Task, rep.RunID), "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.TaskDir(rep.Task), "latest"), []byte(rep.RunID+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write latest marker: %w", err)
	}
	return nil
}

// LoadReport reads a run's report.json. It returns nil, nil if absent.
func (s *Store) LoadReport(task, runID string) (*report.Report, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(task, runID), "report.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &rep, nil
}

// LatestRunID returns the run id of the task's most recent saved report,
// or "" if there is none.
func (s *Store) LatestRunID(task string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.TaskDir(task), "latest"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read latest marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// LatestReport loads the task's most recent report, or nil, nil.
func (s *Store) LatestReport(task string) (*report.Report, error) {
	runID, err := s.LatestRunID(task)
	if err != nil || runID == "" {
		return nil, err
	}
	return s.LoadReport(task, runID)
}

// ExportReportYAML writes a YAML rendition of the report next to report.json
// and returns its path.
func (s *Store) ExportReportYAML(rep *report.Report) (string, error) {
	// Round-trip through JSON so the YAML keys match report.json.
	raw, err := json.Marshal(rep)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	path := filepath.Join(s.RunDir(rep.Task, rep.RunID), "report.yaml")
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report yaml: %w", err)
	}
	return path, nil
}

// ListTasks returns the (sanitized) names of tasks that have run state.
func (s *Store) ListTasks() ([]string, error) {
	entries, err := os.ReadDir(s.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var tasks []string
	for _, e := range entries {
		if e.IsDir() {
			tasks = append(tasks, e.Name())
		}
	}
	return tasks, nil
}

// ListRuns returns the run ids recorded for a task.
func (s *Store) ListRuns(task string) ([]string, error) {
	entries, err := os.ReadDir(s.TaskDir(task))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	return runs, nil
}

// writeFileAtomic writes data to a temp file in the same directory, syncs
// it and renames it over path, so readers never see a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
