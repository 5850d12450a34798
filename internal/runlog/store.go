package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store reads and writes run records under <baseDir>/runs/<run-id>/.
// Every write is atomic and synced (temp file, rename, directory sync).
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) runsRootDir() string { return filepath.Join(s.baseDir, "runs") }

func (s *Store) runDir(runID string) string { return filepath.Join(s.runsRootDir(), runID) }

// ListRunIDs returns the run IDs present on disk, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestRun returns the run with the newest start time. Unreadable run
// directories are skipped.
func (s *Store) LatestRun() (Run, bool, error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return Run{}, false, err
	}
	var (
		latest Run
		found  bool
	)
	for _, id := range ids {
		run, err := s.LoadRun(id)
		if err != nil {
			continue
		}
		if !found || run.StartTime.After(latest.StartTime) {
			latest, found = run, true
		}
	}
	return latest, found, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return s.save(run.RunID, "run.json", run)
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if err := s.load(runID, "run.json", &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveSummary(summary Summary) error {
	if summary.Failures == nil {
		summary.Failures = []CoordinateFailure{}
	}
	if err := summary.Validate(); err != nil {
		return fmt.Errorf("invalid summary: %w", err)
	}
	return s.save(summary.RunID, "summary.json", summary)
}

func (s *Store) LoadSummary(runID string) (Summary, error) {
	var summary Summary
	if err := s.load(runID, "summary.json", &summary); err != nil {
		return Summary{}, err
	}
	if err := summary.Validate(); err != nil {
		return Summary{}, fmt.Errorf("invalid summary on disk: %w", err)
	}
	return summary, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	return s.save(runID, "failure.json", failure)
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	if err := s.load(runID, "failure.json", &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

func (s *Store) save(runID, name string, v any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := writeFileDurable(filepath.Join(s.runDir(runID), name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// load decodes one record, rejecting unknown fields and trailing content.
func (s *Store) load(runID, name string, dst any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	f, err := os.Open(filepath.Join(s.runDir(runID), name))
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func writeFileDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
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
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
