package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type StepStatus string

const (
	StatusDone    StepStatus = "done"
	StatusFailed  StepStatus = "failed"
	StatusRunning StepStatus = "running"
)

type StepRecord struct {
	Status    StepStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	UpdatedAt string     `json:"updatedAt"`
}

// File is the on-disk journal of the latest deploy or destroy run of a stack.
type File struct {
	Version   int                   `json:"version"`
	Stack     string                `json:"stack"`
	Operation string                `json:"operation,omitempty"`
	RunID     string                `json:"runId,omitempty"`
	Completed bool                  `json:"completed"`
	UpdatedAt string                `json:"updatedAt"`
	Steps     map[string]StepRecord `json:"steps"`
}

type Store struct {
	Path string
	Data File
}

func DefaultPath(stack string) string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, ".mlworkspace", fmt.Sprintf("%s-state.json", stack))
}

func LoadOrCreate(path, stack string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{Path: path}
	if _, err := os.Stat(path); err == nil {
		b, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read state file: %w", readErr)
		}
		if unmarshalErr := json.Unmarshal(b, &s.Data); unmarshalErr != nil {
			return nil, fmt.Errorf("parse state file: %w", unmarshalErr)
		}
		if s.Data.Steps == nil {
			s.Data.Steps = map[string]StepRecord{}
		}
		return s, nil
	}

	s.Data = File{
		Version:   1,
		Stack:     stack,
		Completed: true,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Steps:     map[string]StepRecord{},
	}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

// StartRun begins a run of operation. An unfinished run of the same
// operation is resumed with its run ID, so the provisioning engine can
// recognise a retried request; otherwise the journal is reset.
func (s *Store) StartRun(operation string, newRunID func() string) (runID string, resumed bool, err error) {
	if !s.Data.Completed && s.Data.Operation == operation && s.Data.RunID != "" {
		return s.Data.RunID, true, s.Save()
	}
	runID = newRunID()
	return runID, false, s.Reset(operation, runID)
}

// Reset discards the journal and starts operation afresh under runID.
func (s *Store) Reset(operation, runID string) error {
	s.Data.Operation = operation
	s.Data.RunID = runID
	s.Data.Completed = false
	s.Data.Steps = map[string]StepRecord{}
	s.Data.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.Save()
}

// FinishRun marks the current run complete.
func (s *Store) FinishRun() error {
	s.Data.Completed = true
	s.Data.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.Save()
}

func (s *Store) Mark(step string, status StepStatus, message string) error {
	s.Data.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	s.Data.Steps[step] = StepRecord{
		Status:    status,
		Message:   message,
		UpdatedAt: s.Data.UpdatedAt,
	}
	return s.Save()
}

// Done reports whether step already finished in the current run.
func (s *Store) Done(step string) bool {
	rec, ok := s.Data.Steps[step]
	return ok && rec.Status == StatusDone
}

func (s *Store) Save() error {
	b, err := json.MarshalIndent(s.Data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(s.Path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
