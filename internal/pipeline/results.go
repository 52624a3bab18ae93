package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Stats aggregates entity outcomes across a run.
type Stats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// EntityResult is one entity's outcome across all stages.
type EntityResult struct {
	Entity    string            `json:"entity"`
	Folder    string            `json:"folder"`
	Stages    map[string]Result `json:"stages"`
	Success   bool              `json:"success"`
	TotalTime string            `json:"totalTime"`
}

// RunResult is the full report of one pipeline run.
type RunResult struct {
	RunID             string         `json:"runId"`
	Partition         string         `json:"partition"`
	AvailableEntities []string       `json:"availableEntities"`
	Entities          []EntityResult `json:"entities"`
	Success           bool           `json:"success"`
	Message           string         `json:"message"`
	TotalTime         string         `json:"totalTime"`
	Stats             Stats          `json:"stats"`
}

func newRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

// SaveResults writes the run report under dir as
// pipeline_<runId>_<success|failed>.json and returns the written path.
func SaveResults(run *RunResult, dir string) (string, error) {
	status := "failed"
	if run.Success {
		status = "success"
	}
	path := filepath.Join(dir, fmt.Sprintf("pipeline_%s_%s.json", run.RunID, status))
	if err := WriteResults(run, path); err != nil {
		return "", err
	}
	return path, nil
}

// WriteResults serializes the run report as indented JSON to path, creating
// parent directories as needed.
func WriteResults(run *RunResult, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create results dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
