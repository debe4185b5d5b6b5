package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PlanArchive stores exported meal plans as JSON files, one per generation run.
type PlanArchive struct {
	basePath string
}

// NewPlanArchive creates a new PlanArchive and ensures the base directory exists.
func NewPlanArchive(basePath string) (*PlanArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &PlanArchive{basePath: basePath}, nil
}

// sanitize makes an identifier safe for filenames.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '-'
		}
		return r
	}, s)
}

func (a *PlanArchive) path(patientID, runID string) string {
	return filepath.Join(a.basePath, fmt.Sprintf("%s_%s.json", sanitize(patientID), sanitize(runID)))
}

// Save writes v for the given patient and run and returns the file path.
func (a *PlanArchive) Save(patientID, runID string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan: %w", err)
	}

	filePath := a.path(patientID, runID)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write plan file: %w", err)
	}
	return filePath, nil
}

// Load reads the plan of a run into v.
func (a *PlanArchive) Load(patientID, runID string, v any) error {
	data, err := os.ReadFile(a.path(patientID, runID))
	if err != nil {
		return fmt.Errorf("failed to read plan file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return nil
}

// Exists checks if the plan of a run has been exported.
func (a *PlanArchive) Exists(patientID, runID string) bool {
	_, err := os.Stat(a.path(patientID, runID))
	return !os.IsNotExist(err)
}

// List returns the run IDs exported for a patient, sorted.
func (a *PlanArchive) List(patientID string) ([]string, error) {
	prefix := sanitize(patientID) + "_"
	matches, err := filepath.Glob(filepath.Join(a.basePath, prefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob plan files: %w", err)
	}

	runs := make([]string, 0, len(matches))
	for _, m := range matches {
		runs = append(runs, strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".json"))
	}
	sort.Strings(runs)
	return runs, nil
}
