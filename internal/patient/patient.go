package patient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no profile exists for an ID.
var ErrNotFound = errors.New("patient not found")

// Profile holds the patient attributes used to parameterise meal plan prompts.
// It is never mutated by the planner.
type Profile struct {
	ID            string   `yaml:"id" json:"id"`
	BirthYear     int      `yaml:"birth_year" json:"birthYear"`
	CurrentWeight float64  `yaml:"current_weight" json:"currentWeight"`
	TargetWeight  float64  `yaml:"target_weight" json:"targetWeight"`
	Allergies     []string `yaml:"allergies" json:"allergies"`
	AutonomyNotes string   `yaml:"autonomy_notes" json:"autonomyNotes,omitempty"`
}

// Validate checks that the profile can be used for prompting.
func (p Profile) Validate(now time.Time) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("patient id is empty")
	}
	if p.BirthYear < 1900 || p.BirthYear > now.Year() {
		return fmt.Errorf("patient %s: birth year %d out of range", p.ID, p.BirthYear)
	}
	if p.CurrentWeight <= 0 || p.TargetWeight <= 0 {
		return fmt.Errorf("patient %s: weights must be positive", p.ID)
	}
	return nil
}

// Provider supplies patient profiles.
type Provider interface {
	Get(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context) ([]Profile, error)
}

// FileProvider serves profiles loaded from a YAML document of the form
//
//	patients:
//	  - id: p-001
//	    birth_year: 1948
//	    ...
type FileProvider struct {
	profiles map[string]Profile
}

type fileDocument struct {
	Patients []Profile `yaml:"patients"`
}

// NewFileProvider loads and validates the profiles stored at path.
func NewFileProvider(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patients file %s: %w", path, err)
	}
	return ParseProfiles(data, time.Now())
}

// ParseProfiles builds a provider from raw YAML.
func ParseProfiles(data []byte, now time.Time) (*FileProvider, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse patients file: %w", err)
	}

	profiles := make(map[string]Profile, len(doc.Patients))
	for _, p := range doc.Patients {
		if err := p.Validate(now); err != nil {
			return nil, err
		}
		if _, dup := profiles[p.ID]; dup {
			return nil, fmt.Errorf("duplicate patient id %s", p.ID)
		}
		profiles[p.ID] = p
	}
	return &FileProvider{profiles: profiles}, nil
}

// Get returns the profile with the given ID.
func (f *FileProvider) Get(_ context.Context, id string) (Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// List returns all profiles ordered by ID.
func (f *FileProvider) List(_ context.Context) ([]Profile, error) {
	out := make([]Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
