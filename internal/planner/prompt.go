package planner

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"nutrition-planner/internal/patient"
)

//go:embed day_system_prompt.md
var daySystemPrompt string

//go:embed day_user_prompt.md
var dayUserPrompt string

var (
	daySystemTmpl = template.Must(template.New("daySystem").Parse(daySystemPrompt))
	dayUserTmpl   = template.Must(template.New("dayUser").Funcs(template.FuncMap{"join": strings.Join}).Parse(dayUserPrompt))
)

// PromptMode controls how terse the requested day plan is.
type PromptMode string

const (
	ModeNormal  PromptMode = "normal"
	ModeCompact PromptMode = "compact"
	ModeUltra   PromptMode = "ultra"
)

// limits returns the ingredient and description caps for the mode.
func (m PromptMode) limits() (maxIngredients, maxDescriptionChars int) {
	if m == ModeUltra {
		return 3, 60
	}
	return 5, 100
}

// PromptInput carries everything needed to render the prompts for one day.
type PromptInput struct {
	Profile           patient.Profile
	DayName           string
	Notes             string
	Mode              PromptMode
	ExcludedMealNames []string
	CorrectionHint    string
	MinDailyKcal      float64
	// Year is used to derive the patient's age.
	Year int
}

// Prompts is a rendered system/user prompt pair.
type Prompts struct {
	System string
	User   string
}

// PatientSummary is the textual rendering of a profile shared by prompts and provenance.
type PatientSummary struct {
	Age       int
	Allergies string
	Notes     string
	Autonomy  string
}

// Summarize renders the profile fields with their German fallbacks.
func Summarize(profile patient.Profile, notes string, year int) PatientSummary {
	s := PatientSummary{
		Age:       year - profile.BirthYear,
		Allergies: "Keine bekannt",
		Notes:     "Keine besonderen Hinweise",
		Autonomy:  "Keine Absprachen",
	}
	if len(profile.Allergies) > 0 {
		s.Allergies = strings.Join(profile.Allergies, ", ")
	}
	if n := strings.TrimSpace(notes); n != "" {
		s.Notes = n
	}
	if a := strings.TrimSpace(profile.AutonomyNotes); a != "" {
		s.Autonomy = a
	}
	return s
}

// BuildDayPrompts renders the prompts asking the model for exactly one day.
func BuildDayPrompts(in PromptInput) (Prompts, error) {
	if in.Mode == "" {
		in.Mode = ModeNormal
	}
	maxIngredients, maxDescriptionChars := in.Mode.limits()
	summary := Summarize(in.Profile, in.Notes, in.Year)

	var system bytes.Buffer
	err := daySystemTmpl.Execute(&system, struct {
		DayName             string
		MinDailyKcal        float64
		MaxIngredients      int
		MaxDescriptionChars int
	}{in.DayName, in.MinDailyKcal, maxIngredients, maxDescriptionChars})
	if err != nil {
		return Prompts{}, fmt.Errorf("failed to render system prompt: %w", err)
	}

	var user bytes.Buffer
	err = dayUserTmpl.Execute(&user, struct {
		PatientSummary
		CurrentWeight     float64
		TargetWeight      float64
		DayName           string
		ExcludedMealNames []string
		CorrectionHint    string
	}{summary, in.Profile.CurrentWeight, in.Profile.TargetWeight, in.DayName, in.ExcludedMealNames, in.CorrectionHint})
	if err != nil {
		return Prompts{}, fmt.Errorf("failed to render user prompt: %w", err)
	}

	return Prompts{System: system.String(), User: user.String()}, nil
}
