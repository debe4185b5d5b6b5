package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutrition-planner/internal/patient"
)

func TestBuildDayPrompts(t *testing.T) {
	in := PromptInput{
		Profile:      testProfile,
		DayName:      "Dienstag (Woche 2)",
		Notes:        "Isst gerne Fisch",
		Mode:         ModeNormal,
		MinDailyKcal: 1800,
		Year:         2026,
	}

	t.Run("normal", func(t *testing.T) {
		p, err := BuildDayPrompts(in)
		require.NoError(t, err)

		assert.Contains(t, p.System, `"dayName": "Dienstag (Woche 2)"`)
		assert.Contains(t, p.System, `dayName MUSS exakt "Dienstag (Woche 2)" sein`)
		assert.Contains(t, p.System, "dailyKcal mindestens 1800")
		assert.Contains(t, p.System, "maximal 5 Zutaten")
		assert.Contains(t, p.System, "max. 100 Zeichen")
		assert.Contains(t, p.System, `"Gemüse & Obst"`)

		assert.Contains(t, p.User, "- Alter: 78\n")
		assert.Contains(t, p.User, "- Aktuelles Gewicht: 71 kg")
		assert.Contains(t, p.User, "- Zielgewicht: 68 kg")
		assert.Contains(t, p.User, "- Besondere Hinweise: Isst gerne Fisch")
		assert.Contains(t, p.User, "- Selbstständigkeit/Absprachen: Kocht selbst mit Unterstützung")
		assert.True(t, strings.HasSuffix(p.User, "Erstelle den Plan für Dienstag (Woche 2).\n"), p.User)
		assert.NotContains(t, p.User, "WICHTIG")
		assert.NotContains(t, p.User, "KORREKTURHINWEIS")
	})

	t.Run("ultra with exclusions and hint", func(t *testing.T) {
		in := in
		in.Mode = ModeUltra
		in.ExcludedMealNames = []string{"Haferbrei", "Linsencurry"}
		in.CorrectionHint = hintParse

		p, err := BuildDayPrompts(in)
		require.NoError(t, err)
		assert.Contains(t, p.System, "maximal 3 Zutaten")
		assert.Contains(t, p.System, "max. 60 Zeichen")
		assert.Contains(t, p.User, "WICHTIG: Verwende KEINE der folgenden bereits genutzten Gerichte: Haferbrei, Linsencurry.")
		assert.Contains(t, p.User, "KORREKTURHINWEIS: "+hintParse)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := BuildDayPrompts(in)
		require.NoError(t, err)
		b, err := BuildDayPrompts(in)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestSummarizeFallbacks(t *testing.T) {
	s := Summarize(patient.Profile{BirthYear: 1950}, "  ", 2026)
	assert.Equal(t, 76, s.Age)
	assert.Equal(t, "Keine bekannt", s.Allergies)
	assert.Equal(t, "Keine besonderen Hinweise", s.Notes)
	assert.Equal(t, "Keine Absprachen", s.Autonomy)

	s = Summarize(patient.Profile{BirthYear: 1950, Allergies: []string{"Erdnüsse", "Laktose"}}, "", 2026)
	assert.Equal(t, "Erdnüsse, Laktose", s.Allergies)
}
