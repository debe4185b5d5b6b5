package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutrition-planner/internal/llm"
	"nutrition-planner/internal/patient"
	"nutrition-planner/internal/shared"
)

const (
	hintParse  = "Die letzte Antwort war kein valides JSON. Antworte ausschließlich mit einem gültigen JSON-Objekt ohne Zusatztext."
	hintSchema = "Die letzte Antwort hatte ein ungültiges Format. Nutze exakt die geforderten Felder und Datentypen."
	hintMeat   = "Die letzte Antwort enthielt Fleisch oder Wurst. Erstelle eine strikt fleischfreie Variante (vegetarisch), bei gleicher Kalorienvorgabe."
)

// attemptStep is one rung of the escalation ladder.
type attemptStep struct {
	Mode      PromptMode
	MaxTokens int
}

var (
	fastAttempts = []attemptStep{
		{Mode: ModeCompact, MaxTokens: 1400},
		{Mode: ModeUltra, MaxTokens: 1600},
	}
	stableAttempts = []attemptStep{
		{Mode: ModeNormal, MaxTokens: 1600},
		{Mode: ModeCompact, MaxTokens: 2000},
		{Mode: ModeUltra, MaxTokens: 2400},
	}
)

func attemptMatrix(fast bool) []attemptStep {
	if fast {
		return fastAttempts
	}
	return stableAttempts
}

// dayJob is everything needed to generate one day.
type dayJob struct {
	runID    string
	profile  patient.Profile
	notes    string
	day      string
	fast     bool
	noMeat   bool
	excluded []string
	timeout  time.Duration
	tally    *usageTally
}

// generateDay walks the attempt matrix until one attempt yields an acceptable day.
// Each rejection becomes the correction hint of the next attempt. Exhaustion returns
// a *DayError carrying the last defect; cancellation of ctx is returned unchanged.
func (p *Planner) generateDay(ctx context.Context, job dayJob) (DayPlan, error) {
	logger := p.logger.With("run_id", job.runID, "day", job.day)

	var (
		last    *AttemptError
		hint    string
		attempt int
	)
	for _, step := range attemptMatrix(job.fast) {
		for retry := 0; retry < p.settings.RetriesPerStep; retry++ {
			if err := ctx.Err(); err != nil {
				return DayPlan{}, err
			}
			attempt++

			day, err := p.attemptDay(ctx, job, step, attempt, hint)
			if err == nil {
				logger.Info("Day generated", "mode", step.Mode, "attempt", attempt, "kcal", day.DailyKcal)
				return day, nil
			}

			var ae *AttemptError
			if !errors.As(err, &ae) {
				return DayPlan{}, err
			}
			logger.Warn("Day attempt rejected",
				"mode", step.Mode,
				"attempt", attempt,
				"kind", ae.Kind,
				"detail", ae.Detail,
			)
			last = ae
			hint = ae.Hint
		}
	}
	return DayPlan{}, &DayError{Day: job.day, Last: last}
}

// attemptDay performs a single prompt, call and validation round.
func (p *Planner) attemptDay(ctx context.Context, job dayJob, step attemptStep, attempt int, hint string) (day DayPlan, err error) {
	prompts, err := BuildDayPrompts(PromptInput{
		Profile:           job.profile,
		DayName:           job.day,
		Notes:             job.notes,
		Mode:              step.Mode,
		ExcludedMealNames: job.excluded,
		CorrectionHint:    hint,
		MinDailyKcal:      p.settings.MinDailyKcal,
		Year:              p.now().Year(),
	})
	if err != nil {
		return DayPlan{}, err
	}

	start := time.Now()
	resp, err := invoke(ctx, p.textGen, llm.Request{
		System:      prompts.System,
		User:        prompts.User,
		MaxTokens:   step.MaxTokens,
		Temperature: p.settings.Temperature,
	}, job.timeout)
	latency := time.Since(start)

	defer func() {
		outcome := "success"
		var ae *AttemptError
		switch {
		case errors.As(err, &ae):
			ae.Day = job.day
			outcome = string(ae.Kind)
		case err != nil:
			outcome = "aborted"
		}
		p.record(ctx, job, shared.AttemptRecord{
			RunID:   job.runID,
			Day:     job.day,
			Mode:    string(step.Mode),
			Attempt: attempt,
			Outcome: outcome,
			Meta: shared.AgentMeta{
				AgentName: "day_generator",
				Usage:     resp.Usage,
				Latency:   latency,
			},
		})
	}()

	if err != nil {
		return DayPlan{}, err
	}
	return p.checkDay(resp.Content, job)
}

// checkDay parses the response and applies the day-level domain rules.
func (p *Planner) checkDay(content string, job dayJob) (DayPlan, error) {
	day, err := ParseDayPlan(content)
	if err != nil {
		if isSchemaError(err) {
			return DayPlan{}, &AttemptError{Kind: FailureSchemaInvalid, Detail: err.Error(), Hint: hintSchema, Err: err}
		}
		return DayPlan{}, &AttemptError{Kind: FailureParse, Detail: err.Error(), Hint: hintParse, Err: err}
	}

	if day.DayName != job.day {
		return DayPlan{}, &AttemptError{
			Kind:   FailureDayLabelMismatch,
			Detail: fmt.Sprintf("got dayName %q", day.DayName),
			Hint:   fmt.Sprintf("Verwende exakt den Wochentag \"%s\" in dayName.", job.day),
		}
	}

	day.DailyKcal = day.EffectiveKcal()
	if day.DailyKcal < p.settings.MinDailyKcal {
		return DayPlan{}, &AttemptError{
			Kind:   FailureCalorieFloor,
			Detail: fmt.Sprintf("%.0f kcal below %.0f", day.DailyKcal, p.settings.MinDailyKcal),
			Hint: fmt.Sprintf("Die letzte Antwort hatte %.0f kcal und war zu niedrig. Erhöhe auf mindestens %.0f kcal "+
				"durch größere Portionen und energiedichte, ausgewogene Zutaten (z.B. Nüsse, Hülsenfrüchte, Vollkorn, gesunde Öle).",
				day.DailyKcal, p.settings.MinDailyKcal),
		}
	}

	if job.noMeat && containsMeat(day) {
		return DayPlan{}, &AttemptError{
			Kind:   FailureDietaryRestriction,
			Detail: "meat keyword found in a meat-free plan",
			Hint:   hintMeat,
		}
	}
	return day, nil
}
