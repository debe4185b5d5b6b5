package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nutrition-planner/internal/llm"
	"nutrition-planner/internal/patient"
	"nutrition-planner/internal/shared"
)

// Settings tunes the generation pipeline.
type Settings struct {
	// DayTimeout bounds one model call in stable mode.
	DayTimeout time.Duration
	// FastDayTimeout bounds one model call in fast mode.
	FastDayTimeout time.Duration
	// FallbackTimeout bounds one model call while retrying days that failed the parallel pass.
	FallbackTimeout time.Duration
	MaxParallelDays int
	RetriesPerStep  int
	MinDailyKcal    float64
	Temperature     float32
	Variety         VarietyPolicy
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		DayTimeout:      25 * time.Second,
		FastDayTimeout:  18 * time.Second,
		FallbackTimeout: 45 * time.Second,
		MaxParallelDays: 3,
		RetriesPerStep:  2,
		MinDailyKcal:    1800,
		Temperature:     0.2,
		Variety:         DefaultVarietyPolicy(),
	}
}

// Recorder receives execution metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordAttempt(ctx context.Context, rec shared.AttemptRecord) error
	RecordPlan(ctx context.Context, rec shared.PlanRecord) error
}

// Request holds the per-call generation options.
type Request struct {
	// NumDays is clamped to 1..14; zero means a week.
	NumDays  int
	FastMode bool
	// RequestTimeout overrides the first-pass per-call timeout when positive.
	RequestTimeout time.Duration
	OnProgress     ProgressFunc
}

// Planner generates multi-day meal plans one day per model call.
type Planner struct {
	textGen  llm.TextGenerator
	logger   *slog.Logger
	recorder Recorder
	settings Settings
	now      func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Planner) { p.recorder = r }
}

// WithSettings replaces the default settings. Non-positive values keep their defaults.
func WithSettings(s Settings) Option {
	return func(p *Planner) { p.settings = mergeSettings(p.settings, s) }
}

// WithClock sets the clock used to derive the patient's age.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// NewPlanner creates a new Planner instance.
func NewPlanner(textGen llm.TextGenerator, opts ...Option) *Planner {
	p := &Planner{
		textGen:  textGen,
		logger:   slog.Default(),
		settings: DefaultSettings(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func mergeSettings(base, s Settings) Settings {
	if s.DayTimeout > 0 {
		base.DayTimeout = s.DayTimeout
	}
	if s.FastDayTimeout > 0 {
		base.FastDayTimeout = s.FastDayTimeout
	}
	if s.FallbackTimeout > 0 {
		base.FallbackTimeout = s.FallbackTimeout
	}
	if s.MaxParallelDays > 0 {
		base.MaxParallelDays = s.MaxParallelDays
	}
	if s.RetriesPerStep > 0 {
		base.RetriesPerStep = s.RetriesPerStep
	}
	if s.MinDailyKcal > 0 {
		base.MinDailyKcal = s.MinDailyKcal
	}
	if s.Temperature > 0 {
		base.Temperature = s.Temperature
	}
	if s.Variety.DefaultAllowance > 0 || len(s.Variety.Allowances) > 0 {
		base.Variety = s.Variety
	}
	return base
}

// usageTally sums token usage across the concurrent day generators of one run.
type usageTally struct {
	mu    sync.Mutex
	usage shared.TokenUsage
}

func (t *usageTally) add(u shared.TokenUsage) {
	t.mu.Lock()
	t.usage = t.usage.Add(u)
	t.mu.Unlock()
}

func (t *usageTally) total() shared.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// run carries the state of one GenerateMealPlan call.
type run struct {
	id       string
	profile  patient.Profile
	notes    string
	noMeat   bool
	labels   []string
	fast     bool
	timeout  time.Duration
	started  time.Time
	logger   *slog.Logger
	progress *progressReporter
	tally    *usageTally
}

func (r *run) job(index int, fast bool, timeout time.Duration, excluded []string) dayJob {
	return dayJob{
		runID:    r.id,
		profile:  r.profile,
		notes:    r.notes,
		day:      r.labels[index],
		fast:     fast,
		noMeat:   r.noMeat,
		excluded: excluded,
		timeout:  timeout,
		tally:    r.tally,
	}
}

func (r *run) mode() string {
	if r.fast {
		return "schnell"
	}
	return "stabil"
}

// GenerateMealPlan builds a validated plan for the profile. Days are generated in
// parallel, failed days are retried one by one with a longer timeout, and in stable
// mode repeated dishes are regenerated. Failures are *GenerationError values; a
// partial plan is never returned.
func (p *Planner) GenerateMealPlan(ctx context.Context, profile patient.Profile, notes string, req Request) (*Result, error) {
	numDays := ClampDays(req.NumDays)
	r := &run{
		id:      uuid.NewString(),
		profile: profile,
		notes:   notes,
		noMeat:  requestsNoMeat(notes),
		labels:  DayLabels(numDays),
		fast:    req.FastMode,
		timeout: req.RequestTimeout,
		started: time.Now(),
		tally:   &usageTally{},
	}
	if r.timeout <= 0 {
		r.timeout = p.settings.DayTimeout
		if r.fast {
			r.timeout = p.settings.FastDayTimeout
		}
	}
	r.logger = p.logger.With("run_id", r.id, "patient_id", profile.ID)
	r.progress = newProgressReporter(req.OnProgress, numDays, r.logger)

	r.logger.Info("Starting meal plan generation",
		"days", numDays,
		"fast", r.fast,
		"timeout", r.timeout,
		"no_meat", r.noMeat,
	)

	days, err := p.generateDays(ctx, r)
	if err != nil {
		return nil, p.fail(ctx, r, err)
	}

	if !r.fast {
		if err := p.repairVariety(ctx, r, days); err != nil {
			return nil, p.fail(ctx, r, err)
		}
	}

	plan := MealPlan{Days: days}
	if err := validatePlan(plan, r.labels, p.settings.MinDailyKcal); err != nil {
		return nil, p.fail(ctx, r, &GenerationError{
			Code:    CodePlanSchemaInvalid,
			Message: "Der zusammengesetzte Ernährungsplan ist ungültig.",
			Err:     err,
		})
	}

	summary := Summarize(profile, notes, p.now().Year())
	result := &Result{
		Plan:  plan,
		RunID: r.id,
		Prompt: fmt.Sprintf("Parallele Taggenerierung | Alter: %d | Allergien: %s | Hinweise: %s | Absprachen: %s | Tage: %d | Modus: %s | Lauf: %s",
			summary.Age, summary.Allergies, summary.Notes, summary.Autonomy, numDays, r.mode(), r.id),
	}

	usage := r.tally.total()
	r.logger.Info("Meal plan generated",
		"days", numDays,
		"total_tokens", usage.TotalTokens,
		"duration", time.Since(r.started),
	)
	p.recordPlan(ctx, r, "success")
	return result, nil
}

// generateDays runs the parallel first pass and the sequential fallback pass.
func (p *Planner) generateDays(ctx context.Context, r *run) ([]DayPlan, error) {
	numDays := len(r.labels)
	r.progress.report(StageStarted, fmt.Sprintf("Starte parallele Tagesgenerierung (0/%d)...", numDays))

	// Each worker writes only its own index.
	slots := make([]*DayPlan, numDays)
	dayErrs := make([]error, numDays)

	var g errgroup.Group
	g.SetLimit(p.settings.MaxParallelDays)
	for i := range r.labels {
		g.Go(func() error {
			day, err := p.generateDay(ctx, r.job(i, r.fast, r.timeout, nil))
			if err != nil {
				dayErrs[i] = err
				return nil
			}
			slots[i] = &day
			r.progress.dayCompleted(r.labels[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failed []int
	for i, slot := range slots {
		if slot == nil {
			failed = append(failed, i)
		}
	}

	if len(failed) > 0 {
		r.logger.Warn("Retrying failed days sequentially", "failed", len(failed), "timeout", p.settings.FallbackTimeout)
		r.progress.report(StageFallbackStarted, fmt.Sprintf("Wiederhole fehlende Tage (%d) mit erweitertem Timeout...", len(failed)))

		for _, i := range failed {
			day, err := p.generateDay(ctx, r.job(i, false, p.settings.FallbackTimeout, nil))
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				dayErrs[i] = err
				continue
			}
			slots[i] = &day
			dayErrs[i] = nil
			r.progress.dayCompleted(r.labels[i])
		}
	}

	var (
		unresolved []string
		causes     []error
	)
	days := make([]DayPlan, numDays)
	for i, slot := range slots {
		if slot == nil {
			unresolved = append(unresolved, r.labels[i])
			causes = append(causes, dayErrs[i])
			continue
		}
		days[i] = *slot
	}
	if len(unresolved) > 0 {
		return nil, &GenerationError{
			Code:    CodeDayGenerationFailed,
			Message: "Einige Tage konnten nicht generiert werden.",
			Days:    unresolved,
			Err:     errors.Join(causes...),
		}
	}
	return days, nil
}

// repairVariety regenerates days that reuse dishes, one at a time, and re-checks the plan.
func (p *Planner) repairVariety(ctx context.Context, r *run, days []DayPlan) error {
	numDays := len(days)
	r.progress.report(StageVarietyCheck, fmt.Sprintf("Prüfe Varianz der Mahlzeiten (%d/%d)...", numDays, numDays))

	issues := findVarietyIssues(days, p.settings.Variety)
	if len(issues) == 0 {
		return nil
	}

	r.logger.Info("Regenerating days with repeated dishes", "days", len(issues))
	for _, i := range issues {
		day, err := p.generateDay(ctx, r.job(i, false, r.timeout, excludedMealNames(days, i)))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &GenerationError{
				Code:    CodeDayGenerationFailed,
				Message: "Ein Tag konnte für mehr Abwechslung nicht neu erstellt werden.",
				Days:    []string{r.labels[i]},
				Err:     err,
			}
		}
		days[i] = day
	}

	if remaining := findVarietyIssues(days, p.settings.Variety); len(remaining) > 0 {
		flagged := make([]string, 0, len(remaining))
		for _, i := range remaining {
			flagged = append(flagged, r.labels[i])
		}
		return &GenerationError{
			Code:    CodePlanNotVaried,
			Message: "Der Plan ist noch nicht abwechslungsreich genug.",
			Days:    flagged,
		}
	}
	return nil
}

// fail logs and records a terminal error. Context cancellation is passed through untouched.
func (p *Planner) fail(ctx context.Context, r *run, err error) error {
	outcome := "cancelled"
	var ge *GenerationError
	if errors.As(err, &ge) {
		outcome = string(ge.Code)
	}
	r.logger.Error("Meal plan generation failed",
		"code", outcome,
		"error", err,
		"duration", time.Since(r.started),
	)
	p.recordPlan(ctx, r, outcome)
	return err
}

func (p *Planner) record(ctx context.Context, job dayJob, rec shared.AttemptRecord) {
	if job.tally != nil {
		job.tally.add(rec.Meta.Usage)
	}
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordAttempt(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("Failed to record attempt", "run_id", rec.RunID, "error", err)
	}
}

func (p *Planner) recordPlan(ctx context.Context, r *run, outcome string) {
	if p.recorder == nil {
		return
	}
	err := p.recorder.RecordPlan(context.WithoutCancel(ctx), shared.PlanRecord{
		RunID:     r.id,
		PatientID: r.profile.ID,
		Days:      len(r.labels),
		Mode:      r.mode(),
		Outcome:   outcome,
		Usage:     r.tally.total(),
		Duration:  time.Since(r.started),
	})
	if err != nil {
		r.logger.Warn("Failed to record plan", "error", err)
	}
}
