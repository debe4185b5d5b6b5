package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nutrition-planner/internal/config"
	"nutrition-planner/internal/database"
	"nutrition-planner/internal/llm"
	"nutrition-planner/internal/metrics"
	"nutrition-planner/internal/patient"
	"nutrition-planner/internal/planner"
	"nutrition-planner/internal/shopping"
)

// App holds the application's dependencies.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	patients patient.Provider
	store    *metrics.Store
	plans    *planner.PlanRepository
	lists    *shopping.Repository
	planner  *planner.Planner
	started  time.Time
	closers  []io.Closer
}

// PlannerSettings converts the environment configuration into planner settings.
func PlannerSettings(cfg *config.Config) planner.Settings {
	s := planner.DefaultSettings()
	s.DayTimeout = cfg.DayRequestTimeout
	s.FastDayTimeout = cfg.FastDayRequestTimeout
	s.FallbackTimeout = cfg.DayFallbackTimeout
	s.MaxParallelDays = cfg.MaxParallelDays
	s.MinDailyKcal = cfg.MinDailyKcal
	if cfg.SnackRepeatAllowance > 0 {
		s.Variety = planner.VarietyPolicy{
			DefaultAllowance: 1,
			Allowances:       map[planner.MealType]int{planner.MealTypeSnack: cfg.SnackRepeatAllowance},
		}
	}
	return s
}

// New wires the database, the model backend, the patient provider, metrics and the planner.
// Prometheus collectors are registered on reg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	patients, err := patient.NewFileProvider(cfg.PatientsFile)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	client, err := llm.New(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.LLMProvider, err)
	}

	a := newApp(cfg, logger, db, client, patients, reg)
	a.closers = append(a.closers, client)
	return a, nil
}

func newApp(cfg *config.Config, logger *slog.Logger, db *database.DB, textGen llm.TextGenerator, patients patient.Provider, reg prometheus.Registerer) *App {
	store := metrics.NewStore(db.SQL)
	recorder := metrics.Multi{store, metrics.NewCollector(reg)}

	return &App{
		cfg:      cfg,
		logger:   logger,
		patients: patients,
		store:    store,
		plans:    planner.NewPlanRepository(db.SQL),
		lists:    shopping.NewRepository(db.SQL),
		planner: planner.NewPlanner(textGen,
			planner.WithLogger(logger),
			planner.WithRecorder(recorder),
			planner.WithSettings(PlannerSettings(cfg)),
		),
		started: time.Now(),
		closers: []io.Closer{db},
	}
}

// Close releases the model client and the database, in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GenerateRequest describes one plan generation for a patient.
type GenerateRequest struct {
	PatientID string
	Days      int
	Fast      bool
	Notes     string
	Timeout   time.Duration
	// Save persists the plan in the meal_plans table.
	Save       bool
	OnProgress planner.ProgressFunc
}

// Generated is a successful generation, with the stored plan ID when it was saved.
type Generated struct {
	*planner.Result
	ShoppingList shopping.List
	PlanID       string
}

// GeneratePlan loads the patient profile, runs the planner and optionally saves the result.
// A failed save is logged and does not discard the plan.
func (a *App) GeneratePlan(ctx context.Context, req GenerateRequest) (*Generated, error) {
	profile, err := a.patients.Get(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	res, err := a.planner.GenerateMealPlan(ctx, profile, req.Notes, planner.Request{
		NumDays:        req.Days,
		FastMode:       req.Fast,
		RequestTimeout: req.Timeout,
		OnProgress:     req.OnProgress,
	})
	if err != nil {
		return nil, err
	}

	out := &Generated{Result: res, ShoppingList: shopping.Build(res.Plan)}
	if !req.Save {
		return out, nil
	}
	id, err := a.plans.Save(ctx, req.PatientID, res)
	if err != nil {
		a.logger.Warn("Failed to save meal plan", "patient_id", req.PatientID, "run_id", res.RunID, "error", err)
		return out, nil
	}
	out.PlanID = id
	if err := a.lists.Save(ctx, id, out.ShoppingList); err != nil {
		a.logger.Warn("Failed to save shopping list", "plan_id", id, "error", err)
	}
	a.logger.Info("Meal plan saved", "patient_id", req.PatientID, "plan_id", id, "run_id", res.RunID,
		"shopping_items", out.ShoppingList.Len())
	return out, nil
}

// ShoppingList returns the stored shopping list of a saved plan.
func (a *App) ShoppingList(ctx context.Context, planID string) (shopping.List, error) {
	return a.lists.GetByMealPlanID(ctx, planID)
}

// DeletePlan removes a stored plan together with its shopping list.
func (a *App) DeletePlan(ctx context.Context, planID string) error {
	if err := a.lists.DeleteByMealPlanID(ctx, planID); err != nil {
		return err
	}
	if err := a.plans.Delete(ctx, planID); err != nil {
		return err
	}
	a.logger.Info("Meal plan deleted", "plan_id", planID)
	return nil
}

// Patients lists the known patient profiles.
func (a *App) Patients(ctx context.Context) ([]patient.Profile, error) {
	return a.patients.List(ctx)
}

// RecentPlans returns the latest stored plans of a patient.
func (a *App) RecentPlans(ctx context.Context, patientID string, limit int) ([]planner.StoredPlan, error) {
	return a.plans.ListRecentByPatient(ctx, patientID, limit)
}

// Usage summarises model calls of the last N days.
func (a *App) Usage(ctx context.Context, days int) ([]metrics.DailyUsage, []metrics.OutcomeCount, error) {
	usage, err := a.store.GetDailyUsage(ctx, days)
	if err != nil {
		return nil, nil, err
	}
	outcomes, err := a.store.GetPlanOutcomes(ctx, days)
	if err != nil {
		return nil, nil, err
	}
	return usage, outcomes, nil
}

// CleanupMetrics deletes execution metrics older than the given number of days.
func (a *App) CleanupMetrics(ctx context.Context, olderThanDays int) (int64, error) {
	removed, err := a.store.Cleanup(ctx, olderThanDays)
	if err != nil {
		return 0, err
	}
	a.logger.Info("Execution metrics cleaned up", "older_than_days", olderThanDays, "removed", removed)
	return removed, nil
}

// Health reports process and data directory health.
func (a *App) Health() metrics.SysHealth {
	return metrics.GetSysHealth(filepath.Dir(a.cfg.DatabasePath), a.started)
}
