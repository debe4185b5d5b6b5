package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nutrition-planner/internal/database"
)

// ErrPlanNotFound is returned by PlanRepository.Get for unknown IDs.
var ErrPlanNotFound = errors.New("meal plan not found")

// StoredPlan is a persisted generation result.
type StoredPlan struct {
	ID         string
	PatientID  string
	RunID      string
	Provenance string
	Plan       MealPlan
	CreatedAt  time.Time
}

// PlanRepository is a database-backed repository for meal plans.
type PlanRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(d *sql.DB) *PlanRepository {
	return &PlanRepository{db: d, now: time.Now}
}

// Save inserts a generated plan and returns its ID.
func (r *PlanRepository) Save(ctx context.Context, patientID string, res *Result) (string, error) {
	data, err := json.Marshal(res.Plan)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meal plan: %w", err)
	}

	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO meal_plans (id, patient_id, run_id, num_days, provenance, plan_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, patientID, res.RunID, len(res.Plan.Days), res.Prompt, data, database.FormatTime(r.now()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert meal plan for patient %s: %w", patientID, err)
	}
	return id, nil
}

// Get loads a single plan by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*StoredPlan, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, patient_id, run_id, provenance, plan_data, created_at FROM meal_plans WHERE id = ?`, id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load meal plan %s: %w", id, err)
	}
	return plan, nil
}

// ListRecentByPatient retrieves the N most recent meal plans for a given patient.
func (r *PlanRepository) ListRecentByPatient(ctx context.Context, patientID string, limit int) ([]StoredPlan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, patient_id, run_id, provenance, plan_data, created_at FROM meal_plans
		 WHERE patient_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent meal plans for patient %s: %w", patientID, err)
	}
	defer rows.Close()

	var plans []StoredPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read meal plan row: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

// Delete removes a stored plan.
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM meal_plans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete meal plan %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete meal plan %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*StoredPlan, error) {
	var (
		p         StoredPlan
		data      []byte
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.PatientID, &p.RunID, &p.Provenance, &data, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p.Plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", p.ID, err)
	}
	ts, err := database.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at of plan %s: %w", p.ID, err)
	}
	p.CreatedAt = ts
	return &p, nil
}
