package shopping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nutrition-planner/internal/database"
)

// ErrNotFound is returned when a plan has no stored shopping list.
var ErrNotFound = errors.New("shopping list not found")

// Repository handles persistence of shopping lists.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new shopping list repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d, now: time.Now}
}

// Save stores the list of a meal plan, replacing any previous one.
func (r *Repository) Save(ctx context.Context, mealPlanID string, list List) error {
	itemsJSON, err := json.Marshal(list.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal shopping list items: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO shopping_lists (meal_plan_id, items, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (meal_plan_id) DO UPDATE SET items = excluded.items, created_at = excluded.created_at`,
		mealPlanID, string(itemsJSON), database.FormatTime(r.now()))
	if err != nil {
		return fmt.Errorf("failed to insert shopping list for plan %s: %w", mealPlanID, err)
	}
	return nil
}

// GetByMealPlanID retrieves the shopping list of a meal plan.
func (r *Repository) GetByMealPlanID(ctx context.Context, mealPlanID string) (List, error) {
	var items string
	err := r.db.QueryRowContext(ctx,
		`SELECT items FROM shopping_lists WHERE meal_plan_id = ?`, mealPlanID).Scan(&items)
	if errors.Is(err, sql.ErrNoRows) {
		return List{}, fmt.Errorf("%w: %s", ErrNotFound, mealPlanID)
	}
	if err != nil {
		return List{}, fmt.Errorf("failed to get shopping list for plan %s: %w", mealPlanID, err)
	}

	var list List
	if err := json.Unmarshal([]byte(items), &list.Sections); err != nil {
		return List{}, fmt.Errorf("failed to unmarshal shopping list items: %w", err)
	}
	return list, nil
}

// DeleteByMealPlanID deletes the shopping list of a meal plan.
func (r *Repository) DeleteByMealPlanID(ctx context.Context, mealPlanID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM shopping_lists WHERE meal_plan_id = ?`, mealPlanID); err != nil {
		return fmt.Errorf("failed to delete shopping list for plan %s: %w", mealPlanID, err)
	}
	return nil
}
