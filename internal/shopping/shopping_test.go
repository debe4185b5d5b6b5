package shopping

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutrition-planner/internal/database"
	"nutrition-planner/internal/planner"
)

func meal(t planner.MealType, ingredients ...planner.Ingredient) planner.Meal {
	return planner.Meal{MealType: t, Name: string(t), Ingredients: ingredients}
}

func ing(name string, amount float64, unit planner.Unit, category planner.Category) planner.Ingredient {
	return planner.Ingredient{Name: name, Amount: amount, Unit: unit, Category: category}
}

func testPlan() planner.MealPlan {
	return planner.MealPlan{Days: []planner.DayPlan{
		{DayName: "Montag", Meals: []planner.Meal{
			meal(planner.MealTypeBreakfast,
				ing("Haferflocken", 60, planner.UnitGrams, planner.CategoryCarbohydrate),
				ing("Milch", 200, planner.UnitMilliliters, planner.CategoryDairy)),
			meal(planner.MealTypeLunch,
				ing("Äpfel", 1, planner.UnitPiece, planner.CategoryProduce),
				ing("Zucchini", 150.4, planner.UnitGrams, planner.CategoryProduce)),
		}},
		{DayName: "Dienstag", Meals: []planner.Meal{
			meal(planner.MealTypeBreakfast,
				ing("haferflocken", 70, planner.UnitGrams, planner.CategoryCarbohydrate),
				ing("Milch", 1, planner.UnitTablespoon, planner.CategoryDairy)),
			meal(planner.MealTypeSnack,
				ing("Bananen", 1, planner.UnitPiece, planner.CategoryProduce),
				ing("Zimt", 1, planner.UnitTeaspoon, "Gewürze")),
		}},
	}}
}

func TestBuild(t *testing.T) {
	list := Build(testPlan())

	require.Len(t, list.Sections, 4)
	assert.Equal(t, planner.CategoryProduce, list.Sections[0].Category)
	assert.Equal(t, planner.CategoryDairy, list.Sections[1].Category)
	assert.Equal(t, planner.CategoryCarbohydrate, list.Sections[2].Category)
	assert.Equal(t, planner.CategoryOther, list.Sections[3].Category)

	// German collation sorts Ä next to A.
	produce := list.Sections[0].Items
	require.Len(t, produce, 3)
	assert.Equal(t, "Äpfel", produce[0].Name)
	assert.Equal(t, "Bananen", produce[1].Name)
	assert.Equal(t, Item{Name: "Zucchini", Amount: 150, Unit: planner.UnitGrams, Category: planner.CategoryProduce}, produce[2])

	// Same name, different unit stays separate.
	assert.Len(t, list.Sections[1].Items, 2)

	carbs := list.Sections[2].Items
	require.Len(t, carbs, 1)
	assert.Equal(t, "Haferflocken", carbs[0].Name)
	assert.Equal(t, 130.0, carbs[0].Amount)

	assert.Equal(t, "Zimt", list.Sections[3].Items[0].Name)
	assert.Equal(t, 7, list.Len())
}

func TestBuildEmptyPlan(t *testing.T) {
	list := Build(planner.MealPlan{})
	assert.Empty(t, list.Sections)
	assert.Zero(t, list.Len())
}

func TestRepository(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "shopping.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db.SQL)
	ctx := context.Background()
	list := Build(testPlan())

	require.NoError(t, repo.Save(ctx, "plan-1", list))
	got, err := repo.GetByMealPlanID(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, list, got)

	// Saving again replaces the stored list.
	smaller := List{Sections: list.Sections[:1]}
	require.NoError(t, repo.Save(ctx, "plan-1", smaller))
	got, err = repo.GetByMealPlanID(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, smaller, got)

	require.NoError(t, repo.DeleteByMealPlanID(ctx, "plan-1"))
	_, err = repo.GetByMealPlanID(ctx, "plan-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}
