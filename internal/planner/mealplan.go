package planner

import (
	"math"
	"strings"
)

// MealType is the slot a meal fills within a day.
type MealType string

const (
	MealTypeBreakfast MealType = "Frühstück"
	MealTypeLunch     MealType = "Mittagessen"
	MealTypeDinner    MealType = "Abendessen"
	MealTypeSnack     MealType = "Snack"
)

// RequiredMealTypes lists the meal types every day must contain exactly once, in display order.
var RequiredMealTypes = []MealType{MealTypeBreakfast, MealTypeLunch, MealTypeDinner, MealTypeSnack}

// Valid reports whether m is one of the known meal types.
func (m MealType) Valid() bool {
	switch m {
	case MealTypeBreakfast, MealTypeLunch, MealTypeDinner, MealTypeSnack:
		return true
	}
	return false
}

// Unit is the measuring unit of an ingredient amount.
type Unit string

const (
	UnitGrams       Unit = "g"
	UnitMilliliters Unit = "ml"
	UnitPiece       Unit = "Stück"
	UnitTablespoon  Unit = "EL"
	UnitTeaspoon    Unit = "TL"
)

// Valid reports whether u is one of the known units.
func (u Unit) Valid() bool {
	switch u {
	case UnitGrams, UnitMilliliters, UnitPiece, UnitTablespoon, UnitTeaspoon:
		return true
	}
	return false
}

// Category groups ingredients for shopping lists.
type Category string

const (
	CategoryProduce      Category = "Gemüse & Obst"
	CategoryProtein      Category = "Protein"
	CategoryDairy        Category = "Milchprodukte"
	CategoryCarbohydrate Category = "Kohlenhydrate"
	CategoryOther        Category = "Sonstiges"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryProduce, CategoryProtein, CategoryDairy, CategoryCarbohydrate, CategoryOther:
		return true
	}
	return false
}

// Recipe text bounds in characters.
const (
	MinRecipeLength = 140
	MaxRecipeLength = 1200
)

// Ingredient is a single measured item of a meal.
type Ingredient struct {
	Name     string   `json:"name" validate:"required"`
	Amount   float64  `json:"amount" validate:"gte=0"`
	Unit     Unit     `json:"unit" validate:"unit"`
	Category Category `json:"category" validate:"ingredient_category"`
}

// Meal is one dish of a day.
type Meal struct {
	MealType    MealType     `json:"mealType" validate:"meal_type"`
	Name        string       `json:"name" validate:"required"`
	Description string       `json:"description"`
	Recipe      string       `json:"recipe" validate:"min=140,max=1200"`
	Kcal        float64      `json:"kcal" validate:"gte=0"`
	Protein     float64      `json:"protein" validate:"gte=0"`
	Carbs       float64      `json:"carbs" validate:"gte=0"`
	Fat         float64      `json:"fat" validate:"gte=0"`
	Ingredients []Ingredient `json:"ingredients" validate:"min=1,dive"`
}

// RecipeSteps splits the recipe text into its ordered steps.
func (m Meal) RecipeSteps() []string {
	var steps []string
	for _, part := range strings.Split(m.Recipe, ";") {
		if s := strings.TrimSpace(part); s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

// DayPlan is the validated plan for a single day.
type DayPlan struct {
	DayName   string  `json:"dayName" validate:"required"`
	Meals     []Meal  `json:"meals" validate:"len=4,dive"`
	DailyKcal float64 `json:"dailyKcal" validate:"gte=0"`
}

// MealKcalSum adds up the calories of all meals.
func (d DayPlan) MealKcalSum() float64 {
	var sum float64
	for _, m := range d.Meals {
		sum += m.Kcal
	}
	return sum
}

// EffectiveKcal is the larger of the declared total and the meal sum, rounded.
func (d DayPlan) EffectiveKcal() float64 {
	return math.Round(math.Max(d.DailyKcal, d.MealKcalSum()))
}

// Meal returns the meal of the given type, if present.
func (d DayPlan) Meal(t MealType) (Meal, bool) {
	for _, m := range d.Meals {
		if m.MealType == t {
			return m, true
		}
	}
	return Meal{}, false
}

// MealPlan is an ordered sequence of day plans.
type MealPlan struct {
	Days []DayPlan `json:"days" validate:"min=1,max=14,dive"`
}

// Result is the outcome of a successful generation run.
type Result struct {
	Plan MealPlan `json:"plan"`
	// Prompt is a short provenance string describing the generation parameters.
	Prompt string `json:"prompt"`
	RunID  string `json:"runId"`
}
