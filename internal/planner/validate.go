package planner

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enums := map[string]func(string) bool{
		"meal_type":           func(s string) bool { return MealType(s).Valid() },
		"unit":                func(s string) bool { return Unit(s).Valid() },
		"ingredient_category": func(s string) bool { return Category(s).Valid() },
	}
	for tag, valid := range enums {
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("register %s validation: %v", tag, err))
		}
	}
	return v
}

// describeValidation flattens validator errors into a single log-friendly line.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// checkMealTypes requires exactly one meal of each required type.
func checkMealTypes(meals []Meal) error {
	seen := make(map[MealType]int, len(RequiredMealTypes))
	for _, m := range meals {
		seen[m.MealType]++
	}
	for _, t := range RequiredMealTypes {
		if seen[t] != 1 {
			return fmt.Errorf("expected exactly one %s meal, got %d", t, seen[t])
		}
	}
	return nil
}

// validatePlan is the final check over an assembled plan before it is returned.
func validatePlan(plan MealPlan, labels []string, minDailyKcal float64) error {
	if err := validate.Struct(plan); err != nil {
		return errors.New(describeValidation(err))
	}
	if len(plan.Days) != len(labels) {
		return fmt.Errorf("expected %d days, got %d", len(labels), len(plan.Days))
	}
	seen := make(map[string]bool, len(plan.Days))
	for i, day := range plan.Days {
		if day.DayName != labels[i] {
			return fmt.Errorf("day %d is labelled %q, expected %q", i+1, day.DayName, labels[i])
		}
		if seen[day.DayName] {
			return fmt.Errorf("duplicate day label %q", day.DayName)
		}
		seen[day.DayName] = true
		if err := checkMealTypes(day.Meals); err != nil {
			return fmt.Errorf("%s: %w", day.DayName, err)
		}
		if kcal := day.EffectiveKcal(); kcal < minDailyKcal {
			return fmt.Errorf("%s: %.0f kcal below floor %.0f", day.DayName, kcal, minDailyKcal)
		}
	}
	return nil
}
