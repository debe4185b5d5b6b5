package planner

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	errNoJSON = errors.New("no JSON object found in response")

	fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")
)

// extractor pulls a JSON candidate out of raw model output.
type extractor struct {
	name    string
	extract func(raw string) (string, bool)
}

// extractors run in order; the first candidate that is valid JSON wins.
var extractors = []extractor{
	{name: "bare", extract: func(raw string) (string, bool) {
		return strings.TrimSpace(raw), true
	}},
	{name: "fenced", extract: func(raw string) (string, bool) {
		m := fencedBlock.FindStringSubmatch(raw)
		if m == nil {
			return "", false
		}
		return m[1], true
	}},
	{name: "braces", extract: func(raw string) (string, bool) {
		first := strings.Index(raw, "{")
		last := strings.LastIndex(raw, "}")
		if first < 0 || last <= first {
			return "", false
		}
		return raw[first : last+1], true
	}},
}

// extractJSON returns the first candidate that parses as JSON.
func extractJSON(raw string) ([]byte, error) {
	for _, e := range extractors {
		candidate, ok := e.extract(raw)
		if !ok || candidate == "" {
			continue
		}
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}
	return nil, errNoJSON
}

// Wire shapes use pointers so that missing fields are told apart from zero values.
type wireIngredient struct {
	Name     *string  `json:"name" validate:"required,min=1"`
	Amount   *float64 `json:"amount" validate:"required,gte=0"`
	Unit     *string  `json:"unit" validate:"required,unit"`
	Category *string  `json:"category" validate:"required,ingredient_category"`
}

type wireMeal struct {
	MealType    *string          `json:"mealType" validate:"required,meal_type"`
	Name        *string          `json:"name" validate:"required,min=1"`
	Description *string          `json:"description" validate:"required"`
	Recipe      *string          `json:"recipe" validate:"required,min=140,max=1200"`
	Kcal        *float64         `json:"kcal" validate:"required,gte=0"`
	Protein     *float64         `json:"protein" validate:"required,gte=0"`
	Carbs       *float64         `json:"carbs" validate:"required,gte=0"`
	Fat         *float64         `json:"fat" validate:"required,gte=0"`
	Ingredients []wireIngredient `json:"ingredients" validate:"min=1,dive"`
}

type wireDay struct {
	DayName   *string    `json:"dayName" validate:"required"`
	Meals     []wireMeal `json:"meals" validate:"len=4,dive"`
	DailyKcal *float64   `json:"dailyKcal" validate:"required,gte=0"`
}

func (w wireDay) toDayPlan() DayPlan {
	day := DayPlan{
		DayName:   *w.DayName,
		DailyKcal: *w.DailyKcal,
		Meals:     make([]Meal, 0, len(w.Meals)),
	}
	for _, wm := range w.Meals {
		meal := Meal{
			MealType:    MealType(*wm.MealType),
			Name:        *wm.Name,
			Description: *wm.Description,
			Recipe:      *wm.Recipe,
			Kcal:        *wm.Kcal,
			Protein:     *wm.Protein,
			Carbs:       *wm.Carbs,
			Fat:         *wm.Fat,
			Ingredients: make([]Ingredient, 0, len(wm.Ingredients)),
		}
		for _, wi := range wm.Ingredients {
			meal.Ingredients = append(meal.Ingredients, Ingredient{
				Name:     *wi.Name,
				Amount:   *wi.Amount,
				Unit:     Unit(*wi.Unit),
				Category: Category(*wi.Category),
			})
		}
		day.Meals = append(day.Meals, meal)
	}
	return day
}

// schemaError marks a structurally valid JSON document that does not match the day schema.
type schemaError struct {
	detail string
}

func (e *schemaError) Error() string {
	return "day plan schema mismatch: " + e.detail
}

// ParseDayPlan extracts and validates a single day plan from raw model output.
// It returns errNoJSON when no JSON could be extracted and a *schemaError when
// the document does not match the schema.
func ParseDayPlan(raw string) (DayPlan, error) {
	doc, err := extractJSON(raw)
	if err != nil {
		return DayPlan{}, err
	}

	var wire wireDay
	if err := json.Unmarshal(doc, &wire); err != nil {
		return DayPlan{}, &schemaError{detail: err.Error()}
	}
	if err := validate.Struct(wire); err != nil {
		return DayPlan{}, &schemaError{detail: describeValidation(err)}
	}

	day := wire.toDayPlan()
	if err := checkMealTypes(day.Meals); err != nil {
		return DayPlan{}, &schemaError{detail: err.Error()}
	}
	return day, nil
}

// isSchemaError reports whether err came from schema validation rather than extraction.
func isSchemaError(err error) bool {
	var se *schemaError
	return errors.As(err, &se)
}
