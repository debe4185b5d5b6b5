package shopping

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"nutrition-planner/internal/planner"
)

// CategoryOrder is the display order of shopping list sections.
var CategoryOrder = []planner.Category{
	planner.CategoryProduce,
	planner.CategoryProtein,
	planner.CategoryDairy,
	planner.CategoryCarbohydrate,
	planner.CategoryOther,
}

// Item is one aggregated ingredient.
type Item struct {
	Name     string           `json:"name"`
	Amount   float64          `json:"amount"`
	Unit     planner.Unit     `json:"unit"`
	Category planner.Category `json:"category"`
}

// Section groups the items of one category.
type Section struct {
	Category planner.Category `json:"category"`
	Items    []Item           `json:"items"`
}

// List represents a shopping list for a meal plan.
type List struct {
	Sections []Section `json:"sections"`
}

// Len returns the number of items across all sections.
func (l List) Len() int {
	n := 0
	for _, s := range l.Sections {
		n += len(s.Items)
	}
	return n
}

// Build aggregates the ingredients of every meal in the plan. Amounts of the same
// ingredient (case-insensitive name, same unit) are added up and rounded; items
// are grouped by category in CategoryOrder and sorted by German collation. Empty
// sections are omitted.
func Build(plan planner.MealPlan) List {
	type key struct {
		name string
		unit planner.Unit
	}
	items := make(map[key]*Item)
	var order []key

	for _, day := range plan.Days {
		for _, meal := range day.Meals {
			for _, ing := range meal.Ingredients {
				name := strings.TrimSpace(ing.Name)
				k := key{name: strings.ToLower(name), unit: ing.Unit}
				if it, ok := items[k]; ok {
					it.Amount += ing.Amount
					continue
				}
				category := ing.Category
				if !category.Valid() {
					category = planner.CategoryOther
				}
				items[k] = &Item{Name: name, Amount: ing.Amount, Unit: ing.Unit, Category: category}
				order = append(order, k)
			}
		}
	}

	byCategory := make(map[planner.Category][]Item)
	for _, k := range order {
		it := *items[k]
		it.Amount = math.Round(it.Amount)
		byCategory[it.Category] = append(byCategory[it.Category], it)
	}

	col := collate.New(language.German, collate.IgnoreCase)
	var list List
	for _, c := range CategoryOrder {
		section := byCategory[c]
		if len(section) == 0 {
			continue
		}
		sort.SliceStable(section, func(i, j int) bool {
			return col.CompareString(section[i].Name, section[j].Name) < 0
		})
		list.Sections = append(list.Sections, Section{Category: c, Items: section})
	}
	return list
}
