package planner

import "sort"

// VarietyPolicy limits how many days may share the same dish for a meal type.
type VarietyPolicy struct {
	// DefaultAllowance is the number of days a dish may appear on for most meal types.
	DefaultAllowance int
	// Allowances overrides the default per meal type.
	Allowances map[MealType]int
}

// DefaultVarietyPolicy lets snacks appear on two days and everything else on one.
func DefaultVarietyPolicy() VarietyPolicy {
	return VarietyPolicy{
		DefaultAllowance: 1,
		Allowances:       map[MealType]int{MealTypeSnack: 2},
	}
}

func (v VarietyPolicy) allowance(t MealType) int {
	if n, ok := v.Allowances[t]; ok && n > 0 {
		return n
	}
	if v.DefaultAllowance > 0 {
		return v.DefaultAllowance
	}
	return 1
}

type dishKey struct {
	mealType MealType
	name     string
}

// findVarietyIssues returns, in ascending order, the indexes of days that reuse a
// dish beyond the allowance. The earliest days keep the dish; later ones are flagged.
func findVarietyIssues(days []DayPlan, policy VarietyPolicy) []int {
	usage := make(map[dishKey][]int)
	var order []dishKey
	for i, day := range days {
		for _, meal := range day.Meals {
			key := dishKey{mealType: meal.MealType, name: normalizeMealName(meal.Name)}
			if _, ok := usage[key]; !ok {
				order = append(order, key)
			}
			usage[key] = append(usage[key], i)
		}
	}

	flagged := make(map[int]bool)
	for _, key := range order {
		indexes := usage[key]
		allowed := policy.allowance(key.mealType)
		for _, idx := range indexes[min(allowed, len(indexes)):] {
			flagged[idx] = true
		}
	}

	out := make([]int, 0, len(flagged))
	for idx := range flagged {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// excludedMealNames collects the meal names of every day except skip, first occurrence first.
func excludedMealNames(days []DayPlan, skip int) []string {
	seen := make(map[string]bool)
	var names []string
	for i, day := range days {
		if i == skip {
			continue
		}
		for _, meal := range day.Meals {
			if !seen[meal.Name] {
				seen[meal.Name] = true
				names = append(names, meal.Name)
			}
		}
	}
	return names
}
