package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nutrition-planner/internal/metrics"
	"nutrition-planner/internal/patient"
	"nutrition-planner/internal/planner"
	"nutrition-planner/internal/shopping"
)

// maxMessageLength is Telegram's limit for a single text message.
const maxMessageLength = 4096

var mealIcons = map[planner.MealType]string{
	planner.MealTypeBreakfast: "🍳",
	planner.MealTypeLunch:     "🍲",
	planner.MealTypeDinner:    "🥗",
	planner.MealTypeSnack:     "🍎",
}

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatProgress(p planner.Progress) string {
	if p.Total == 0 {
		return "⏳ " + p.Message
	}
	return fmt.Sprintf("⏳ %s\n[%d/%d]", p.Message, p.Completed, p.Total)
}

// formatDay renders one day as MarkdownV2, one paragraph per meal.
func formatDay(day planner.DayPlan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 *%s* %s", esc(day.DayName), esc(fmt.Sprintf("(%.0f kcal)", day.EffectiveKcal())))

	for _, t := range planner.RequiredMealTypes {
		meal, ok := day.Meal(t)
		if !ok {
			continue
		}
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "%s *%s*: %s %s\n", mealIcons[t], esc(string(t)), esc(meal.Name),
			esc(fmt.Sprintf("(%.0f kcal, E %.0f g, KH %.0f g, F %.0f g)", meal.Kcal, meal.Protein, meal.Carbs, meal.Fat)))
		if meal.Description != "" {
			fmt.Fprintf(&sb, "_%s_\n", esc(meal.Description))
		}

		items := make([]string, 0, len(meal.Ingredients))
		for _, ing := range meal.Ingredients {
			items = append(items, fmt.Sprintf("%s %s %s", formatNumber(ing.Amount), ing.Unit, ing.Name))
		}
		sb.WriteString(esc("Zutaten: " + strings.Join(items, ", ")))

		for i, step := range meal.RecipeSteps() {
			sb.WriteString("\n")
			sb.WriteString(esc(fmt.Sprintf("%d. %s", i+1, step)))
		}
	}
	return sb.String()
}

// splitMessage cuts text into chunks of at most limit bytes, preferring paragraph
// and line boundaries so formatting entities stay intact.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if current.Len()+len(line) > limit {
			flush()
		}
		for len(line) > limit {
			cut := limit
			for cut > 0 && (!utf8.RuneStart(line[cut]) || line[cut-1] == '\\') {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		current.WriteString(line)
	}
	flush()
	return parts
}

var categoryIcons = map[planner.Category]string{
	planner.CategoryProduce:      "🥦",
	planner.CategoryProtein:      "🥩",
	planner.CategoryDairy:        "🧀",
	planner.CategoryCarbohydrate: "🍞",
	planner.CategoryOther:        "🧂",
}

func formatShoppingList(list shopping.List) string {
	var sb strings.Builder
	sb.WriteString("🛒 Einkaufsliste")
	for _, section := range list.Sections {
		fmt.Fprintf(&sb, "\n\n%s %s", categoryIcons[section.Category], section.Category)
		for _, it := range section.Items {
			fmt.Fprintf(&sb, "\n• %s %s %s", formatNumber(it.Amount), it.Unit, it.Name)
		}
	}
	return sb.String()
}

func formatPatients(profiles []patient.Profile) string {
	if len(profiles) == 0 {
		return "Keine Patienten hinterlegt."
	}
	var sb strings.Builder
	sb.WriteString("👥 Patienten\n")
	for _, p := range profiles {
		allergies := "keine Allergien"
		if len(p.Allergies) > 0 {
			allergies = strings.Join(p.Allergies, ", ")
		}
		fmt.Fprintf(&sb, "\n• %s (Jg. %d, %s → %s kg, %s)", p.ID, p.BirthYear,
			formatNumber(p.CurrentWeight), formatNumber(p.TargetWeight), allergies)
	}
	return sb.String()
}

func formatMetrics(usage []metrics.DailyUsage, outcomes []metrics.OutcomeCount, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 Nutzung & Zustand\n\n🗓 Modellaufrufe (7 Tage)\n")
	if len(usage) == 0 {
		sb.WriteString("Noch keine Daten\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&sb, "• %s: %d Tokens (%d Aufrufe, %d fehlgeschlagen)\n",
			d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution, d.Failures)
	}

	if len(outcomes) > 0 {
		sb.WriteString("\n📋 Pläne\n")
		for _, o := range outcomes {
			fmt.Fprintf(&sb, "• %s: %d\n", o.Outcome, o.Count)
		}
	}

	sb.WriteString("\n🧠 System\n")
	sb.WriteString(health.String())
	return sb.String()
}
