package planner

import "fmt"

// Supported plan lengths in days.
const (
	MinDays     = 1
	MaxDays     = 14
	DefaultDays = 7
)

var dayNames = [...]string{
	"Montag",
	"Dienstag",
	"Mittwoch",
	"Donnerstag",
	"Freitag",
	"Samstag",
	"Sonntag",
}

// DayLabel returns the label of the day at index, cycle-qualified after the first week.
func DayLabel(index int) string {
	weekday := dayNames[index%len(dayNames)]
	cycle := index/len(dayNames) + 1
	if cycle == 1 {
		return weekday
	}
	return fmt.Sprintf("%s (Woche %d)", weekday, cycle)
}

// DayLabels returns the labels for a plan of n days.
func DayLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = DayLabel(i)
	}
	return labels
}

// ClampDays maps a requested day count into the supported range. Zero means the default week.
func ClampDays(n int) int {
	if n == 0 {
		return DefaultDays
	}
	if n < MinDays {
		return MinDays
	}
	if n > MaxDays {
		return MaxDays
	}
	return n
}
