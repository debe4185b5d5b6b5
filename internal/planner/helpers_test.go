package planner

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"nutrition-planner/internal/llm"
	"nutrition-planner/internal/logger"
	"nutrition-planner/internal/patient"
	"nutrition-planner/internal/shared"
)

const sampleRecipe = "Alle Zutaten waschen, schälen und in mundgerechte Stücke schneiden; " +
	"eine beschichtete Pfanne bei mittlerer Hitze vorwärmen und etwas Rapsöl hineingeben; " +
	"die Zutaten darin etwa acht Minuten garen und dabei gelegentlich wenden; " +
	"mit Salz, Pfeffer und frischen Kräutern abschmecken und warm servieren."

var testProfile = patient.Profile{
	ID:            "p-001",
	BirthYear:     1948,
	CurrentWeight: 71,
	TargetWeight:  68,
	Allergies:     []string{"Erdnüsse"},
	AutonomyNotes: "Kocht selbst mit Unterstützung",
}

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func testMeal(t MealType, name string, kcal float64) Meal {
	return Meal{
		MealType:    t,
		Name:        name,
		Description: "Leicht und sättigend",
		Recipe:      sampleRecipe,
		Kcal:        kcal,
		Protein:     25,
		Carbs:       60,
		Fat:         15,
		Ingredients: []Ingredient{
			{Name: "Haferflocken", Amount: 80, Unit: UnitGrams, Category: CategoryCarbohydrate},
			{Name: "Milch", Amount: 200, Unit: UnitMilliliters, Category: CategoryDairy},
		},
	}
}

// sampleDay returns a valid 1900 kcal day whose dish names are unique to label.
func sampleDay(label string) DayPlan {
	return DayPlan{
		DayName: label,
		Meals: []Meal{
			testMeal(MealTypeBreakfast, "Porridge "+label, 500),
			testMeal(MealTypeLunch, "Linseneintopf "+label, 600),
			testMeal(MealTypeDinner, "Gemüsepfanne "+label, 600),
			testMeal(MealTypeSnack, "Joghurt mit Obst "+label, 200),
		},
		DailyKcal: 1900,
	}
}

type dayOption func(*DayPlan)

func withMealName(t MealType, name string) dayOption {
	return func(d *DayPlan) {
		for i := range d.Meals {
			if d.Meals[i].MealType == t {
				d.Meals[i].Name = name
			}
		}
	}
}

func withIngredient(t MealType, name string) dayOption {
	return func(d *DayPlan) {
		for i := range d.Meals {
			if d.Meals[i].MealType == t {
				d.Meals[i].Ingredients = append(d.Meals[i].Ingredients,
					Ingredient{Name: name, Amount: 120, Unit: UnitGrams, Category: CategoryProtein})
			}
		}
	}
}

func withCalories(perMeal, daily float64) dayOption {
	return func(d *DayPlan) {
		for i := range d.Meals {
			d.Meals[i].Kcal = perMeal
		}
		d.DailyKcal = daily
	}
}

func withDayName(name string) dayOption {
	return func(d *DayPlan) { d.DayName = name }
}

func dayJSON(label string, opts ...dayOption) string {
	day := sampleDay(label)
	for _, opt := range opts {
		opt(&day)
	}
	b, err := json.Marshal(day)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// reply is one scripted model answer.
type reply struct {
	content string
	finish  llm.FinishReason
	err     error
	// hang blocks until the call's context is done.
	hang bool
}

var requestedDayPattern = regexp.MustCompile(`Erstelle den Plan für ([^\n]+)\.`)

// fakeGenerator answers per requested day from a queue, then from fallback.
type fakeGenerator struct {
	mu       sync.Mutex
	queues   map[string][]reply
	fallback func(day string) reply
	requests map[string][]llm.Request
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		queues:   make(map[string][]reply),
		requests: make(map[string][]llm.Request),
		fallback: func(day string) reply { return reply{content: dayJSON(day)} },
	}
}

func (f *fakeGenerator) script(day string, replies ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[day] = append(f.queues[day], replies...)
}

func (f *fakeGenerator) requestsFor(day string) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests[day]...)
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, req llm.Request) (llm.ContentResponse, error) {
	day := ""
	if m := requestedDayPattern.FindStringSubmatch(req.User); m != nil {
		day = m[1]
	}

	f.mu.Lock()
	f.requests[day] = append(f.requests[day], req)
	var r reply
	if q := f.queues[day]; len(q) > 0 {
		r, f.queues[day] = q[0], q[1:]
	} else {
		r = f.fallback(day)
	}
	f.mu.Unlock()

	if r.hang {
		<-ctx.Done()
		return llm.ContentResponse{}, ctx.Err()
	}
	if r.err != nil {
		return llm.ContentResponse{}, r.err
	}
	finish := r.finish
	if finish == "" {
		finish = llm.FinishStop
	}
	return llm.ContentResponse{
		Content:      r.content,
		FinishReason: finish,
		Usage:        shared.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, Model: "fake"},
	}, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []shared.AttemptRecord
	plans    []shared.PlanRecord
}

func (r *fakeRecorder) RecordAttempt(_ context.Context, rec shared.AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, rec)
	return nil
}

func (r *fakeRecorder) RecordPlan(_ context.Context, rec shared.PlanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, rec)
	return nil
}

type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (l *progressLog) record(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, p)
}

func (l *progressLog) count(stage Stage) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

func newTestPlanner(gen llm.TextGenerator, opts ...Option) *Planner {
	base := []Option{
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return testNow }),
	}
	return NewPlanner(gen, append(base, opts...)...)
}

// pacedGenerator delays calls per day and tracks how many run at once.
type pacedGenerator struct {
	*fakeGenerator
	delays       map[string]time.Duration
	defaultDelay time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (g *pacedGenerator) GenerateContent(ctx context.Context, req llm.Request) (llm.ContentResponse, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	delay := g.defaultDelay
	if m := requestedDayPattern.FindStringSubmatch(req.User); m != nil {
		if d, ok := g.delays[m[1]]; ok {
			delay = d
		}
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return llm.ContentResponse{}, ctx.Err()
	}
	return g.fakeGenerator.GenerateContent(ctx, req)
}

func (g *pacedGenerator) peakInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}
