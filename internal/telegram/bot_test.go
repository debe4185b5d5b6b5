package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutrition-planner/internal/app"
	"nutrition-planner/internal/logger"
	"nutrition-planner/internal/metrics"
	"nutrition-planner/internal/patient"
	"nutrition-planner/internal/planner"
	"nutrition-planner/internal/shopping"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) messages() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.sent...)
}

type fakeService struct {
	mu       sync.Mutex
	requests []app.GenerateRequest
	result   *app.Generated
	err      error
}

func (f *fakeService) GeneratePlan(_ context.Context, req app.GenerateRequest) (*app.Generated, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.OnProgress != nil {
		req.OnProgress(planner.Progress{Stage: planner.StageStarted, Message: "Starte", Total: 2})
		req.OnProgress(planner.Progress{Stage: planner.StageDayCompleted, Message: "Tag fertig (1/2): Montag", Completed: 1, Total: 2, Day: "Montag"})
	}
	return f.result, f.err
}

func (f *fakeService) Patients(context.Context) ([]patient.Profile, error) {
	return []patient.Profile{{ID: "p-001", BirthYear: 1950, CurrentWeight: 64.5, TargetWeight: 62, Allergies: []string{"Sellerie"}}}, nil
}

func (f *fakeService) Usage(context.Context, int) ([]metrics.DailyUsage, []metrics.OutcomeCount, error) {
	return []metrics.DailyUsage{{Date: "2026-05-04", TotalPrompt: 900, TotalCompletion: 300, TotalExecution: 3, Failures: 1}},
		[]metrics.OutcomeCount{{Outcome: "success", Count: 2}}, nil
}

func (f *fakeService) Health() metrics.SysHealth {
	return metrics.SysHealth{AllocMB: 12, SysMB: 30, Goroutines: 9, Uptime: time.Minute, DataDiskSize: "1.0 MB"}
}

const recipe = "Kartoffeln schälen und würfeln; in Salzwasser zwanzig Minuten garen; " +
	"Quark mit Kräutern und einer Prise Salz glatt rühren; " +
	"Kartoffeln abgießen und mit dem Kräuterquark servieren."

func testDay(label string) planner.DayPlan {
	meal := func(t planner.MealType, name string, kcal float64) planner.Meal {
		return planner.Meal{
			MealType: t, Name: name, Description: "Mild gewürzt", Recipe: recipe,
			Kcal: kcal, Protein: 20, Carbs: 55, Fat: 10,
			Ingredients: []planner.Ingredient{
				{Name: "Kartoffeln", Amount: 250, Unit: planner.UnitGrams, Category: planner.CategoryCarbohydrate},
				{Name: "Quark", Amount: 0.5, Unit: planner.UnitPiece, Category: planner.CategoryDairy},
			},
		}
	}
	return planner.DayPlan{
		DayName: label,
		Meals: []planner.Meal{
			meal(planner.MealTypeSnack, "Apfel", 100),
			meal(planner.MealTypeBreakfast, "Haferbrei", 500),
			meal(planner.MealTypeLunch, "Pellkartoffeln mit Quark", 700),
			meal(planner.MealTypeDinner, "Gemüsesuppe", 600),
		},
		DailyKcal: 1850,
	}
}

func command(text string) *tgbotapi.Message {
	name := strings.Fields(text)[0]
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func newTestBot(service Service) (*Bot, *fakeSender) {
	sender := &fakeSender{}
	return newBot(sender, service, []int64{42}, logger.Discard()), sender
}

func TestParsePlanCommand(t *testing.T) {
	tests := []struct {
		args string
		want planCommand
		ok   bool
	}{
		{args: "", ok: false},
		{args: "p-001", want: planCommand{patientID: "p-001"}, ok: true},
		{args: "p-001 3", want: planCommand{patientID: "p-001", days: 3}, ok: true},
		{args: "p-001 5 schnell", want: planCommand{patientID: "p-001", days: 5, fast: true}, ok: true},
		{args: "p-001 FAST ohne Fleisch", want: planCommand{patientID: "p-001", fast: true, notes: "ohne Fleisch"}, ok: true},
		{args: "p-001 14 stabil bitte weich", want: planCommand{patientID: "p-001", days: 14, notes: "stabil bitte weich"}, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, ok := parsePlanCommand(tt.args)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatDay(t *testing.T) {
	out := formatDay(testDay("Montag (Woche 2)"))

	assert.True(t, strings.HasPrefix(out, `📅 *Montag \(Woche 2\)* \(1900 kcal\)`), out)
	// Meals follow the fixed display order regardless of model order.
	assert.Less(t, strings.Index(out, "Frühstück"), strings.Index(out, "Snack"))
	assert.Contains(t, out, "Zutaten: 250 g Kartoffeln, 0\\.5 Stück Quark")
	assert.Contains(t, out, "1\\. Kartoffeln schälen und würfeln")
	assert.Contains(t, out, "3\\. Kartoffeln abgießen")
	assert.Contains(t, out, "_Mild gewürzt_")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"kurz"}, splitMessage("kurz", 10))

	text := strings.Repeat("Zeile mit Text\n", 20)
	parts := splitMessage(text, 50)
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 50)
	}
	assert.Equal(t, strings.Count(text, "Zeile"), strings.Count(strings.Join(parts, "\n"), "Zeile"))

	long := strings.Repeat("ä", 40)
	for _, p := range splitMessage(long, 15) {
		assert.LessOrEqual(t, len(p), 15)
		assert.True(t, strings.HasPrefix(p, "ä"))
	}
}

func TestHandlePlan(t *testing.T) {
	service := &fakeService{result: &app.Generated{
		Result: &planner.Result{Plan: planner.MealPlan{Days: []planner.DayPlan{testDay("Montag"), testDay("Dienstag")}}},
		ShoppingList: shopping.List{Sections: []shopping.Section{{
			Category: planner.CategoryCarbohydrate,
			Items:    []shopping.Item{{Name: "Kartoffeln", Amount: 2000, Unit: planner.UnitGrams, Category: planner.CategoryCarbohydrate}},
		}}},
		PlanID: "plan-1",
	}}
	bot, sender := newTestBot(service)

	bot.processMessage(command("/plan p-001 2 schnell ohne Fleisch"))

	require.Len(t, service.requests, 1)
	req := service.requests[0]
	assert.Equal(t, "p-001", req.PatientID)
	assert.Equal(t, 2, req.Days)
	assert.True(t, req.Fast)
	assert.Equal(t, "ohne Fleisch", req.Notes)
	assert.True(t, req.Save)

	sent := sender.messages()
	assert.Equal(t, "⏳ Plan wird erstellt...", sent[0].(tgbotapi.MessageConfig).Text)

	// Progress edits may be coalesced; the latest one always lands before the final edit.
	var edits []tgbotapi.EditMessageTextConfig
	for _, c := range sent {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			edits = append(edits, e)
		}
	}
	require.GreaterOrEqual(t, len(edits), 2)
	progress := edits[len(edits)-2]
	assert.Equal(t, 1, progress.MessageID)
	assert.Equal(t, "⏳ Tag fertig (1/2): Montag\n[1/2]", progress.Text)
	assert.Contains(t, edits[len(edits)-1].Text, "Plan fertig: 2 Tage")

	// one message per day, then the shopping list
	rest := sent[len(sent)-3:]
	for i, label := range []string{"Montag", "Dienstag"} {
		day := rest[i].(tgbotapi.MessageConfig)
		assert.Equal(t, tgbotapi.ModeMarkdownV2, day.ParseMode)
		assert.Contains(t, day.Text, "*"+label+"*")
	}
	assert.Equal(t, "🛒 Einkaufsliste\n\n🍞 Kohlenhydrate\n• 2000 g Kartoffeln", rest[2].(tgbotapi.MessageConfig).Text)
}

// slowEditSender blocks message edits until release is closed.
type slowEditSender struct {
	fakeSender
	release chan struct{}
}

func (s *slowEditSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if _, ok := c.(tgbotapi.EditMessageTextConfig); ok {
		<-s.release
	}
	return s.fakeSender.Send(c)
}

// burstService reports several progress events and signals when generation returned.
type burstService struct {
	fakeService
	returned chan struct{}
}

func (s *burstService) GeneratePlan(_ context.Context, req app.GenerateRequest) (*app.Generated, error) {
	for i := 1; i <= 5; i++ {
		req.OnProgress(planner.Progress{
			Stage:     planner.StageDayCompleted,
			Message:   fmt.Sprintf("Tag fertig (%d/5)", i),
			Completed: i,
			Total:     5,
		})
	}
	close(s.returned)
	return nil, &planner.GenerationError{Code: planner.CodeDayGenerationFailed}
}

func TestHandlePlanProgressDoesNotWaitForTelegram(t *testing.T) {
	sender := &slowEditSender{release: make(chan struct{})}
	service := &burstService{returned: make(chan struct{})}
	bot := newBot(sender, service, []int64{42}, logger.Discard())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		bot.processMessage(command("/plan p-001"))
	}()

	select {
	case <-service.returned:
	case <-time.After(time.Second):
		t.Fatal("progress callback blocked on a pending message edit")
	}
	close(sender.release)
	<-finished

	var edits []string
	for _, c := range sender.messages() {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			edits = append(edits, e.Text)
		}
	}
	require.GreaterOrEqual(t, len(edits), 2)
	assert.LessOrEqual(t, len(edits), 6)
	assert.Equal(t, "⏳ Tag fertig (5/5)\n[5/5]", edits[len(edits)-2])
	assert.Equal(t, "❌ Die Planerstellung ist fehlgeschlagen. Bitte erneut versuchen.", edits[len(edits)-1])
}

func TestHandlePlanErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "not varied",
			err:  &planner.GenerationError{Code: planner.CodePlanNotVaried, Days: []string{"Dienstag"}},
			want: "❌ Der Plan enthielt zu viele wiederholte Gerichte. Bitte erneut versuchen.",
		},
		{
			name: "unknown patient",
			err:  fmt.Errorf("%w: p-001", patient.ErrNotFound),
			want: "❌ Unbekannter Patient: p-001",
		},
		{
			name: "day failure",
			err:  &planner.GenerationError{Code: planner.CodeDayGenerationFailed, Days: []string{"Montag"}},
			want: "❌ Die Planerstellung ist fehlgeschlagen. Bitte erneut versuchen.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, sender := newTestBot(&fakeService{err: tt.err})
			bot.processMessage(command("/plan p-001"))

			sent := sender.messages()
			last := sent[len(sent)-1].(tgbotapi.EditMessageTextConfig)
			assert.Equal(t, tt.want, last.Text)
			// Attempt details never reach the chat.
			assert.NotContains(t, last.Text, "Montag")
		})
	}
}

func TestHandlePlanMissingPatient(t *testing.T) {
	service := &fakeService{}
	bot, sender := newTestBot(service)

	bot.processMessage(command("/plan"))

	assert.Empty(t, service.requests)
	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].(tgbotapi.MessageConfig).Text, "Patienten-ID fehlt")
}

func TestPatientsAndMetricsCommands(t *testing.T) {
	bot, sender := newTestBot(&fakeService{})

	bot.processMessage(command("/patients"))
	bot.processMessage(command("/metrics"))

	sent := sender.messages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].(tgbotapi.MessageConfig).Text, "• p-001 (Jg. 1950, 64.5 → 62 kg, Sellerie)")

	report := sent[1].(tgbotapi.MessageConfig).Text
	assert.Contains(t, report, "• 2026-05-04: 1200 Tokens (3 Aufrufe, 1 fehlgeschlagen)")
	assert.Contains(t, report, "• success: 2")
	assert.Contains(t, report, "Goroutinen: 9")
}

func TestWebhook(t *testing.T) {
	update := func(userID int64) string {
		return fmt.Sprintf(`{"update_id":1,"message":{"message_id":5,"from":{"id":%d,"is_bot":false,"first_name":"A"},`+
			`"chat":{"id":%d,"type":"private"},"date":0,"text":"/patients",`+
			`"entities":[{"type":"bot_command","offset":0,"length":9}]}}`, userID, userID)
	}

	bot, sender := newTestBot(&fakeService{})
	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)

	t.Run("unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(update(7))))
		assert.Equal(t, http.StatusOK, rec.Code)
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, sender.messages())
	})

	t.Run("authorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(update(42))))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("malformed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})
}
