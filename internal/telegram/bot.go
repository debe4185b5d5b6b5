package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nutrition-planner/internal/app"
	"nutrition-planner/internal/config"
	"nutrition-planner/internal/metrics"
	"nutrition-planner/internal/patient"
	"nutrition-planner/internal/planner"
)

// planTimeout bounds one /plan command including the fallback pass.
const planTimeout = 10 * time.Minute

// Sender is the part of the Telegram API the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Service is the application surface the bot drives.
type Service interface {
	GeneratePlan(ctx context.Context, req app.GenerateRequest) (*app.Generated, error)
	Patients(ctx context.Context) ([]patient.Profile, error)
	Usage(ctx context.Context, days int) ([]metrics.DailyUsage, []metrics.OutcomeCount, error)
	Health() metrics.SysHealth
}

// Bot wraps the Telegram API and the planning service.
type Bot struct {
	api     Sender
	service Service
	allowed map[int64]bool
	logger  *slog.Logger
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, service Service, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	logger.Info("Authorized on account", "username", api.Self.UserName)

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %s: %w", cfg.TelegramWebhookURL, err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	logger.Info("Webhook set", "description", resp.Description)

	return newBot(api, service, cfg.TelegramAllowedUserIDs, logger), nil
}

func newBot(api Sender, service Service, allowedIDs []int64, logger *slog.Logger) *Bot {
	allowed := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}
	return &Bot{api: api, service: service, allowed: allowed, logger: logger}
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("Error parsing update", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.allowed[msg.From.ID] {
		b.logger.Warn("Unauthorized access attempt", "user_id", msg.From.ID, "username", msg.From.UserName)
		return
	}

	go b.processMessage(msg)
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "plan":
		b.handlePlan(msg.Chat.ID, msg.CommandArguments())
	case "patients":
		b.handlePatients(msg.Chat.ID)
	case "metrics":
		b.handleMetrics(msg.Chat.ID)
	default:
		b.send(tgbotapi.NewMessage(msg.Chat.ID, helpText))
	}
}

const helpText = "Befehle:\n" +
	"/plan <PatientID> [Tage] [schnell] [Hinweise]\n" +
	"/patients\n" +
	"/metrics"

// planCommand holds the parsed arguments of /plan.
type planCommand struct {
	patientID string
	days      int
	fast      bool
	notes     string
}

func parsePlanCommand(args string) (planCommand, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return planCommand{}, false
	}
	cmd := planCommand{patientID: fields[0]}
	rest := fields[1:]

	if len(rest) > 0 {
		if n, err := strconv.Atoi(rest[0]); err == nil {
			cmd.days = n
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		switch strings.ToLower(rest[0]) {
		case "schnell", "fast":
			cmd.fast = true
			rest = rest[1:]
		}
	}
	cmd.notes = strings.Join(rest, " ")
	return cmd, true
}

func (b *Bot) handlePlan(chatID int64, args string) {
	cmd, ok := parsePlanCommand(args)
	if !ok {
		b.send(tgbotapi.NewMessage(chatID, "Patienten-ID fehlt.\n\n"+helpText))
		return
	}

	status, err := b.api.Send(tgbotapi.NewMessage(chatID, "⏳ Plan wird erstellt..."))
	if err != nil {
		b.logger.Error("Failed to send status message", "chat_id", chatID, "error", err)
		return
	}
	editStatus := func(text string) {
		b.send(tgbotapi.NewEditMessageText(chatID, status.MessageID, text))
	}
	editor := newStatusEditor(editStatus)

	ctx, cancel := context.WithTimeout(context.Background(), planTimeout)
	defer cancel()

	out, err := b.service.GeneratePlan(ctx, app.GenerateRequest{
		PatientID:  cmd.patientID,
		Days:       cmd.days,
		Fast:       cmd.fast,
		Notes:      cmd.notes,
		Save:       true,
		OnProgress: func(p planner.Progress) { editor.post(formatProgress(p)) },
	})
	editor.stop()
	if err != nil {
		b.logger.Error("Error generating plan", "patient_id", cmd.patientID, "error", err)
		editStatus(userError(err, cmd.patientID))
		return
	}

	editStatus(fmt.Sprintf("✅ Plan fertig: %d Tage für %s", len(out.Plan.Days), cmd.patientID))
	for _, day := range out.Plan.Days {
		for _, part := range splitMessage(formatDay(day), maxMessageLength) {
			m := tgbotapi.NewMessage(chatID, part)
			m.ParseMode = tgbotapi.ModeMarkdownV2
			b.send(m)
		}
	}
	if out.ShoppingList.Len() > 0 {
		for _, part := range splitMessage(formatShoppingList(out.ShoppingList), maxMessageLength) {
			b.send(tgbotapi.NewMessage(chatID, part))
		}
	}
}

// statusEditor applies status edits on its own goroutine so progress callbacks never
// wait for Telegram. Only the latest pending text is kept.
type statusEditor struct {
	updates chan string
	done    chan struct{}
}

func newStatusEditor(edit func(string)) *statusEditor {
	e := &statusEditor{updates: make(chan string, 1), done: make(chan struct{})}
	go func() {
		defer close(e.done)
		for text := range e.updates {
			edit(text)
		}
	}()
	return e
}

// post queues text, replacing an edit that has not been picked up yet.
// It must not be called concurrently or after stop.
func (e *statusEditor) post(text string) {
	for {
		select {
		case e.updates <- text:
			return
		default:
		}
		select {
		case <-e.updates:
		default:
		}
	}
}

// stop waits until the last posted text has been applied.
func (e *statusEditor) stop() {
	close(e.updates)
	<-e.done
}

func userError(err error, patientID string) string {
	if errors.Is(err, patient.ErrNotFound) {
		return fmt.Sprintf("❌ Unbekannter Patient: %s", patientID)
	}
	var genErr *planner.GenerationError
	if errors.As(err, &genErr) {
		return "❌ " + genErr.UserMessage()
	}
	return "❌ Die Planerstellung ist fehlgeschlagen. Bitte erneut versuchen."
}

func (b *Bot) handlePatients(chatID int64) {
	profiles, err := b.service.Patients(context.Background())
	if err != nil {
		b.logger.Error("Failed to list patients", "error", err)
		b.send(tgbotapi.NewMessage(chatID, "❌ Patienten konnten nicht geladen werden."))
		return
	}
	b.send(tgbotapi.NewMessage(chatID, formatPatients(profiles)))
}

func (b *Bot) handleMetrics(chatID int64) {
	usage, outcomes, err := b.service.Usage(context.Background(), 7)
	if err != nil {
		b.logger.Error("Failed to fetch metrics", "error", err)
		b.send(tgbotapi.NewMessage(chatID, "❌ Fehler beim Laden der Metriken."))
		return
	}
	b.send(tgbotapi.NewMessage(chatID, formatMetrics(usage, outcomes, b.service.Health())))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("Failed to send telegram message", "error", err)
	}
}
