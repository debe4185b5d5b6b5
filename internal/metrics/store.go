package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nutrition-planner/internal/database"
	"nutrition-planner/internal/shared"
)

// PlanAgentName tags rows that summarise a whole plan run rather than one model call.
const PlanAgentName = "plan"

// ExecutionMetric records metadata for a single agent execution.
type ExecutionMetric struct {
	RunID     string
	AgentName string
	Day       string
	// Days is the plan length; set on plan rows only.
	Days             int
	Mode             string
	Attempt          int
	Outcome          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Timestamp        time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m ExecutionMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_metrics
			(run_id, agent_name, day_label, days, mode, attempt, outcome, model, prompt_tokens, completion_tokens, latency_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.AgentName, m.Day, m.Days, m.Mode, m.Attempt, m.Outcome, m.Model,
		m.PromptTokens, m.CompletionTokens, m.LatencyMS, database.FormatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution metric: %w", err)
	}
	return nil
}

// RecordAttempt stores one model call of a plan run.
func (s *Store) RecordAttempt(ctx context.Context, rec shared.AttemptRecord) error {
	m := MapUsage(rec.Meta.AgentName, rec.Meta.Usage, rec.Meta.Latency)
	m.RunID = rec.RunID
	m.Day = rec.Day
	m.Mode = rec.Mode
	m.Attempt = rec.Attempt
	m.Outcome = rec.Outcome
	return s.Record(ctx, m)
}

// RecordPlan stores the summary row of a plan run.
func (s *Store) RecordPlan(ctx context.Context, rec shared.PlanRecord) error {
	m := MapUsage(PlanAgentName, rec.Usage, rec.Duration)
	m.RunID = rec.RunID
	m.Mode = rec.Mode
	m.Outcome = rec.Outcome
	m.Days = rec.Days
	return s.Record(ctx, m)
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string
	TotalPrompt     int
	TotalCompletion int
	TotalExecution  int
	Failures        int
}

// GetDailyUsage retrieves model-call usage for the last N days, newest first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := database.FormatTime(time.Now().AddDate(0, 0, -days))
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(timestamp, 1, 10) AS day,
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COUNT(*),
		        COALESCE(SUM(CASE WHEN outcome NOT IN ('', 'success') THEN 1 ELSE 0 END), 0)
		 FROM execution_metrics
		 WHERE timestamp >= ? AND agent_name != ?
		 GROUP BY day
		 ORDER BY day DESC`, since, PlanAgentName)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.TotalPrompt, &u.TotalCompletion, &u.TotalExecution, &u.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// OutcomeCount is the number of plan runs that ended with one outcome.
type OutcomeCount struct {
	Outcome string
	Count   int
}

// GetPlanOutcomes counts plan runs per outcome over the last N days.
func (s *Store) GetPlanOutcomes(ctx context.Context, days int) ([]OutcomeCount, error) {
	since := database.FormatTime(time.Now().AddDate(0, 0, -days))
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM execution_metrics
		 WHERE timestamp >= ? AND agent_name = ?
		 GROUP BY outcome ORDER BY COUNT(*) DESC, outcome`, since, PlanAgentName)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan outcomes: %w", err)
	}
	defer rows.Close()

	var results []OutcomeCount
	for rows.Next() {
		var c OutcomeCount
		if err := rows.Scan(&c.Outcome, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan plan outcome: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := database.FormatTime(time.Now().AddDate(0, 0, -olderThanDays))
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_metrics WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up execution metrics: %w", err)
	}
	return res.RowsAffected()
}

// MapUsage helper to convert shared.TokenUsage to ExecutionMetric.
func MapUsage(agentName string, usage shared.TokenUsage, latency time.Duration) ExecutionMetric {
	return ExecutionMetric{
		AgentName:        agentName,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
		Timestamp:        time.Now(),
	}
}
