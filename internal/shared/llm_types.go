package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// Add returns the sum of two usages. The model of u wins unless it is empty.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	model := u.Model
	if model == "" {
		model = other.Model
	}
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		Model:            model,
	}
}

// AgentMeta holds operational metadata for an agent execution.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
}

// AttemptRecord describes a single model call made while generating one day of a plan.
type AttemptRecord struct {
	RunID   string
	Day     string
	Mode    string
	Attempt int
	// Outcome is "success" or the failure kind of the attempt (e.g. "TIMEOUT").
	Outcome string
	Meta    AgentMeta
}

// PlanRecord summarises one whole plan generation run.
type PlanRecord struct {
	RunID     string
	PatientID string
	Days      int
	Mode      string
	// Outcome is "success" or the terminal error code.
	Outcome  string
	Usage    TokenUsage
	Duration time.Duration
}
