package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nutrition-planner/internal/shared"
)

const namespace = "nutrition_planner"

// Collector exposes generation metrics to Prometheus.
type Collector struct {
	attempts       *prometheus.CounterVec
	attemptSeconds *prometheus.HistogramVec
	plans          *prometheus.CounterVec
	tokens         *prometheus.CounterVec
}

// NewCollector registers the planner metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_attempts_total",
				Help:      "Model calls made while generating days, by outcome and prompt mode.",
			},
			[]string{"outcome", "mode"},
		),
		attemptSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_attempt_seconds",
				Help:      "Latency of single-day model calls.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 18, 25, 45, 60},
			},
			[]string{"mode"},
		),
		plans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_total",
				Help:      "Plan generation runs by result.",
			},
			[]string{"result"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens consumed by model calls.",
			},
			[]string{"kind"},
		),
	}
}

// RecordAttempt implements planner.Recorder.
func (c *Collector) RecordAttempt(_ context.Context, rec shared.AttemptRecord) error {
	c.attempts.WithLabelValues(rec.Outcome, rec.Mode).Inc()
	c.attemptSeconds.WithLabelValues(rec.Mode).Observe(rec.Meta.Latency.Seconds())
	c.tokens.WithLabelValues("prompt").Add(float64(rec.Meta.Usage.PromptTokens))
	c.tokens.WithLabelValues("completion").Add(float64(rec.Meta.Usage.CompletionTokens))
	return nil
}

// RecordPlan implements planner.Recorder.
func (c *Collector) RecordPlan(_ context.Context, rec shared.PlanRecord) error {
	c.plans.WithLabelValues(rec.Outcome).Inc()
	return nil
}

// Recorder is the sink interface shared by Store and Collector.
type Recorder interface {
	RecordAttempt(ctx context.Context, rec shared.AttemptRecord) error
	RecordPlan(ctx context.Context, rec shared.PlanRecord) error
}

// Multi fans records out to several recorders and joins their errors.
type Multi []Recorder

// RecordAttempt implements planner.Recorder.
func (m Multi) RecordAttempt(ctx context.Context, rec shared.AttemptRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordAttempt(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordPlan implements planner.Recorder.
func (m Multi) RecordPlan(ctx context.Context, rec shared.PlanRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordPlan(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
