package planner

import (
	"fmt"
	"strings"
)

// FailureKind classifies why a single generation attempt was rejected.
type FailureKind string

const (
	FailureTimeout            FailureKind = "TIMEOUT"
	FailureEmptyOrTruncated   FailureKind = "EMPTY_OR_TRUNCATED"
	FailureTransport          FailureKind = "TRANSPORT_FAILURE"
	FailureParse              FailureKind = "PARSE_FAILURE"
	FailureSchemaInvalid      FailureKind = "SCHEMA_INVALID"
	FailureDayLabelMismatch   FailureKind = "DAY_LABEL_MISMATCH"
	FailureCalorieFloor       FailureKind = "CALORIE_FLOOR_VIOLATION"
	FailureDietaryRestriction FailureKind = "DIETARY_RESTRICTION_VIOLATION"
)

// AttemptError describes one rejected attempt. It is absorbed by the day generator
// and turned into the correction hint of the next attempt.
type AttemptError struct {
	Kind   FailureKind
	Day    string
	Detail string
	// Hint is the correction text threaded into the next prompt.
	Hint string
	Err  error
}

func (e *AttemptError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Day, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// DayError is returned when a day exhausted its whole attempt matrix.
type DayError struct {
	Day  string
	Last *AttemptError
}

func (e *DayError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s: generation failed", e.Day)
	}
	return fmt.Sprintf("%s: attempts exhausted, last failure %s: %s", e.Day, e.Last.Kind, e.Last.Detail)
}

func (e *DayError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

// ErrorCode identifies a terminal generation failure.
type ErrorCode string

const (
	CodeDayGenerationFailed ErrorCode = "DAY_GENERATION_FAILED"
	CodePlanNotVaried       ErrorCode = "PLAN_NOT_VARIED"
	CodePlanSchemaInvalid   ErrorCode = "PLAN_SCHEMA_INVALID"
)

// Sentinels for errors.Is checks against a *GenerationError.
var (
	ErrDayGenerationFailed = &GenerationError{Code: CodeDayGenerationFailed}
	ErrPlanNotVaried       = &GenerationError{Code: CodePlanNotVaried}
	ErrPlanSchemaInvalid   = &GenerationError{Code: CodePlanSchemaInvalid}
)

// GenerationError is the terminal failure of a whole plan generation.
type GenerationError struct {
	Code    ErrorCode
	Message string
	// Days lists the day labels involved, if any.
	Days []string
	Err  error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Days) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Days, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches any GenerationError carrying the same code.
func (e *GenerationError) Is(target error) bool {
	if t, ok := target.(*GenerationError); ok {
		return e.Code == t.Code
	}
	return false
}

// UserMessage is the generic text shown to end users; attempt details stay in the logs.
func (e *GenerationError) UserMessage() string {
	switch e.Code {
	case CodePlanNotVaried:
		return "Der Plan enthielt zu viele wiederholte Gerichte. Bitte erneut versuchen."
	default:
		return "Die Planerstellung ist fehlgeschlagen. Bitte erneut versuchen."
	}
}
