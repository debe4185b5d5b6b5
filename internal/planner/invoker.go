package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutrition-planner/internal/llm"
)

const (
	hintSlow      = "Die letzte Anfrage war zu langsam oder fehlerhaft. Antworte schnell und exakt nur als JSON-Objekt."
	hintEmpty     = "Die letzte Antwort war leer. Gib ein vollständiges JSON-Objekt im exakt geforderten Format zurück."
	hintTruncated = "Die letzte Antwort war abgeschnitten. Gib ein kompaktes, vollständiges JSON im exakt geforderten Format zurück."
)

type invocation struct {
	resp llm.ContentResponse
	err  error
}

// invoke races one model call against timeout. A call that loses the race is
// abandoned: its context is cancelled and whatever it eventually returns is dropped.
// Rejections come back as *AttemptError; cancellation of ctx is returned as is.
func invoke(ctx context.Context, gen llm.TextGenerator, req llm.Request, timeout time.Duration) (llm.ContentResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned call can always deliver and exit.
	done := make(chan invocation, 1)
	go func() {
		resp, err := gen.GenerateContent(callCtx, req)
		done <- invocation{resp: resp, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return llm.ContentResponse{}, ctx.Err()
	case <-timer.C:
		return llm.ContentResponse{}, timeoutError(timeout, nil)
	case inv := <-done:
		if inv.err != nil {
			if ctx.Err() != nil {
				return inv.resp, ctx.Err()
			}
			if errors.Is(inv.err, context.DeadlineExceeded) {
				return inv.resp, timeoutError(timeout, inv.err)
			}
			return inv.resp, &AttemptError{
				Kind:   FailureTransport,
				Detail: "model call failed",
				Hint:   hintSlow,
				Err:    inv.err,
			}
		}
		if strings.TrimSpace(inv.resp.Content) == "" {
			return inv.resp, &AttemptError{Kind: FailureEmptyOrTruncated, Detail: "empty response", Hint: hintEmpty}
		}
		if inv.resp.Truncated() {
			return inv.resp, &AttemptError{
				Kind:   FailureEmptyOrTruncated,
				Detail: fmt.Sprintf("response truncated at %d tokens", req.MaxTokens),
				Hint:   hintTruncated,
			}
		}
		return inv.resp, nil
	}
}

func timeoutError(timeout time.Duration, err error) *AttemptError {
	return &AttemptError{
		Kind:   FailureTimeout,
		Detail: fmt.Sprintf("no response within %s", timeout),
		Hint:   hintSlow,
		Err:    err,
	}
}
