package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

// TransientError is implemented by internal/llm provider errors that are
// safe to retry (connection reset, 5xx). Errors that don't implement it are
// treated as permanent.
type TransientError interface {
	error
	Temporary() bool
}

// RateLimitedError is implemented by internal/llm provider errors carrying
// a provider-supplied retry-after hint.
type RateLimitedError interface {
	error
	RetryAfter() time.Duration
}

func classify(err error) (retryable bool, retryAfter time.Duration) {
	var rl RateLimitedError
	if errors.As(err, &rl) {
		return true, rl.RetryAfter()
	}
	var te TransientError
	if errors.As(err, &te) {
		return te.Temporary(), 0
	}
	return false, 0
}

// ModelRetryMW retries a model call on transient errors (connection, 5xx,
// rate-limit with retry-after) with exponential backoff, up to maxAttempts.
// Grounded on the decorator shape of goadesign-goa-ai's limitedClient
// wrapping model.Client; retry/backoff mechanics use cenkalti/backoff/v5,
// a dependency already present transitively across the pack (teacher and
// vanducng-goclaw) that this module promotes to direct use.
type ModelRetryMW struct {
	Base
	MaxAttempts uint
}

func NewModelRetryMW(maxAttempts uint) *ModelRetryMW {
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	return &ModelRetryMW{MaxAttempts: maxAttempts}
}

func (m *ModelRetryMW) Name() string { return "model_retry" }

func (m *ModelRetryMW) WrapModel(ctx context.Context, state *reasoning.AgentState, next ModelFunc) (reasoning.ModelCompletion, error) {
	op := func() (reasoning.ModelCompletion, error) {
		completion, err := next(ctx, state)
		if err == nil {
			return completion, nil
		}
		retryable, retryAfter := classify(err)
		if !retryable {
			return completion, backoff.Permanent(err)
		}
		if retryAfter > 0 {
			// Honor the provider's explicit hint by waiting it out
			// here; the exponential backoff's own delay still follows.
			timer := time.NewTimer(retryAfter)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return completion, backoff.Permanent(ctx.Err())
			case <-timer.C:
			}
		}
		return completion, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithMaxTries(m.MaxAttempts),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
}

// ToolRetryMW retries a tool dispatch whose result string indicates a
// transient failure. Unlike ModelRetryMW, it cannot classify via Go error
// types: spec.md §4.3's failure semantics render every tool failure
// (ToolNotFound, SchemaViolation, Timeout, InternalError) as a plain result
// string, never a propagated error, so the only retry signal available at
// this boundary is the rendered message text from internal/errs.
type ToolRetryMW struct {
	Base
	MaxAttempts uint
	RetryNames  map[string]bool // tool names eligible for retry; nil = all
}

func NewToolRetryMW(maxAttempts uint) *ToolRetryMW {
	if maxAttempts == 0 {
		maxAttempts = 2
	}
	return &ToolRetryMW{MaxAttempts: maxAttempts}
}

func (m *ToolRetryMW) Name() string { return "tool_retry" }

func (m *ToolRetryMW) WrapTool(ctx context.Context, cc tool.CallContext, callID, name string, args map[string]any, next ToolFunc) string {
	if m.RetryNames != nil && !m.RetryNames[name] {
		return next(ctx, callID, name, args)
	}

	op := func() (string, error) {
		result := next(ctx, callID, name, args)
		if isTransientToolResult(result) {
			return "", errors.New(result)
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(m.MaxAttempts),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		// Every retry attempt exhausted: surface the last classified
		// failure text, matching the dispatcher's own string-only
		// failure contract.
		return err.Error()
	}
	return result
}

func isTransientToolResult(result string) bool {
	if !strings.HasPrefix(result, "Error: ") {
		return false
	}
	msg := strings.ToLower(result)
	for _, marker := range []string{"operation timed out", "rate limited", "connection"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
