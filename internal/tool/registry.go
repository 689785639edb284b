package tool

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/executive-assistant/ken/internal/errs"
	"github.com/executive-assistant/ken/internal/registry"
)

const (
	// DefaultTimeout is applied unless a tool overrides it (spec.md §4.3).
	DefaultTimeout = 45 * time.Second
	// ReminderLookupTimeout is the tighter bound for reminder-lookup tools.
	ReminderLookupTimeout = 25 * time.Second
)

// Registry holds every built-in and dynamically-loaded Tool, keyed by
// exact name, grounded on the teacher's pkg/tools.ToolRegistry wrapping
// registry.BaseRegistry[T].
type Registry struct {
	*registry.BaseRegistry[Tool]
	timeouts map[string]time.Duration

	mu   sync.Mutex
	loop *LoopBreakBuffer
}

// New returns an empty Registry. loop may be nil to disable loop-break
// recording (used by tests exercising dispatch in isolation).
func New(loop *LoopBreakBuffer) *Registry {
	return &Registry{
		BaseRegistry: registry.New[Tool](),
		timeouts:     map[string]time.Duration{},
		loop:         loop,
	}
}

// RegisterWithTimeout registers t and overrides its per-call timeout.
func (r *Registry) RegisterWithTimeout(t Tool, timeout time.Duration) error {
	if err := r.Register(t.Name, t); err != nil {
		return err
	}
	r.timeouts[t.Name] = timeout
	return nil
}

var normalizeRe = regexp.MustCompile(`[_\-\s]+`)

func normalize(name string) string {
	return strings.ToLower(normalizeRe.ReplaceAllString(name, ""))
}

// resolve implements dispatch step 1: exact lookup, then normalization
// fallback for model-produced aliases (strip underscores/dashes, squash
// lowercase).
func (r *Registry) resolve(name string) (Tool, bool) {
	if t, ok := r.Get(name); ok {
		return t, true
	}
	target := normalize(name)
	for _, t := range r.List() {
		if normalize(t.Name) == target {
			return t, true
		}
	}
	return Tool{}, false
}

// argAliases maps common model-produced argument misspellings onto the
// declared parameter name (dispatch step 2's "numresults→num_results"
// coercion).
var argAliases = map[string]string{
	"numresults": "num_results",
	"maxresults": "max_results",
	"queryterm":  "query",
	"filepath":   "path",
}

func coerceArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		key := k
		if canon, ok := argAliases[normalize(k)]; ok {
			key = canon
		}
		out[key] = coerceValue(v)
	}
	return out
}

// coerceValue handles the embedded-parser case where every value arrives
// as a string: strings are parsed as int, then float, then bool, with a
// verbatim-string fallback. Values that are already typed (from a
// native function-calling provider) pass through unchanged.
func coerceValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// Dispatch runs the full C3 dispatch contract and always returns a
// string: a successful result or an "Error: ..." single-line message.
// It never returns a non-nil error to the caller, by design (spec.md
// §4.3 failure semantics) — the reasoning loop stays deterministic.
func (r *Registry) Dispatch(ctx context.Context, cc CallContext, callID, name string, rawArgs map[string]any) string {
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer("ken.tool")
	ctx, span := tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	start := time.Now()
	t, ok := r.resolve(name)
	if !ok {
		err := errs.ToolNotFound("ToolDispatch", "Dispatch", name)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		r.record(cc.ThreadID, name, rawArgs, start)
		return err.Single()
	}

	args := coerceArgs(rawArgs)
	if violation := validateAgainstSchema(t.Schema, args); violation != "" {
		err := errs.SchemaViolation("ToolDispatch", t.Name, violation)
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema violation")
		r.record(cc.ThreadID, t.Name, args, start)
		return err.Single()
	}

	timeout := DefaultTimeout
	if d, ok := r.timeouts[t.Name]; ok {
		timeout = d
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cc.Context = callCtx

	content, err := r.callWithBoundary(cc, t, args)
	r.record(cc.ThreadID, t.Name, args, start)

	if err != nil {
		if callCtx.Err() != nil {
			te := errs.Timeout("ToolDispatch", t.Name)
			span.RecordError(te)
			span.SetStatus(codes.Error, "timeout")
			return te.Single()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e, ok := errs.As(err); ok {
			return e.Single()
		}
		slog.Error("tool handler error", "tool", t.Name, "error", err)
		return fmt.Sprintf("Error: %v", err)
	}
	span.SetStatus(codes.Ok, "")
	return content
}

// callWithBoundary wraps the handler call so a panicking handler still
// surfaces as an error result rather than crashing the reasoning loop
// (dispatch step 3's error boundary).
func (r *Registry) callWithBoundary(cc CallContext, t Tool, args map[string]any) (content string, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool handler panicked", "tool", t.Name, "panic", p)
			err = fmt.Errorf("internal error")
		}
	}()
	return t.Handler(cc, args)
}

func (r *Registry) record(threadID, toolName string, args map[string]any, at time.Time) {
	if r.loop == nil {
		return
	}
	r.loop.Record(threadID, toolName, signature(args), at)
}

// validateAgainstSchema performs a shallow required-property check; full
// type coercion already happened in coerceArgs.
func validateAgainstSchema(schema map[string]any, args map[string]any) string {
	if schema == nil {
		return ""
	}
	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, _ := r.(string)
		if name == "" {
			continue
		}
		if _, ok := args[name]; !ok {
			return fmt.Sprintf("missing required argument %q", name)
		}
	}
	return ""
}

// Signature exposes the same arg-signature part of the (thread, tool,
// arg-signature) key the Registry uses internally for loop-break
// recording, so
// middleware.ToolLoopBreaker can query LoopBreakBuffer.Count with the
// exact signature a subsequent Dispatch call will record under.
func Signature(args map[string]any) string {
	return signature(args)
}

// signature builds the arg-signature part of the (thread, tool,
// arg-signature) key ToolLoopBreaker (middleware C5) groups on, sorted so
// key ordering doesn't affect it.
func signature(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sortStrings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, args[k])
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// LoopBreakBuffer records recent tool invocations keyed by
// (thread, tool, arg-signature) so middleware.ToolLoopBreaker can detect
// retry loops within a trailing window (spec.md §4.5).
type LoopBreakBuffer struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string][]time.Time
}

// NewLoopBreakBuffer returns a buffer that retains entries for window.
func NewLoopBreakBuffer(window time.Duration) *LoopBreakBuffer {
	return &LoopBreakBuffer{window: window, entries: map[string][]time.Time{}}
}

func (b *LoopBreakBuffer) key(threadID, toolName, sig string) string {
	return threadID + "\x00" + toolName + "\x00" + sig
}

// Record appends an invocation timestamp and prunes entries outside window.
func (b *LoopBreakBuffer) Record(threadID, toolName, sig string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.key(threadID, toolName, sig)
	times := append(b.entries[k], at)
	cutoff := at.Add(-b.window)
	pruned := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	b.entries[k] = pruned
}

// Count returns how many invocations of (threadID, toolName, sig) fall
// within the trailing window as of now.
func (b *LoopBreakBuffer) Count(threadID, toolName, sig string, now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.key(threadID, toolName, sig)
	cutoff := now.Add(-b.window)
	n := 0
	for _, t := range b.entries[k] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
