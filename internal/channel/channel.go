// Package channel implements the Channel Adapter Layer (C6): inbound
// envelope normalization, outbound splitting/formatting, typing/progress
// signaling, and the admin-command fast path that bypasses the agent.
//
// Adapted from the teacher's pkg/server (lifecycle shape) and, for the
// concrete transport adapters, from vanducng-goclaw's internal/channels
// package (Channel/BaseChannel/DMPolicy shape) — the teacher's own
// pkg/server/http.go is coupled to the a2a protocol and isn't a fit for a
// plain multi-channel adapter layer.
package channel

import (
	"context"

	"github.com/executive-assistant/ken/internal/domain"
)

// Channel is the interface every transport adapter (HTTP, Telegram,
// Discord, ...) implements. Per spec.md §4.6 a channel exposes
// start/stop lifecycle, outbound send, and inbound handling; inbound
// handling is adapter-specific (an HTTP handler, a long-poll loop, a
// gateway event callback) and funnels into a shared Dispatcher rather
// than being part of this interface.
type Channel interface {
	// Name identifies the channel ("http", "telegram", "discord", ...),
	// and is stored on outbound Message.Metadata.Channel.
	Name() string

	// Start begins listening for inbound traffic. Implementations that
	// are request-driven (HTTP) may treat this as a no-op beyond marking
	// themselves running; poll/gateway-driven channels spawn a goroutine
	// and return once set up.
	Start(ctx context.Context) error

	// Stop gracefully shuts the channel down, waiting for any
	// in-flight Start goroutine to exit.
	Stop(ctx context.Context) error

	// Send delivers content to conversationID. Callers are expected to
	// have already run the content through Split; an implementation may
	// translate markdown to its own dialect (TelegramChannel does).
	Send(ctx context.Context, conversationID, content string) error

	// IsRunning reports whether Start has completed and Stop has not
	// yet been called.
	IsRunning() bool
}

// ActivityIndicator is an optional Channel extension for transports that
// support a "typing"/"is working" signal. Dispatcher refreshes this every
// 4s while the agent runs, per spec.md §4.6.
type ActivityIndicator interface {
	SendTyping(ctx context.Context, conversationID string) error
}

// ToolProgressReporter is an optional Channel extension for transports
// that can render a transient per-tool-call status. Best-effort: agent
// correctness must never depend on delivery (spec.md §4.6).
type ToolProgressReporter interface {
	ReportToolProgress(ctx context.Context, conversationID string, stepIndex int, toolName string)
}

// ProgressFunc is invoked once per tool call the agent makes during a
// turn, in call order. Dispatcher forwards it to the originating
// Channel's ToolProgressReporter, if implemented.
type ProgressFunc func(stepIndex int, toolName string)

// AgentRunner is the narrow seam C6 uses to reach C1 (identity) → C2
// (storage context) → C5 (middleware) → C4 (reasoning loop), without this
// package importing any of them directly. cmd/ken supplies the concrete
// implementation once every component is wired. Run resolves workspace
// and thread from msg, loads/creates AgentState, executes the reasoning
// loop to completion, and returns the final assistant-visible text.
type AgentRunner interface {
	Run(ctx context.Context, msg domain.Message, progress ProgressFunc) (string, error)
}
