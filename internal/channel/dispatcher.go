package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/logctx"
	"github.com/executive-assistant/ken/internal/storage"
)

// WorkspaceResolver is the narrow seam into C1 the admin-command fast
// path needs: turning an inbound envelope's (thread, user) into the
// workspace_id that owns its storage, without importing internal/identity
// and risking an import cycle back into channel from a future identity
// dependency.
type WorkspaceResolver interface {
	BindThread(ctx context.Context, threadID, userID string) (string, error)
}

// typingInterval is how often the activity indicator is refreshed while
// the agent is working (spec.md §4.6).
const typingInterval = 4 * time.Second

// Dispatcher is the shared inbound/outbound pipeline every Channel
// adapter funnels through: admin-command fast path, per-thread
// serialization, typing indicator, agent invocation, and outbound
// splitting. One Dispatcher is shared by every Channel instance in a
// process.
type Dispatcher struct {
	Runner      AgentRunner
	Workspaces  WorkspaceResolver
	Router      *storage.Router
	Cache       *storage.ConnCache
	AdminUserIDs map[string]bool

	mu          sync.Mutex
	threadLocks map[string]*sync.Mutex
}

// NewDispatcher builds a Dispatcher. adminUserIDs lists the canonical
// user IDs permitted to run `/reset` and other management commands.
func NewDispatcher(runner AgentRunner, workspaces WorkspaceResolver, router *storage.Router, cache *storage.ConnCache, adminUserIDs []string) *Dispatcher {
	admins := make(map[string]bool, len(adminUserIDs))
	for _, id := range adminUserIDs {
		admins[id] = true
	}
	return &Dispatcher{
		Runner:       runner,
		Workspaces:   workspaces,
		Router:       router,
		Cache:        cache,
		AdminUserIDs: admins,
		threadLocks:  make(map[string]*sync.Mutex),
	}
}

// lockThread returns the mutex serializing processing for threadID,
// creating it on first use. Per-thread message processing is serialized
// per spec.md §5; across threads there are no ordering guarantees, so a
// single shared lock would needlessly serialize unrelated conversations.
func (d *Dispatcher) lockThread(threadID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.threadLocks[threadID]
	if !ok {
		l = &sync.Mutex{}
		d.threadLocks[threadID] = l
	}
	return l
}

// HandleInbound normalizes and processes one inbound envelope on behalf
// of ch, replying via ch.Send once a response (agent or admin-command
// result) is ready. It never returns an error for agent-side failures —
// those are rendered as a channel-visible message — only for failures in
// the dispatch machinery itself (e.g. Send failing). Fire-and-forget
// channels (Telegram, Discord) use this; a channel that needs the raw
// agent error to report back to its own caller (HTTPChannel) should use
// InvokeSync instead.
func (d *Dispatcher) HandleInbound(ctx context.Context, ch Channel, msg domain.Message) error {
	reply, err := d.InvokeSync(ctx, ch, msg)
	if err != nil {
		logctx.From(ctx).Error("agent run failed", "error", err)
		reply = "Sorry, something went wrong handling that message."
	}
	return d.sendFormatted(ctx, ch, msg.ConversationID, reply)
}

// InvokeSync runs the admin-command fast path or one agent turn for msg
// and returns its reply text, propagating a Runner.Run failure unwrapped
// (unlike HandleInbound, which swallows it into a generic apology) so a
// synchronous caller can classify and report the failure itself.
func (d *Dispatcher) InvokeSync(ctx context.Context, ch Channel, msg domain.Message) (string, error) {
	lock := d.lockThread(msg.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	ctx, _ = logctx.WithRequest(ctx, logctx.RequestAttrs{
		ThreadID: msg.ConversationID,
		Channel:  ch.Name(),
	})

	if cmd, args, ok := parseAdminCommand(msg.Content); ok {
		return d.handleAdminCommand(ctx, msg, cmd, args), nil
	}

	stopTyping := d.startTyping(ctx, ch, msg.ConversationID)
	defer stopTyping()

	progress := func(stepIndex int, toolName string) {
		if reporter, ok := ch.(ToolProgressReporter); ok {
			reporter.ReportToolProgress(ctx, msg.ConversationID, stepIndex, toolName)
		}
	}

	return d.Runner.Run(ctx, msg, progress)
}

// startTyping sends ch's activity indicator once, then starts a goroutine
// refreshing it every 4s, if ch implements ActivityIndicator. The returned
// func stops it. Best-effort: errors from SendTyping are ignored.
func (d *Dispatcher) startTyping(ctx context.Context, ch Channel, conversationID string) func() {
	indicator, ok := ch.(ActivityIndicator)
	if !ok {
		return func() {}
	}

	_ = indicator.SendTyping(ctx, conversationID)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = indicator.SendTyping(ctx, conversationID)
			}
		}
	}()
	return func() { close(done) }
}

// sendFormatted splits content at the channel's configured limit (or
// DefaultMaxMessageLength if the channel doesn't report one) and sends
// each chunk in order.
func (d *Dispatcher) sendFormatted(ctx context.Context, ch Channel, conversationID, content string) error {
	maxLen := DefaultMaxMessageLength
	if limiter, ok := ch.(interface{ MaxMessageLength() int }); ok {
		if l := limiter.MaxMessageLength(); l > 0 {
			maxLen = l
		}
	}
	for _, chunk := range Split(content, maxLen) {
		if err := ch.Send(ctx, conversationID, chunk); err != nil {
			return fmt.Errorf("channel %s: send: %w", ch.Name(), err)
		}
	}
	return nil
}

// parseAdminCommand reports whether content is a `/`-prefixed admin
// command and, if so, its command word and remaining arguments.
func parseAdminCommand(content string) (cmd string, args []string, ok bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// handleAdminCommand executes an admin command and returns the text to
// reply with. Unknown commands and permission failures are reported back
// to the channel rather than silently dropped, matching the rest of the
// runtime's "never propagate raw errors, always explain" convention.
func (d *Dispatcher) handleAdminCommand(ctx context.Context, msg domain.Message, cmd string, args []string) string {
	if len(d.AdminUserIDs) > 0 && !d.AdminUserIDs[msg.UserID] {
		return "You don't have permission to run admin commands."
	}

	switch cmd {
	case "reset":
		return d.handleReset(ctx, msg, args)
	default:
		return fmt.Sprintf("Unknown command: /%s", cmd)
	}
}

func (d *Dispatcher) handleReset(ctx context.Context, msg domain.Message, args []string) string {
	if len(args) == 0 {
		return "Usage: /reset tdb|vdb|files|mem|all"
	}
	kind := strings.ToLower(args[0])
	switch kind {
	case storage.ResetRelational, storage.ResetVector, storage.ResetFiles, storage.ResetMemory, storage.ResetAll:
	default:
		return "Usage: /reset tdb|vdb|files|mem|all"
	}

	workspaceID, err := d.Workspaces.BindThread(ctx, msg.ConversationID, msg.UserID)
	if err != nil {
		return "Couldn't resolve your workspace to reset."
	}

	if err := storage.Reset(d.Router, d.Cache, workspaceID, kind); err != nil {
		logctx.From(ctx).Error("admin reset failed", "kind", kind, "error", err)
		return fmt.Sprintf("Reset failed: %v", err)
	}

	if kind == storage.ResetAll {
		return "Workspace fully reset. Starting fresh — you'll be taken through onboarding again."
	}
	return fmt.Sprintf("Reset %s for this workspace.", kind)
}
