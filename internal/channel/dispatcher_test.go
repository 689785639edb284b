package channel

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/storage"
)

type stubChannel struct {
	mu   sync.Mutex
	name string
	sent []string

	typingCalls int
}

func (s *stubChannel) Name() string                                  { return s.name }
func (s *stubChannel) Start(ctx context.Context) error                { return nil }
func (s *stubChannel) Stop(ctx context.Context) error                 { return nil }
func (s *stubChannel) IsRunning() bool                                { return true }
func (s *stubChannel) Send(ctx context.Context, conversationID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, content)
	return nil
}
func (s *stubChannel) SendTyping(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typingCalls++
	return nil
}

func (s *stubChannel) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

type stubRunner struct {
	reply string
	err   error
	calls int
}

func (r *stubRunner) Run(ctx context.Context, msg domain.Message, progress ProgressFunc) (string, error) {
	r.calls++
	if progress != nil {
		progress(0, "example_tool")
	}
	return r.reply, r.err
}

type stubWorkspaces struct {
	workspaceID string
	err         error
}

func (w *stubWorkspaces) BindThread(ctx context.Context, threadID, userID string) (string, error) {
	return w.workspaceID, w.err
}

func TestDispatcher_PlainMessage_InvokesRunnerAndSends(t *testing.T) {
	runner := &stubRunner{reply: "hello there"}
	d := NewDispatcher(runner, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, nil)
	ch := &stubChannel{name: "test"}

	err := d.HandleInbound(context.Background(), ch, domain.Message{
		Content: "hi", UserID: "u1", ConversationID: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, []string{"hello there"}, ch.messages())
	assert.GreaterOrEqual(t, ch.typingCalls, 1)
}

func TestDispatcher_RunnerError_SendsApologyInsteadOfError(t *testing.T) {
	runner := &stubRunner{err: assert.AnError}
	d := NewDispatcher(runner, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, nil)
	ch := &stubChannel{name: "test"}

	err := d.HandleInbound(context.Background(), ch, domain.Message{Content: "hi", ConversationID: "t1"})
	require.NoError(t, err)
	require.Len(t, ch.messages(), 1)
	assert.Contains(t, ch.messages()[0], "something went wrong")
}

func TestDispatcher_UnknownAdminCommand(t *testing.T) {
	d := NewDispatcher(&stubRunner{}, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, nil)
	ch := &stubChannel{name: "test"}

	err := d.HandleInbound(context.Background(), ch, domain.Message{Content: "/bogus", ConversationID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Unknown command: /bogus"}, ch.messages())
}

func TestDispatcher_AdminCommand_DeniedForNonAdmin(t *testing.T) {
	d := NewDispatcher(&stubRunner{}, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, []string{"admin-1"})
	ch := &stubChannel{name: "test"}

	err := d.HandleInbound(context.Background(), ch, domain.Message{Content: "/reset all", UserID: "someone-else", ConversationID: "t1"})
	require.NoError(t, err)
	assert.Contains(t, ch.messages()[0], "don't have permission")
}

func TestDispatcher_ResetAll_ClearsWorkspaceAndWritesMarker(t *testing.T) {
	root := t.TempDir()
	router := storage.NewRouter(root)
	paths, err := router.Resolve("ws-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(paths.FilesRoot, "note.txt"), []byte("hi"), 0o644))

	cache := storage.NewConnCache()
	d := NewDispatcher(&stubRunner{}, &stubWorkspaces{workspaceID: "ws-1"}, router, cache, nil)
	ch := &stubChannel{name: "test"}

	err = d.HandleInbound(context.Background(), ch, domain.Message{Content: "/reset all", UserID: "u1", ConversationID: "t1"})
	require.NoError(t, err)
	assert.Contains(t, ch.messages()[0], "fully reset")

	has, err := storage.HasForceOnboardingMarker(router, "ws-1")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = os.Stat(filepath.Join(paths.FilesRoot, "note.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDispatcher_Reset_UsageMessageOnMissingArg(t *testing.T) {
	d := NewDispatcher(&stubRunner{}, &stubWorkspaces{workspaceID: "ws-1"}, storage.NewRouter(t.TempDir()), nil, nil)
	ch := &stubChannel{name: "test"}

	err := d.HandleInbound(context.Background(), ch, domain.Message{Content: "/reset", UserID: "u1", ConversationID: "t1"})
	require.NoError(t, err)
	assert.Contains(t, ch.messages()[0], "Usage: /reset")
}

func TestParseAdminCommand(t *testing.T) {
	cmd, args, ok := parseAdminCommand("/reset tdb")
	assert.True(t, ok)
	assert.Equal(t, "reset", cmd)
	assert.Equal(t, []string{"tdb"}, args)

	_, _, ok = parseAdminCommand("hello there")
	assert.False(t, ok)

	_, _, ok = parseAdminCommand("/")
	assert.False(t, ok)
}

func TestDispatcher_SameThread_SerializesConcurrentMessages(t *testing.T) {
	runner := &stubRunner{reply: "ok"}
	d := NewDispatcher(runner, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, nil)
	ch := &stubChannel{name: "test"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.HandleInbound(context.Background(), ch, domain.Message{Content: "hi", ConversationID: "same-thread"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, runner.calls)
	assert.Len(t, ch.messages(), 5)
}
