package channel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/errs"
	"github.com/executive-assistant/ken/internal/storage"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, messages []domain.Message) (string, error) {
	s.calls++
	return s.summary, s.err
}

type stubStore struct {
	storage.RelationalStore
	pingErr error
}

func (s *stubStore) Ping(ctx context.Context) error { return s.pingErr }

func TestHTTPChannel_HandleMessage_IncludesThreadID(t *testing.T) {
	runner := &stubRunner{reply: "hi there"}
	d := NewDispatcher(runner, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, nil)
	h := NewHTTPChannel("", false, d, nil, nil)

	body := `{"conversation_id":"t1","user_id":"u1","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleMessage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "hi there", out["content"])
	assert.Equal(t, "t1", out["thread_id"])
}

func TestHTTPChannel_HandleMessage_LLMErrorClassifiedAs400(t *testing.T) {
	runner := &stubRunner{err: errs.LLM("llm", "Complete", "anthropic", "rate limited", nil)}
	d := NewDispatcher(runner, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, nil)
	h := NewHTTPChannel("", false, d, nil, nil)

	body := `{"conversation_id":"t1","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleMessage(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "llm_error", out["error"])
	assert.Equal(t, "anthropic", out["provider"])
}

func TestHTTPChannel_HandleMessage_RequireUser_MissingIs401(t *testing.T) {
	d := NewDispatcher(&stubRunner{}, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, nil)
	h := NewHTTPChannel("", true, d, nil, nil)

	body := `{"conversation_id":"t1","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleMessage(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPChannel_HandleMessageStream_EmitsThreadAndDoneMarkers(t *testing.T) {
	runner := &stubRunner{reply: "streamed reply"}
	d := NewDispatcher(runner, &stubWorkspaces{workspaceID: "ws-1"}, nil, nil, nil)
	h := NewHTTPChannel("", false, d, nil, nil)

	body := `{"conversation_id":"t1","content":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/message/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleMessageStream(rec, req)

	lines := scanLines(t, rec.Body)
	assert.Contains(t, lines, "data: [THREAD:t1]")
	assert.Contains(t, lines, "data: [DONE]")
}

func TestHTTPChannel_HandleSummarize_ReturnsSummary(t *testing.T) {
	summarizer := &stubSummarizer{summary: "a short summary"}
	h := NewHTTPChannel("", false, NewDispatcher(&stubRunner{}, &stubWorkspaces{}, nil, nil, nil), summarizer, nil)

	body := `{"text":"a very long document","max_length":50}`
	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleSummarize(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "a short summary", out["summary"])
	assert.Equal(t, 1, summarizer.calls)
}

func TestHTTPChannel_HandleSummarize_NilSummarizerIs503(t *testing.T) {
	h := NewHTTPChannel("", false, NewDispatcher(&stubRunner{}, &stubWorkspaces{}, nil, nil, nil), nil, nil)

	body := `{"text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleSummarize(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPChannel_HandleLive_AlwaysOK(t *testing.T) {
	h := NewHTTPChannel("", false, NewDispatcher(&stubRunner{}, &stubWorkspaces{}, nil, nil, nil), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	h.handleLive(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestHTTPChannel_HandleReady_PingsStore(t *testing.T) {
	h := NewHTTPChannel("", false, NewDispatcher(&stubRunner{}, &stubWorkspaces{}, nil, nil, nil), nil, &stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	h.handleReady(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPChannel_HandleReady_PingFailureIs503(t *testing.T) {
	h := NewHTTPChannel("", false, NewDispatcher(&stubRunner{}, &stubWorkspaces{}, nil, nil, nil), nil, &stubStore{pingErr: assert.AnError})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	h.handleReady(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func scanLines(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, sc.Err())
	return lines
}
