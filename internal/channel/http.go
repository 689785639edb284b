package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/errs"
	"github.com/executive-assistant/ken/internal/logctx"
	"github.com/executive-assistant/ken/internal/storage"
)

// Summarizer is the narrow seam into the one-shot summarization endpoint
// (POST /summarize, spec.md §6.1): a single model call over caller-supplied
// text, with no agent state, tools, or middleware involved. Satisfied by
// llm.Registry.Summarizer's return value.
type Summarizer interface {
	Summarize(ctx context.Context, messages []domain.Message) (string, error)
}

// HTTPChannel exposes the runtime over plain HTTP: one synchronous
// request/response endpoint and one Server-Sent-Events streaming
// endpoint, both funneling through the shared Dispatcher. Grounded on
// the teacher's pkg/transport chi-based middleware chain (metrics/
// recovery wrapping), adapted away from that file's a2a-protocol
// request/response envelopes to this runtime's plain Message model.
type HTTPChannel struct {
	addr        string
	requireUser bool
	dispatcher  *Dispatcher
	summarizer  Summarizer
	store       storage.RelationalStore
	server      *http.Server

	mu      sync.Mutex
	running bool

	sinks sync.Map // conversationID+requestID -> *responseSink
}

// NewHTTPChannel builds an HTTPChannel listening on addr. If requireUser
// is set, requests without a user_id field are rejected. summarizer backs
// POST /summarize (nil disables the route); store backs the GET
// /health/ready database-connectivity probe (nil always reports ready).
func NewHTTPChannel(addr string, requireUser bool, dispatcher *Dispatcher, summarizer Summarizer, store storage.RelationalStore) *HTTPChannel {
	return &HTTPChannel{addr: addr, requireUser: requireUser, dispatcher: dispatcher, summarizer: summarizer, store: store}
}

func (h *HTTPChannel) Name() string { return "http" }

func (h *HTTPChannel) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Start builds the chi router and begins serving. It returns once the
// listener is up; ListenAndServe runs in a background goroutine.
func (h *HTTPChannel) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Post("/message", h.handleMessage)
	r.Post("/message/stream", h.handleMessageStream)
	r.Post("/summarize", h.handleSummarize)
	r.Get("/health", h.handleHealth)
	r.Get("/health/live", h.handleLive)
	r.Get("/health/ready", h.handleReady)

	h.server = &http.Server{Addr: h.addr, Handler: r}

	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logctx.From(ctx).Error("http channel listen failed", "error", err)
		}
	}()
	return nil
}

func (h *HTTPChannel) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	if h.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return h.server.Shutdown(shutdownCtx)
}

// Send writes content to whichever response sink is currently registered
// for conversationID. Outside of an in-flight request (no sink
// registered) this is a no-op, since there is no open connection to
// write to.
func (h *HTTPChannel) Send(ctx context.Context, conversationID, content string) error {
	v, ok := h.sinks.Load(conversationID)
	if !ok {
		return nil
	}
	return v.(sink).write(content)
}

type messageRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Content        string `json:"content"`
}

func (h *HTTPChannel) decodeRequest(w http.ResponseWriter, r *http.Request) (messageRequest, bool) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.ConversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return req, false
	}
	if h.requireUser && req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusUnauthorized)
		return req, false
	}
	return req, true
}

func (h *HTTPChannel) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	s := &bufferSink{}
	h.sinks.Store(req.ConversationID, sink(s))
	defer h.sinks.Delete(req.ConversationID)

	msg := domain.Message{
		Content:        req.Content,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Role:           "user",
		CreatedAt:      time.Now(),
		Metadata:       domain.Metadata{Channel: h.Name(), ChatType: "direct"},
	}

	reply, err := h.dispatcher.InvokeSync(r.Context(), h, msg)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	_ = s.write(reply)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"content": s.String(), "thread_id": req.ConversationID})
}

func (h *HTTPChannel) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s := &sseSink{w: w, flusher: flusher, canFlush: canFlush}
	h.sinks.Store(req.ConversationID, sink(s))
	defer h.sinks.Delete(req.ConversationID)

	msg := domain.Message{
		Content:        req.Content,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Role:           "user",
		CreatedAt:      time.Now(),
		Metadata:       domain.Metadata{Channel: h.Name(), ChatType: "direct"},
	}

	reply, err := h.dispatcher.InvokeSync(r.Context(), h, msg)
	if err != nil {
		writeDispatchErrorSSE(w, err)
		if canFlush {
			flusher.Flush()
		}
		return
	}
	_ = s.write(reply)

	// Terminal markers per spec.md §6.1, matching the original's raw
	// `data: [THREAD:{thread_id}]` / `data: [DONE]` frames rather than
	// typed SSE events.
	_, _ = fmt.Fprintf(w, "data: [THREAD:%s]\n\n", req.ConversationID)
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}

// writeDispatchError classifies a failed InvokeSync's error and renders
// it the way spec.md §6.1 documents: an errs.KindLLM failure becomes the
// 400 `llm_error` envelope callers can branch on; anything else is an
// opaque 500, matching the dispatch machinery's own "never leak internals"
// convention.
func writeDispatchError(w http.ResponseWriter, err error) {
	if e, ok := errs.As(err); ok && e.Kind == errs.KindLLM {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":    "llm_error",
			"message":  e.Message,
			"provider": e.Provider,
		})
		return
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func writeDispatchErrorSSE(w http.ResponseWriter, err error) {
	if e, ok := errs.As(err); ok && e.Kind == errs.KindLLM {
		_, _ = fmt.Fprintf(w, "event: error\ndata: {\"error\":\"llm_error\",\"message\":%q,\"provider\":%q}\n\n",
			e.Message, e.Provider)
		return
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type summarizeRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length"`
}

// handleSummarize answers POST /summarize by calling the configured
// summarization model directly with the caller's text, bypassing the
// agent/reasoning loop/middleware pipeline entirely (spec.md §6.1: "a
// utility endpoint that bypasses the agent for fast summarization",
// grounded on the original's `summarize` route).
func (h *HTTPChannel) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if h.summarizer == nil {
		http.Error(w, "summarization is not configured", http.StatusServiceUnavailable)
		return
	}

	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	maxLength := req.MaxLength
	if maxLength <= 0 {
		maxLength = 200
	}

	instruction := fmt.Sprintf(
		"Summarize the following text in no more than %d characters. Be concise and capture the key points.",
		maxLength)
	summary, err := h.summarizer.Summarize(r.Context(), []domain.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: req.Text},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(summary) > maxLength {
		summary = summary[:maxLength]
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"summary": summary})
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleLive answers the Kubernetes liveness probe (spec.md §6.1
// `/health/live`): the process is up, full stop, no dependency checks.
func (h *HTTPChannel) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"alive"}`))
}

// handleReady answers the readiness probe by pinging the relational
// store (spec.md §6.1 "verifies DB connectivity"); a store-less channel
// (e.g. tests) always reports ready.
func (h *HTTPChannel) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","checks":{"database":"unconfigured"}}`))
		return
	}

	if err := h.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready","checks":{"database":"unhealthy"}}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready","checks":{"database":"healthy"}}`))
}

// sink is the write side a response writer exposes to Send.
type sink interface {
	write(content string) error
}

// bufferSink accumulates chunks for a single synchronous JSON response.
type bufferSink struct {
	mu    sync.Mutex
	parts []string
}

func (s *bufferSink) write(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, content)
	return nil
}

func (s *bufferSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.parts, "\n\n")
}

// sseSink writes each chunk as its own Server-Sent Event, flushed
// immediately so a streaming client sees it as soon as it's produced.
type sseSink struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	flusher  http.Flusher
	canFlush bool
}

func (s *sseSink) write(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	escaped := strings.ReplaceAll(content, "\n", "\\n")
	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", escaped); err != nil {
		return err
	}
	if s.canFlush {
		s.flusher.Flush()
	}
	return nil
}
