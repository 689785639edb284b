package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/executive-assistant/ken/internal/tool"
)

func TestToolLoopBreaker_BlocksAfterMaxRetries(t *testing.T) {
	buf := tool.NewLoopBreakBuffer(time.Minute)
	mw := NewToolLoopBreaker(buf, 2)
	cc := tool.CallContext{ThreadID: "thread-1"}
	args := map[string]any{"query": "same query"}

	calls := 0
	next := func(ctx context.Context, callID, name string, args map[string]any) string {
		calls++
		buf.Record(cc.ThreadID, name, tool.Signature(args), time.Now())
		return "result"
	}

	r1 := mw.WrapTool(context.Background(), cc, "c1", "search_web", args, next)
	assert.Equal(t, "result", r1)

	r2 := mw.WrapTool(context.Background(), cc, "c2", "search_web", args, next)
	assert.Equal(t, "result", r2)

	r3 := mw.WrapTool(context.Background(), cc, "c3", "search_web", args, next)
	assert.Contains(t, r3, "LOOP DETECTED")
	assert.Equal(t, 2, calls, "third call should have been blocked before reaching next")
}

func TestToolLoopBreaker_DifferentArgsDoNotCount(t *testing.T) {
	buf := tool.NewLoopBreakBuffer(time.Minute)
	mw := NewToolLoopBreaker(buf, 1)
	cc := tool.CallContext{ThreadID: "thread-1"}

	next := func(ctx context.Context, callID, name string, args map[string]any) string {
		buf.Record(cc.ThreadID, name, tool.Signature(args), time.Now())
		return "result"
	}

	r1 := mw.WrapTool(context.Background(), cc, "c1", "search_web", map[string]any{"query": "a"}, next)
	assert.Equal(t, "result", r1)

	r2 := mw.WrapTool(context.Background(), cc, "c2", "search_web", map[string]any{"query": "b"}, next)
	assert.Equal(t, "result", r2)
}

func TestToolLoopBreaker_NilBufferPassesThrough(t *testing.T) {
	mw := NewToolLoopBreaker(nil, 1)
	calls := 0
	next := func(ctx context.Context, callID, name string, args map[string]any) string {
		calls++
		return "result"
	}

	for i := 0; i < 5; i++ {
		r := mw.WrapTool(context.Background(), tool.CallContext{}, "c", "search_web", nil, next)
		assert.Equal(t, "result", r)
	}
	assert.Equal(t, 5, calls)
}

func TestGuidanceFor_PerToolFamily(t *testing.T) {
	assert.Contains(t, guidanceFor("write_file", 3), "write_file")
	assert.Contains(t, guidanceFor("insert_row", 3), "table-write")
	assert.Contains(t, guidanceFor("search_web", 3), "searches")
	assert.Contains(t, guidanceFor("some_other_tool", 3), "3+ times")
}
