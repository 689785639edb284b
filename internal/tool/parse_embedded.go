package tool

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/executive-assistant/ken/internal/domain"
)

// ErrMixedEmbeddedContent is the single retry instruction a caller
// surfaces when a model turn mixes prose with <function_calls> markup
// (ParseEmbeddedCalls returns ok=false) instead of a partial parse.
var ErrMixedEmbeddedContent = "Error: model returned mixed content with tool-call markup. Please retry."

var (
	// Some models emit <functioncalls> (no underscore) as the opening
	// tag while always closing with </function_calls>; both are accepted
	// per original_source/tests/test_embedded_tool_call_parsing.py.
	openTagRe  = regexp.MustCompile(`(?is)<\s*function_?calls[^>]*>`)
	closeTagRe = regexp.MustCompile(`(?is)</\s*function_?calls\s*>`)
	invokeRe   = regexp.MustCompile(`(?is)<invoke\s+name="([^"]*)"\s*>(.*?)</invoke>`)
	paramRe    = regexp.MustCompile(`(?is)<parameter\s+name="([^"]*)"(?:\s+string="(true|false)")?\s*>(.*?)</parameter>`)
)

// HasEmbeddedCalls reports whether content contains a <function_calls>
// (or <functioncalls>) block at all, used by the reasoning loop to decide
// whether to attempt embedded parsing before falling back to the
// provider's native function-calling output.
func HasEmbeddedCalls(content string) bool {
	return openTagRe.MatchString(content)
}

// ParseEmbeddedCalls extracts <invoke> blocks from content. If the block
// is interleaved with non-whitespace prose outside its boundaries, it
// returns ok=false and the caller should surface ErrMixedEmbeddedContent
// as the single tool result instead of executing anything.
func ParseEmbeddedCalls(content string) (calls []domain.ToolCall, ok bool) {
	openLoc := openTagRe.FindStringIndex(content)
	closeLoc := closeTagRe.FindStringIndex(content)
	if openLoc == nil || closeLoc == nil || closeLoc[0] < openLoc[1] {
		return nil, false
	}

	before := strings.TrimSpace(content[:openLoc[0]])
	after := strings.TrimSpace(content[closeLoc[1]:])
	if before != "" || after != "" {
		return nil, false
	}

	block := content[openLoc[1]:closeLoc[0]]
	for _, m := range invokeRe.FindAllStringSubmatch(block, -1) {
		name := m[1]
		body := m[2]
		args := map[string]any{}
		for _, p := range paramRe.FindAllStringSubmatch(body, -1) {
			paramName, isString, raw := p[1], p[2], strings.TrimSpace(p[3])
			if isString == "false" {
				args[paramName] = coerceEmbeddedValue(raw)
			} else {
				args[paramName] = raw
			}
		}
		calls = append(calls, domain.ToolCall{Name: name, Arguments: args})
	}
	return calls, true
}

// coerceEmbeddedValue implements the non-string coercion: JSON first (so
// numbers, booleans, and structured literals parse correctly), falling
// back to integer/boolean literal parsing, and finally the raw string.
func coerceEmbeddedValue(raw string) any {
	var asJSON any
	if err := json.Unmarshal([]byte(raw), &asJSON); err == nil {
		return asJSON
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
